package documentpair

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/sahilchouksey/exam-extract-api/model"
	"github.com/sahilchouksey/exam-extract-api/services"
	"github.com/sahilchouksey/exam-extract-api/services/digitalocean"
	"github.com/sahilchouksey/exam-extract-api/utils/pdfvalidation"
	"github.com/sahilchouksey/exam-extract-api/utils/response"
	"github.com/sahilchouksey/exam-extract-api/utils/validation"
)

// DocumentPairHandler handles document pair upload and conversion requests
type DocumentPairHandler struct {
	db           *gorm.DB
	spaces       *digitalocean.SpacesClient
	orchestrator *services.ConversionOrchestrator
}

// NewDocumentPairHandler creates a new document pair handler
func NewDocumentPairHandler(db *gorm.DB, spaces *digitalocean.SpacesClient, orchestrator *services.ConversionOrchestrator) *DocumentPairHandler {
	return &DocumentPairHandler{
		db:           db,
		spaces:       spaces,
		orchestrator: orchestrator,
	}
}

// UploadPair handles POST /api/v1/pairs
// Accepts a questions booklet and its matching solutions booklet in one
// multipart request; both must validate as PDFs before anything is stored.
func (h *DocumentPairHandler) UploadPair(c *fiber.Ctx) error {
	questionsFile, err := c.FormFile("questions_file")
	if err != nil {
		return response.BadRequest(c, "questions_file is required")
	}
	solutionsFile, err := c.FormFile("solutions_file")
	if err != nil {
		return response.BadRequest(c, "solutions_file is required")
	}

	examName := validation.SanitizeString(c.FormValue("exam_name"))
	if examName == "" {
		return response.BadRequest(c, "exam_name is required")
	}

	year := 0
	if yearStr := c.FormValue("year"); yearStr != "" {
		year, err = strconv.Atoi(yearStr)
		if err != nil || year < 1900 || year > 2100 {
			return response.BadRequest(c, "Invalid year")
		}
	}
	paperType := validation.SanitizeString(c.FormValue("paper_type"))

	var expectedTitles datatypes.JSON
	if titlesStr := c.FormValue("expected_titles"); titlesStr != "" {
		var titles []string
		if err := json.Unmarshal([]byte(titlesStr), &titles); err != nil {
			return response.BadRequest(c, "expected_titles must be a JSON array of strings")
		}
		expectedTitles = datatypes.JSON(titlesStr)
	}

	qResult, err := pdfvalidation.ValidatePDFFile(questionsFile, pdfvalidation.QuestionBookletLimits)
	if err != nil {
		return response.InternalServerError(c, "Failed to validate questions booklet")
	}
	if !qResult.Valid {
		return response.BadRequest(c, "Questions booklet: "+qResult.Error)
	}

	sResult, err := pdfvalidation.ValidatePDFFile(solutionsFile, pdfvalidation.SolutionBookletLimits)
	if err != nil {
		return response.InternalServerError(c, "Failed to validate solutions booklet")
	}
	if !sResult.Valid {
		return response.BadRequest(c, "Solutions booklet: "+sResult.Error)
	}

	questionsKey := digitalocean.GenerateKey("exam-pairs/questions", questionsFile.Filename)
	solutionsKey := digitalocean.GenerateKey("exam-pairs/solutions", solutionsFile.Filename)

	questionsURL, err := h.uploadBooklet(c, questionsFile, questionsKey)
	if err != nil {
		return response.InternalServerError(c, "Failed to store questions booklet")
	}
	solutionsURL, err := h.uploadBooklet(c, solutionsFile, solutionsKey)
	if err != nil {
		return response.InternalServerError(c, "Failed to store solutions booklet")
	}

	pair := model.DocumentPair{
		ExamName:         examName,
		Year:             year,
		PaperType:        paperType,
		QuestionsFileKey: questionsKey,
		QuestionsFileURL: questionsURL,
		SolutionsFileKey: solutionsKey,
		SolutionsFileURL: solutionsURL,
		Status:           model.DocumentPairPending,
		ExpectedTitles:   expectedTitles,
	}
	if err := h.db.Create(&pair).Error; err != nil {
		return response.InternalServerError(c, "Failed to create document pair")
	}

	return response.Created(c, pair.ToResponse())
}

func (h *DocumentPairHandler) uploadBooklet(c *fiber.Ctx, file *multipart.FileHeader, key string) (string, error) {
	f, err := file.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	return h.spaces.UploadFile(c.Context(), key, f, "application/pdf")
}

// GetPair handles GET /api/v1/pairs/:id
func (h *DocumentPairHandler) GetPair(c *fiber.Ctx) error {
	pairID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "Invalid pair ID")
	}

	var pair model.DocumentPair
	if err := h.db.Preload("Images").Preload("Questions").First(&pair, pairID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return response.NotFound(c, "Document pair not found")
		}
		return response.InternalServerError(c, "Failed to fetch document pair")
	}

	return response.Success(c, pair.ToResponse())
}

// ListPairs handles GET /api/v1/pairs with pagination and optional status filter
func (h *DocumentPairHandler) ListPairs(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	query := h.db.Model(&model.DocumentPair{})
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return response.InternalServerError(c, "Failed to count document pairs")
	}

	var pairs []model.DocumentPair
	if err := query.Order("created_at DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&pairs).Error; err != nil {
		return response.InternalServerError(c, "Failed to fetch document pairs")
	}

	results := make([]*model.DocumentPairResponse, len(pairs))
	for i := range pairs {
		results[i] = pairs[i].ToResponse()
	}

	return response.Paginated(c, results, response.CalculatePagination(page, limit, total))
}

// DeletePair handles DELETE /api/v1/pairs/:id
// Pairs with an active conversion cannot be deleted.
func (h *DocumentPairHandler) DeletePair(c *fiber.Ctx) error {
	pairID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "Invalid pair ID")
	}

	var pair model.DocumentPair
	if err := h.db.First(&pair, pairID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return response.NotFound(c, "Document pair not found")
		}
		return response.InternalServerError(c, "Failed to fetch document pair")
	}

	if pair.Status == model.DocumentPairProcessing {
		return response.Conflict(c, "Cannot delete a pair while conversion is running")
	}

	// Stored booklets are removed best-effort; the DB record is the source
	// of truth and orphaned objects are harmless.
	_ = h.spaces.DeleteFile(c.Context(), pair.QuestionsFileKey)
	_ = h.spaces.DeleteFile(c.Context(), pair.SolutionsFileKey)

	if err := h.db.Delete(&pair).Error; err != nil {
		return response.InternalServerError(c, "Failed to delete document pair")
	}

	return response.NoContent(c)
}

// StartConversion handles POST /api/v1/pairs/:id/convert
func (h *DocumentPairHandler) StartConversion(c *fiber.Ctx) error {
	pairID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "Invalid pair ID")
	}

	job, err := h.orchestrator.StartConversion(c.Context(), uint(pairID))
	if err != nil {
		if errors.Is(err, services.ErrConversionInProgress) {
			return response.Conflict(c, err.Error())
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return response.NotFound(c, "Document pair not found")
		}
		return response.InternalServerError(c, fmt.Sprintf("Failed to start conversion: %v", err))
	}

	return response.SuccessWithMessage(c, "Conversion started", job)
}

// GetConversionJob handles GET /api/v1/pairs/:id/job
// Returns the latest conversion job; pass ?logs=true to include job logs.
func (h *DocumentPairHandler) GetConversionJob(c *fiber.Ctx) error {
	pairID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "Invalid pair ID")
	}

	query := h.db.Where("document_pair_id = ?", pairID).Order("created_at DESC")
	if c.Query("logs", "false") == "true" {
		query = query.Preload("Logs")
	}

	var job model.ConversionJob
	if err := query.First(&job).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return response.NotFound(c, "No conversion job for this pair")
		}
		return response.InternalServerError(c, "Failed to fetch conversion job")
	}

	return response.Success(c, job)
}
