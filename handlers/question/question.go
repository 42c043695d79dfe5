package question

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/sahilchouksey/exam-extract-api/model"
	"github.com/sahilchouksey/exam-extract-api/services"
	"github.com/sahilchouksey/exam-extract-api/utils/response"
	"github.com/sahilchouksey/exam-extract-api/utils/validation"
)

// QuestionHandler handles extraction and question review requests
type QuestionHandler struct {
	db         *gorm.DB
	extraction *services.ExtractionService
	validator  *validation.Validator
}

// NewQuestionHandler creates a new question handler
func NewQuestionHandler(db *gorm.DB, extraction *services.ExtractionService) *QuestionHandler {
	return &QuestionHandler{
		db:         db,
		extraction: extraction,
		validator:  validation.NewValidator(),
	}
}

// TriggerExtraction handles POST /api/v1/pairs/:id/extract
// Starts a background extraction run over the pair's converted text.
func (h *QuestionHandler) TriggerExtraction(c *fiber.Ctx) error {
	pairID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "Invalid pair ID")
	}

	job, err := h.extraction.TriggerExtractionAsync(c.Context(), uint(pairID))
	if err != nil {
		if errors.Is(err, services.ErrExtractionInProgress) {
			return response.Conflict(c, err.Error())
		}
		if errors.Is(err, services.ErrPairNotReady) {
			return response.BadRequest(c, err.Error())
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return response.NotFound(c, "Document pair not found")
		}
		return response.InternalServerError(c, "Failed to start extraction")
	}

	return response.SuccessWithMessage(c, "Extraction started", job)
}

// GetExtractionJob handles GET /api/v1/extractions/:job_id
func (h *QuestionHandler) GetExtractionJob(c *fiber.Ctx) error {
	jobID := c.Params("job_id")
	if jobID == "" {
		return response.BadRequest(c, "Job ID is required")
	}

	job, err := h.extraction.GetJobState(c.Context(), jobID)
	if err != nil {
		return response.NotFound(c, "Extraction job not found")
	}

	return response.Success(c, job)
}

// GetActiveExtraction handles GET /api/v1/pairs/:id/extraction
// Returns the live extraction job for a pair, if one is running.
func (h *QuestionHandler) GetActiveExtraction(c *fiber.Ctx) error {
	pairID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "Invalid pair ID")
	}

	jobID, err := h.extraction.GetActiveJobID(c.Context(), uint(pairID))
	if err != nil {
		return response.InternalServerError(c, "Failed to check active extraction")
	}
	if jobID == "" {
		return response.NotFound(c, "No active extraction for this pair")
	}

	job, err := h.extraction.GetJobState(c.Context(), jobID)
	if err != nil {
		return response.NotFound(c, "Extraction job not found")
	}

	return response.Success(c, job)
}

// ListQuestions handles GET /api/v1/pairs/:id/questions
func (h *QuestionHandler) ListQuestions(c *fiber.Ctx) error {
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

	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 300 {
		limit = 50
	}

	query := h.db.Model(&model.ExamQuestion{}).Where("document_pair_id = ?", pairID)
	if qType := c.Query("type"); qType != "" {
		query = query.Where("question_type = ?", qType)
	}
	if c.Query("unanswered", "false") == "true" {
		query = query.Where("correct_answer = ''")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return response.InternalServerError(c, "Failed to count questions")
	}

	var questions []model.ExamQuestion
	if err := query.Order("question_number ASC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&questions).Error; err != nil {
		return response.InternalServerError(c, "Failed to fetch questions")
	}

	results := make([]model.ExamQuestionResponse, len(questions))
	for i := range questions {
		results[i] = questions[i].ToResponse()
	}

	return response.Paginated(c, results, response.CalculatePagination(page, limit, total))
}

// VerifyQuestionRequest is the body for question review updates
type VerifyQuestionRequest struct {
	Verified      *bool  `json:"verified" validate:"required"`
	CorrectAnswer string `json:"correct_answer" validate:"omitempty,max=20"`
}

// VerifyQuestion handles PATCH /api/v1/questions/:id/verify
// Marks a question as human-reviewed, optionally correcting the answer.
func (h *QuestionHandler) VerifyQuestion(c *fiber.Ctx) error {
	questionID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "Invalid question ID")
	}

	var req VerifyQuestionRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		return response.ValidationError(c, err)
	}

	var q model.ExamQuestion
	if err := h.db.First(&q, questionID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return response.NotFound(c, "Question not found")
		}
		return response.InternalServerError(c, "Failed to fetch question")
	}

	updates := map[string]interface{}{"verified": *req.Verified}
	if req.CorrectAnswer != "" {
		answer := validation.SanitizeString(req.CorrectAnswer)
		updates["correct_answer"] = answer
		updates["question_type"] = classifyReviewedAnswer(answer)
	}

	if err := h.db.Model(&q).Updates(updates).Error; err != nil {
		return response.InternalServerError(c, "Failed to update question")
	}

	if err := h.db.First(&q, questionID).Error; err != nil {
		return response.InternalServerError(c, "Failed to reload question")
	}
	return response.Success(c, q.ToResponse())
}

func classifyReviewedAnswer(answer string) model.ExamQuestionType {
	if len(answer) == 1 && answer[0] >= 'A' && answer[0] <= 'D' {
		return model.QuestionTypeMCQ
	}
	return model.QuestionTypeInteger
}
