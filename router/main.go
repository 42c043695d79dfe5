package router

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/sahilchouksey/exam-extract-api/config"
	"github.com/sahilchouksey/exam-extract-api/database"
	"github.com/sahilchouksey/exam-extract-api/handlers"
	documentpair_handlers "github.com/sahilchouksey/exam-extract-api/handlers/documentpair"
	question_handlers "github.com/sahilchouksey/exam-extract-api/handlers/question"
	"github.com/sahilchouksey/exam-extract-api/services"
	"github.com/sahilchouksey/exam-extract-api/services/digitalocean"
	"github.com/sahilchouksey/exam-extract-api/utils"
	"github.com/sahilchouksey/exam-extract-api/utils/cache"
	"github.com/sahilchouksey/exam-extract-api/utils/middleware"
)

func SetupRoutes(app *fiber.App, store database.Storage) {
	// Get DB instance (type assert from interface)
	db, ok := store.GetDB().(*gorm.DB)
	if !ok {
		log.Fatal("Failed to get GORM DB instance")
	}

	getEnv, err := config.Get()
	if err != nil {
		log.Fatal("Failed to load environment configuration")
	}

	// Redis backs extraction job state and the conversion start lock. The
	// conversion pipeline works without it, extraction does not.
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}
	redisCache, err := cache.NewRedisCache(redisURL)
	if err != nil {
		log.Printf("Warning: Failed to connect to Redis: %v. Extraction endpoints will be disabled.", err)
		redisCache = nil
	}

	// Object storage for uploaded booklets and harvested images
	spacesClient, err := digitalocean.NewSpacesClientFromGlobalConfig()
	if err != nil {
		log.Fatalf("Failed to initialize Spaces client: %v", err)
	}

	// External document conversion service
	conversionClient := services.NewConversionClient()
	healthCtx, cancelHealth := context.WithTimeout(context.Background(), 5*time.Second)
	if err := conversionClient.HealthCheck(healthCtx); err != nil {
		log.Printf("Warning: conversion service unreachable: %v", err)
	}
	cancelHealth()

	orchestrator := services.NewConversionOrchestrator(db, spacesClient, conversionClient, redisCache, services.OrchestratorConfig{})
	pairHandler := documentpair_handlers.NewDocumentPairHandler(db, spacesClient, orchestrator)

	// Apply security middleware
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:3000,http://localhost:3001"
	}

	middleware.SetupSecurity(app, middleware.SecurityConfig{
		AllowedOrigins:    allowedOrigins,
		RateLimitRequests: 100,             // 100 requests
		RateLimitWindow:   1 * time.Minute, // per minute
	})

	// Health check endpoints (public)
	app.Get("/ping", utils.MakeHTTPHandleFunc(handlers.HandleCheckHealth, store))

	// API v1 group
	api := app.Group("/api/v1")
	api.Get("/health", utils.MakeHTTPHandleFunc(handlers.HandleCheckHealth, store))

	// ==================== Document Pairs ====================

	pairs := api.Group("/pairs")
	pairs.Post("/", pairHandler.UploadPair)                 // Upload a questions+solutions booklet pair
	pairs.Get("/", pairHandler.ListPairs)                   // List pairs with pagination
	pairs.Get("/:id", pairHandler.GetPair)                  // Get pair details
	pairs.Delete("/:id", pairHandler.DeletePair)            // Delete a pair and its stored booklets
	pairs.Post("/:id/convert", pairHandler.StartConversion) // Start dual-document conversion
	pairs.Get("/:id/job", pairHandler.GetConversionJob)     // Latest conversion job (?logs=true for logs)

	// ==================== Question Extraction ====================

	if redisCache != nil {
		inferenceClient := digitalocean.NewInferenceClient(digitalocean.InferenceConfig{
			APIKey: getEnv.DO_INFERENCE_API_KEY,
			Model:  getEnv.DO_INFERENCE_MODEL,
		})
		extractor := services.NewQuestionExtractor(inferenceClient)
		extractionService := services.NewExtractionService(db, extractor, redisCache)
		questionHandler := question_handlers.NewQuestionHandler(db, extractionService)

		pairs.Post("/:id/extract", questionHandler.TriggerExtraction)  // Start background extraction
		pairs.Get("/:id/extraction", questionHandler.GetActiveExtraction) // Live extraction job for a pair
		pairs.Get("/:id/questions", questionHandler.ListQuestions)     // List reconciled questions

		api.Get("/extractions/:job_id", questionHandler.GetExtractionJob) // Extraction job state by ID
		api.Patch("/questions/:id/verify", questionHandler.VerifyQuestion) // Human review of a question
	}
}
