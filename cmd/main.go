package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pathwise/pathwise-backend/internal/clients/redis"
	"github.com/pathwise/pathwise-backend/internal/db"
	"github.com/pathwise/pathwise-backend/internal/handlers"
	"github.com/pathwise/pathwise-backend/internal/jobs"
	"github.com/pathwise/pathwise-backend/internal/logger"
	"github.com/pathwise/pathwise-backend/internal/repos"
	"github.com/pathwise/pathwise-backend/internal/server"
	"github.com/pathwise/pathwise-backend/internal/services"
	"github.com/pathwise/pathwise-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Redis match cache (optional; normalization works without it)
	var cache services.NormalizationCache
	matchCache, err := redis.NewMatchCache(log)
	if err != nil {
		log.Warn("Redis match cache unavailable, continuing without it", "error", err)
	} else {
		cache = matchCache
		defer matchCache.Close()
	}

	// Repos
	log.Info("Setting up Repos from main...")
	taxonomyRepo := repos.NewTaxonomyNodeRepo(thePG, log)
	skillRepo := repos.NewSkillRecordRepo(thePG, log)
	profileRepo := repos.NewRequirementProfileRepo(thePG, log)
	jobRepo := repos.NewGenerationJobRepo(thePG, log)
	taskRepo := repos.NewGenerationTaskRepo(thePG, log)
	contentRepo := repos.NewGeneratedContentRepo(thePG, log)

	// Services
	log.Info("Setting up Services from main...")
	openaiClient, err := services.NewOpenAIClient(log)
	if err != nil {
		log.Error("Could not init OpenAIClient", "error", err)
		os.Exit(1)
	}
	taxonomyService := services.NewTaxonomyService(thePG, log, taxonomyRepo)
	semanticMatcher := services.NewSemanticMatcher(log, openaiClient)
	normalizerService := services.NewSkillNormalizerService(thePG, log, taxonomyService, semanticMatcher, cache, services.LoadNormalizerConfig(log))
	gapService := services.NewGapAnalysisService(thePG, log, skillRepo, profileRepo, taxonomyService)
	locator := services.NewRequirementLocator(thePG, log, profileRepo)
	contentClient := services.NewContentGenerationClient(log, openaiClient)
	generationService := services.NewGenerationService(
		repos.NewGormTxRunner(thePG),
		log,
		jobRepo,
		taskRepo,
		contentRepo,
		skillRepo,
		locator,
		taxonomyService,
		gapService,
		contentClient,
		services.LoadGenerationConfig(log),
	)

	// Background jobs
	ctx := context.Background()
	worker := jobs.NewWorker(log, generationService, jobs.LoadWorkerConfig(log))
	worker.Start(ctx)
	reclaimer := jobs.NewReclaimer(log, generationService, jobs.LoadReclaimerConfig(log))
	reclaimer.Start(ctx)

	// Handlers
	log.Info("Setting up handlers from main...")
	normalizationHandler := handlers.NewNormalizationHandler(normalizerService)
	gapHandler := handlers.NewGapHandler(gapService)
	generationHandler := handlers.NewGenerationHandler(generationService, worker)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		NormalizationHandler: normalizationHandler,
		GapHandler:           gapHandler,
		GenerationHandler:    generationHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
	}
}
