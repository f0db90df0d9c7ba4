package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/pathwise/pathwise-backend/internal/handlers"
)

type RouterConfig struct {
	NormalizationHandler *handlers.NormalizationHandler
	GapHandler           *handlers.GapHandler
	GenerationHandler    *handlers.GenerationHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5174",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		// Skills
		api.POST("/skills/normalize", cfg.NormalizationHandler.NormalizeBatch)
		// Gap analysis
		api.GET("/subjects/:id/gap/:targetId", cfg.GapHandler.GetGapReport)
		// Generation
		api.POST("/generation/jobs", cfg.GenerationHandler.Enqueue)
		api.GET("/generation/jobs/:id", cfg.GenerationHandler.GetStatus)
		api.POST("/generation/jobs/:id/cancel", cfg.GenerationHandler.Cancel)
		api.POST("/generation/trigger", cfg.GenerationHandler.TriggerSingle)
		api.POST("/generation/tick", cfg.GenerationHandler.Tick)
	}

	return router
}
