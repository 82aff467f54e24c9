package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/terkoizmy/jobdex/api/handlers"
	"github.com/terkoizmy/jobdex/logger"
	"github.com/terkoizmy/jobdex/metrics"
	"github.com/terkoizmy/jobdex/services/index"
	"github.com/terkoizmy/jobdex/services/search"
	"github.com/terkoizmy/jobdex/validation"
)

const usageText = `jobdex - remote job search

GET  /search?q=<query>&limit=<n>&min_salary=<n>   search indexed jobs
POST /rebuild {"scrape": <bool>}                  rebuild the search index
GET  /rebuild/<id>                                rebuild progress
GET  /health                                      liveness check
GET  /metrics                                     Prometheus metrics
`

func setupRoutes(router *gin.Engine, logger logger.Logger, m *metrics.Metrics, searchService *search.Service, indexService *index.Service, validator *validation.Validator) {
	router.GET("/health", health())
	router.GET("/metrics", gin.WrapH(m.Handler()))
	router.GET("/", usage())

	handlers.SetupSearch(router, logger, searchService, validator)
	handlers.SetupRebuild(router, logger, indexService)

}

func health() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	}
}

func usage() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.String(http.StatusOK, usageText)
	}
}

func newRouter(m *metrics.Metrics) *gin.Engine {
	router := gin.Default()
	router.UseRawPath = true
	router.Use(_CORSMiddleware())
	router.Use(gin.Recovery())
	router.Use(metricsMiddleware(m))

	return router
}
