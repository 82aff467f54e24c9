package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/terkoizmy/jobdex/config"
	"github.com/terkoizmy/jobdex/db/kvdb"
	"github.com/terkoizmy/jobdex/db/searchdb"
	"github.com/terkoizmy/jobdex/logger"
	"github.com/terkoizmy/jobdex/metrics"
	"github.com/terkoizmy/jobdex/services/index"
	"github.com/terkoizmy/jobdex/services/ingest"
	"github.com/terkoizmy/jobdex/services/search"
	"github.com/terkoizmy/jobdex/validation"
)

type server struct {
	router        *gin.Engine
	httpServer    *http.Server
	cfg           *config.Config
	kvdb          kvdb.DB
	searchdb      searchdb.DB
	validator     *validation.Validator
	metrics       *metrics.Metrics
	searchService *search.Service
	indexService  *index.Service
	logger        logger.Logger
}

func Run(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)

	defer cancel()

	s := &server{
		cfg:    cfg,
		logger: logger.New(),
	}
	if err := s.setupDependencies(ctx); err != nil {
		return err
	}
	s.startInitialRebuild()
	s.setupRouter()
	s.setupHTTPServer()
	s.setupGracefulShutdown(ctx)

	return nil
}

func (s *server) setupDependencies(ctx context.Context) error {
	var err error
	s.kvdb, err = kvdb.New(s.logger, s.cfg)
	if err != nil {
		s.logger.Error("error creating kvDB", "err", err.Error())
		return err
	}
	s.searchdb, err = searchdb.New(s.logger, s.cfg)
	if err != nil {
		s.logger.Error("error creating searchDB", "err", err.Error())
		return err
	}
	s.validator, err = validation.New(s.logger)
	if err != nil {
		s.logger.Error("error creating validator", "err", err.Error())
		return err
	}
	s.metrics = metrics.New()

	scraper := ingest.New(s.logger, s.cfg, s.kvdb)
	s.indexService = index.New(ctx, s.logger, s.searchdb, scraper, s.kvdb, s.metrics)
	s.searchService = search.New(s.logger, s.searchdb, s.metrics)

	return nil

}

// startInitialRebuild indexes whatever the job store already holds so that
// search serves results as soon as the server is up.
func (s *server) startInitialRebuild() {
	requestID := uuid.NewString()
	if err := s.indexService.Rebuild(requestID, false); err != nil {
		s.logger.Warn("could not start initial index rebuild", "err", err.Error())
		return
	}
	s.logger.Info("started initial index rebuild", "request_id", requestID)
}

func (s *server) setupRouter() {
	router := newRouter(s.metrics)

	router.Use(loggingMiddleware(s.logger))

	setupRoutes(router, s.logger, s.metrics, s.searchService, s.indexService, s.validator)

	s.router = router
}

func (s *server) setupHTTPServer() {

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", s.cfg.GetPort()),
		Handler: s.router.Handler(),
	}
	s.httpServer = httpServer
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()
}

func (s *server) setupGracefulShutdown(ctx context.Context) {

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		s.logger.Info("starting to shut down http server")
		shutdownCtx := context.Background()
		shutdownCtx, cancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer cancel()
		s.kvdb.Close()
		s.searchdb.Close()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error shutting down http server", "err", err)
			return
		}
		s.logger.Info("shut down http server successfully")
	}()

	wg.Wait()
}
