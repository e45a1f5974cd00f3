// Package server exposes the relay workflows over HTTP, mirroring the
// /sftp REST resource existing clients call.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/franksops/gorelay/archive"
	"github.com/franksops/gorelay/orchestrator"
	"github.com/franksops/gorelay/store"
)

// Workflows is the part of the orchestrator the HTTP layer drives.
type Workflows interface {
	Relay(ctx context.Context, req orchestrator.RelayRequest) *orchestrator.Report
	UploadAllZips(ctx context.Context) *orchestrator.Report
	DownloadAllZips(ctx context.Context) *orchestrator.Report
	UploadOne(ctx context.Context, req orchestrator.UploadRequest) *orchestrator.Report
	DownloadAll(ctx context.Context, req orchestrator.DownloadRequest) *orchestrator.Report
}

// Server is the HTTP front door.
type Server struct {
	Address   string
	Workflows Workflows
	// Jobs may be nil when the ledger is disabled.
	Jobs     store.Store
	Archiver archive.Archiver
	Logger   logrus.FieldLogger

	StartTime time.Time
	server    *http.Server
}

// New returns a Server listening on address once started.
func New(address string, wf Workflows, jobs store.Store, archiver archive.Archiver, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{
		Address:   address,
		Workflows: wf,
		Jobs:      jobs,
		Archiver:  archiver,
		Logger:    logger,
		StartTime: time.Now().UTC(),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(CorrelationMiddleware())
	router.Use(s.requestLogger())
	router.Use(gin.CustomRecovery(func(c *gin.Context, err any) {
		s.logFor(c).WithField("panic", err).Error("Recovered from panic")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"status": "Internal Server Error"})
	}))

	router.GET("/healthz", s.healthHandler)

	sftp := router.Group("/sftp")
	sftp.POST("/transfer", s.transferHandler)
	sftp.POST("/upload", s.uploadHandler)
	sftp.GET("/download-files", s.downloadFilesHandler)
	sftp.POST("/upload-file", s.uploadFileHandler)
	sftp.POST("/download", s.downloadHandler)
	sftp.GET("/jobs", s.jobsHandler)
	sftp.GET("/archive", s.archiveHandler)

	return router
}

// Start begins serving in the background. It returns an error if the
// listener fails to come up.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start server: %w", err)
	case <-time.After(100 * time.Millisecond):
		s.Logger.WithField("address", s.Address).Info("HTTP server started")
		return nil
	}
}

// Stop shuts the server down, waiting up to five seconds for in-flight
// requests. Transfers still running past that are cut off with their
// request context.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.Logger.WithError(err).Warn("HTTP server shutdown")
	}
	s.Logger.Info("HTTP server stopped")
}
