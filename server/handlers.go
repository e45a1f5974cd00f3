package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/franksops/gorelay/orchestrator"
	"github.com/franksops/gorelay/store"
)

// TransferRequest is the wire shape of POST /sftp/transfer. The field names
// match the legacy clients, including the capitalised PassA.
type TransferRequest struct {
	ServerAHost string `json:"serverAHost"`
	PortA       int    `json:"portA,omitempty"`
	UserA       string `json:"userA"`
	PassA       string `json:"PassA"`
	RemotePathA string `json:"remotePathA"`

	ServerBHost string `json:"serverBHost"`
	PortB       int    `json:"portB,omitempty"`
	UserB       string `json:"userB"`
	PassB       string `json:"passB"`
	RemotePathB string `json:"remotePathB"`
}

// RelayRequest converts the wire shape.
func (t TransferRequest) RelayRequest() orchestrator.RelayRequest {
	return orchestrator.RelayRequest{
		Source: orchestrator.Endpoint{
			Host: t.ServerAHost, Port: t.PortA, User: t.UserA, Password: t.PassA, RemotePath: t.RemotePathA,
		},
		Destination: orchestrator.Endpoint{
			Host: t.ServerBHost, Port: t.PortB, User: t.UserB, Password: t.PassB, RemotePath: t.RemotePathB,
		},
	}
}

// StatusResponse is the body of every workflow endpoint.
type StatusResponse struct {
	Status string `json:"status"`
	RunID  string `json:"runId,omitempty"`
}

// ArchiveEntry describes one file in the sent archive.
type ArchiveEntry struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

const defaultJobsLimit = 50

// respond maps a report to the status code and body. Failure causes stay in
// the log.
func (s *Server) respond(c *gin.Context, rep *orchestrator.Report, ok, failed string) {
	log := s.logFor(c).WithFields(logrus.Fields{
		"run_id":    rep.RunID,
		"operation": rep.Operation,
		"success":   rep.Success,
	})
	if rep.Success {
		log.Debug("Workflow succeeded")
		c.JSON(http.StatusOK, StatusResponse{Status: ok, RunID: rep.RunID})
		return
	}
	log.WithField("kind", rep.Kind).Debug("Workflow failed")
	c.JSON(http.StatusInternalServerError, StatusResponse{Status: failed, RunID: rep.RunID})
}

func (s *Server) badRequest(c *gin.Context, err error) {
	s.logFor(c).WithError(err).Warn("Malformed request body")
	c.JSON(http.StatusBadRequest, StatusResponse{Status: "Invalid request"})
}

// workflowContext detaches a workflow from the request: a client that hangs
// up does not abort a transfer already in flight.
func workflowContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func (s *Server) transferHandler(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	rep := s.Workflows.Relay(workflowContext(c), req.RelayRequest())
	s.respond(c, rep, "Transfer complete", "Transfer failed")
}

func (s *Server) uploadHandler(c *gin.Context) {
	rep := s.Workflows.UploadAllZips(workflowContext(c))
	s.respond(c, rep, "Transfer complete", "Transfer failed")
}

func (s *Server) downloadFilesHandler(c *gin.Context) {
	rep := s.Workflows.DownloadAllZips(workflowContext(c))
	s.respond(c, rep, "Download complete", "Download failed")
}

func (s *Server) uploadFileHandler(c *gin.Context) {
	var req orchestrator.UploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	rep := s.Workflows.UploadOne(workflowContext(c), req)
	s.respond(c, rep, "Upload complete", "Upload failed")
}

func (s *Server) downloadHandler(c *gin.Context) {
	var req orchestrator.DownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	rep := s.Workflows.DownloadAll(workflowContext(c), req)
	s.respond(c, rep, "Download complete", "Download failed")
}

func (s *Server) jobsHandler(c *gin.Context) {
	limit := defaultJobsLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, StatusResponse{Status: "Invalid limit"})
			return
		}
		limit = n
	}

	if s.Jobs == nil {
		c.JSON(http.StatusOK, []*store.JobRecord{})
		return
	}
	jobs, err := s.Jobs.ListJobs(limit)
	if err != nil {
		s.logFor(c).WithError(err).Error("Failed to list jobs")
		c.JSON(http.StatusInternalServerError, StatusResponse{Status: "Failed to list jobs"})
		return
	}
	if jobs == nil {
		jobs = []*store.JobRecord{}
	}
	c.JSON(http.StatusOK, jobs)
}

func (s *Server) archiveHandler(c *gin.Context) {
	out := []ArchiveEntry{}
	if s.Archiver == nil {
		c.JSON(http.StatusOK, out)
		return
	}
	entries, err := s.Archiver.List(c.Request.Context())
	if err != nil {
		s.logFor(c).WithError(err).Error("Failed to list archive")
		c.JSON(http.StatusInternalServerError, StatusResponse{Status: "Failed to list archive"})
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		out = append(out, ArchiveEntry{Name: e.Name(), Size: e.Size(), ModTime: e.ModTime().UTC()})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.StartTime).Round(time.Second).String(),
	})
}
