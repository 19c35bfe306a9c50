package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hupe1980/devmesh/artifact"
	"github.com/hupe1980/devmesh/audit"
	"github.com/hupe1980/devmesh/core"
)

// Session defaults for POST /session/new.
const (
	DefaultUserID  = "anonymous"
	DefaultProject = "default"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": ServiceName,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleOrchestrate(c *gin.Context) {
	s.invoke(c, s.opts.Orchestrator)
}

func (s *Server) handleExecute(c *gin.Context) {
	s.invoke(c, s.opts.Executor)
}

// invoke runs agent with the JSON body as request.
func (s *Server) invoke(c *gin.Context, agent string) {
	req, ok := bindRequest(c)
	if !ok {
		return
	}
	res, err := s.opts.Runner.Invoke(c.Request.Context(), agent, req)
	if err != nil {
		if core.IsCancellation(err) {
			s.logger.Info("http.invoke.cancelled", "agent", agent)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "request cancelled"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if res.Status() == core.StatusBlocked {
		s.recordBlocked(c, agent, req, res)
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) recordBlocked(c *gin.Context, agent string, req core.Request, res core.Result) {
	err := audit.Record(c.Request.Context(), s.opts.Audit, audit.Entry{
		SessionID: req.SessionID(),
		Actor:     c.ClientIP(),
		Action:    audit.ActionBlocked,
		Resource:  agent,
		Details:   map[string]any{core.KeyReason: res[core.KeyReason]},
	})
	if err != nil {
		s.logger.Warn("audit.record.failed", "error", err)
	}
}

// bindRequest decodes a JSON object body. An empty body is an empty request.
func bindRequest(c *gin.Context) (core.Request, bool) {
	req := core.Request{}
	if c.Request.ContentLength == 0 {
		return req, true
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body: " + err.Error()})
		return nil, false
	}
	return req, true
}

func (s *Server) handleNewSession(c *gin.Context) {
	req, ok := bindRequest(c)
	if !ok {
		return
	}
	userID := req.String(core.KeyUserID)
	if userID == "" {
		userID = DefaultUserID
	}
	project := req.String(core.KeyProject)
	if project == "" {
		project = DefaultProject
	}

	sess, err := s.opts.State.Begin(c.Request.Context(), userID, project)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := audit.Record(c.Request.Context(), s.opts.Audit, audit.Entry{
		SessionID: sess.ID,
		Actor:     userID,
		Action:    audit.ActionSessionNew,
		Resource:  project,
	}); err != nil {
		s.logger.Warn("audit.record.failed", "error", err)
	}
	s.logger.Info("session.created", "session_id", sess.ID, "user_id", userID, "project", project)

	c.JSON(http.StatusOK, gin.H{
		core.KeySessionID: sess.ID,
		core.KeyUserID:    userID,
		core.KeyProject:   project,
		"created":         sess.Created,
	})
}

func (s *Server) handleGetSession(c *gin.Context) {
	sum, err := s.opts.State.Summary(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *Server) handleCloseSession(c *gin.Context) {
	id := c.Param("id")
	if err := s.opts.State.Close(c.Request.Context(), id); err != nil {
		s.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{core.KeySessionID: id, core.KeyStatus: core.SessionClosed})
}

func (s *Server) sessionError(c *gin.Context, err error) {
	if errors.Is(err, core.ErrSessionNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
}

func (s *Server) handleListArtifacts(c *gin.Context) {
	if s.opts.Artifacts == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "artifact store not configured"})
		return
	}
	id := c.Param("id")
	infos, err := s.opts.Artifacts.List(c.Request.Context(), id)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if infos == nil {
		infos = []core.ArtifactInfo{}
	}
	c.JSON(http.StatusOK, gin.H{core.KeySessionID: id, "artifacts": infos})
}

func (s *Server) handleGetArtifact(c *gin.Context) {
	if s.opts.Artifacts == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "artifact store not configured"})
		return
	}
	version := 0
	if v := c.Query("version"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "version must be an integer"})
			return
		}
		version = n
	}

	a, err := s.opts.Artifacts.Load(c.Request.Context(), c.Param("id"), c.Param("name"), version)
	switch {
	case errors.Is(err, artifact.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.Is(err, artifact.ErrInvalidName):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	contentType := a.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("X-Artifact-Version", strconv.Itoa(a.Version))
	c.Data(http.StatusOK, contentType, a.Data)
}
