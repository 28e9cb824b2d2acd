package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"greenroom/internal/credential"
	"greenroom/internal/registry"
	"greenroom/pkg/interfaces"
	"greenroom/pkg/types"
)

// HealthChecker reports backing-store connectivity for the health endpoint.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server is the HTTP surface over the session core. No business logic lives
// here; handlers translate between JSON and registry calls.
type Server struct {
	registry interfaces.SessionRegistry
	issuer   *credential.Issuer
	health   HealthChecker
	engine   *gin.Engine
	log      *logrus.Entry
}

// NewServer creates the API server and sets up routing.
func NewServer(reg interfaces.SessionRegistry, issuer *credential.Issuer, health HealthChecker, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		registry: reg,
		issuer:   issuer,
		health:   health,
		engine:   engine,
		log:      log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.engine.Group("/api")
	{
		api.POST("/sessions", s.createSession)
		api.GET("/sessions", s.listSessions)
		api.POST("/sessions/:roomID/join", s.joinSession)
		api.POST("/sessions/:roomID/leave", s.leaveSession)
		api.POST("/sessions/:roomID/end", s.endSession)
		api.POST("/credentials/validate", s.validateCredential)
	}
	s.engine.GET("/health", s.healthCheck)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

type createSessionRequest struct {
	ConsultationID string `json:"consultation_id" binding:"required"`
	UserID         string `json:"user_id" binding:"required"`
	Role           string `json:"role" binding:"required"`
}

type createSessionResponse struct {
	RoomID        string               `json:"room_id"`
	Credential    string               `json:"credential"`
	SessionConfig *types.SessionConfig `json:"session_config"`
}

func (s *Server) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	role := types.Role(req.Role)
	roomID, token, cfg, err := s.registry.CreateSession(c.Request.Context(), req.ConsultationID, req.UserID, role)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, createSessionResponse{
		RoomID:        roomID,
		Credential:    token,
		SessionConfig: cfg,
	})
}

type joinSessionRequest struct {
	Credential string `json:"credential" binding:"required"`
}

func (s *Server) joinSession(c *gin.Context) {
	var req joinSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims, err := s.issuer.Validate(req.Credential)
	if err != nil {
		s.renderError(c, err)
		return
	}
	if claims.RoomID != c.Param("roomID") {
		c.JSON(http.StatusForbidden, gin.H{"error": "credential is bound to a different room"})
		return
	}

	if err := s.registry.Join(claims.RoomID, claims.UserID, claims.Role); err != nil {
		s.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type leaveSessionRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (s *Server) leaveSession(c *gin.Context) {
	var req leaveSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.registry.Leave(c.Param("roomID"), req.UserID); err != nil {
		s.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type endSessionRequest struct {
	ConsultationID string `json:"consultation_id" binding:"required"`
}

func (s *Server) endSession(c *gin.Context) {
	var req endSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.registry.EndSession(c.Request.Context(), c.Param("roomID"), req.ConsultationID)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type listSessionsResponse struct {
	Sessions []*types.Session `json:"sessions"`
	Count    int              `json:"count"`
}

func (s *Server) listSessions(c *gin.Context) {
	sessions := s.registry.ListActiveSessions()
	c.JSON(http.StatusOK, listSessionsResponse{Sessions: sessions, Count: len(sessions)})
}

type validateCredentialRequest struct {
	Credential string `json:"credential" binding:"required"`
}

type validateCredentialResponse struct {
	Valid          bool   `json:"valid"`
	RoomID         string `json:"room_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	Role           string `json:"role,omitempty"`
	ConsultationID string `json:"consultation_id,omitempty"`
	ExpiresAt      string `json:"expires_at,omitempty"`
}

func (s *Server) validateCredential(c *gin.Context) {
	var req validateCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims, err := s.issuer.Validate(req.Credential)
	if err != nil {
		c.JSON(http.StatusUnauthorized, validateCredentialResponse{Valid: false})
		return
	}

	c.JSON(http.StatusOK, validateCredentialResponse{
		Valid:          true,
		RoomID:         claims.RoomID,
		UserID:         claims.UserID,
		Role:           string(claims.Role),
		ConsultationID: claims.ConsultationID,
		ExpiresAt:      claims.ExpiresAt.Format(http.TimeFormat),
	})
}

func (s *Server) healthCheck(c *gin.Context) {
	if s.health != nil {
		if err := s.health.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// renderError maps domain errors to HTTP statuses.
func (s *Server) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, interfaces.ErrConsultationNotFound),
		errors.Is(err, interfaces.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, credential.ErrCredentialExpired),
		errors.Is(err, credential.ErrCredentialMalformed):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, registry.ErrConsultationCompleted),
		errors.Is(err, registry.ErrConsultationMismatch):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, types.ErrInvalidUserID),
		errors.Is(err, types.ErrInvalidRole),
		errors.Is(err, types.ErrInvalidConsultationID):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.log.WithError(err).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
