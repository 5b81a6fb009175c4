package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"chatkeep/internal/auth"
	"chatkeep/internal/models"
	"chatkeep/internal/service/assistant"
	"chatkeep/internal/storage"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler wires HTTP routes to the assistant and token services.
type Handler struct {
	assistant *assistant.Service
	auth      *auth.Service
	health    []Pinger
	logger    *slog.Logger
}

// NewHandler constructs a Handler instance. /healthz pings every health check.
func NewHandler(service *assistant.Service, authService *auth.Service, logger *slog.Logger, health ...Pinger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		assistant: service,
		auth:      authService,
		health:    health,
		logger:    logger,
	}
}

// NewRouter builds a gin engine with recovery, CORS, request logging and all routes.
func NewRouter(h *Handler, allowedOrigins []string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(h.logger), CORS(allowedOrigins))
	h.RegisterRoutes(router)
	return router
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.healthz)
	router.POST("/register", h.registerUser)
	router.POST("/token", h.loginUser)

	authed := router.Group("")
	authed.Use(h.auth.Middleware(h.assistant))
	authed.POST("/chat", h.chat)
	authed.GET("/conversations", h.listConversations)
	authed.GET("/conversations/:id", h.getConversation)
	authed.DELETE("/conversations/:id", h.deleteConversation)
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) registerUser(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request body"})
		return
	}
	user, err := h.assistant.Register(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, user.Public())
}

// loginUser accepts the OAuth2 password form (username, password).
func (h *Handler) loginUser(c *gin.Context) {
	username := c.PostForm("username")
	password := c.PostForm("password")
	if strings.TrimSpace(username) == "" || password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "username and password are required"})
		return
	}
	user, err := h.assistant.Authenticate(c.Request.Context(), username, password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	token, err := h.auth.IssueToken(user.Username)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "bearer",
		"expires_in":   int64(h.auth.TokenTTL().Seconds()),
	})
}

type chatRequest struct {
	Prompt         string `json:"prompt"`
	ConversationID string `json:"conversation_id"`
}

func (h *Handler) chat(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request body"})
		return
	}
	res, err := h.assistant.Chat(c.Request.Context(), user, req.Prompt, req.ConversationID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) listConversations(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	summaries, err := h.assistant.ListConversations(c.Request.Context(), user)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if summaries == nil {
		summaries = []models.ConversationSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

func (h *Handler) getConversation(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	conv, err := h.assistant.GetConversation(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	messages := conv.Messages
	if messages == nil {
		messages = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *Handler) deleteConversation(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	if err := h.assistant.DeleteConversation(c.Request.Context(), user, c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	for _, p := range h.health {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) currentUser(c *gin.Context) (*models.User, bool) {
	user, ok := auth.UserFromContext(c)
	if !ok {
		c.Header("WWW-Authenticate", "Bearer")
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "not authenticated"})
		return nil, false
	}
	return user, true
}

// writeError maps service errors onto status codes and a {"detail"} body.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, assistant.ErrValidation):
		detail := strings.TrimPrefix(err.Error(), assistant.ErrValidation.Error()+": ")
		c.JSON(http.StatusBadRequest, gin.H{"detail": detail})
	case errors.Is(err, assistant.ErrUsernameTaken), errors.Is(err, storage.ErrConflict):
		c.JSON(http.StatusBadRequest, gin.H{"detail": "username already registered"})
	case errors.Is(err, assistant.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		c.Header("WWW-Authenticate", "Bearer")
		c.JSON(http.StatusUnauthorized, gin.H{"detail": assistant.ErrInvalidCredentials.Error()})
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": "conversation not found"})
	default:
		h.logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal server error"})
	}
}
