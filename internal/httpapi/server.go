// Package httpapi exposes the assistant over HTTP: message ingestion,
// conversation inspection, trigger listing, health and metrics.
package httpapi

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alynlabs/alyn/internal/conversation"
	"github.com/alynlabs/alyn/internal/gateway"
	"github.com/alynlabs/alyn/internal/triggers"
)

// Server wires the HTTP surface over the gateway and stores.
type Server struct {
	gateway  *gateway.Gateway
	convo    *conversation.Log
	triggers *triggers.Store
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger configures the server's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates the HTTP server façade.
func NewServer(gw *gateway.Gateway, convo *conversation.Log, triggerStore *triggers.Store, opts ...Option) *Server {
	s := &Server{
		gateway:  gw,
		convo:    convo,
		triggers: triggerStore,
		logger:   slog.Default().With("component", "httpapi"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.POST("/messages", s.postMessage)
		api.GET("/conversation", s.getConversation)
		api.DELETE("/conversation", s.clearConversation)
		api.GET("/triggers", s.listTriggers)
	}

	return router
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type inboundMessage struct {
	Message   string `json:"message" binding:"required"`
	ChannelID string `json:"channel_id"`
}

// postMessage accepts a user message and queues it; processing is
// asynchronous and replies are delivered out of band.
func (s *Server) postMessage(c *gin.Context) {
	var body inboundMessage
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	if strings.TrimSpace(body.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	s.gateway.HandleInbound(body.ChannelID, body.Message)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (s *Server) getConversation(c *gin.Context) {
	messages, err := s.convo.ChatMessages()
	if err != nil {
		s.logger.Error("conversation read failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "conversation unavailable"})
		return
	}
	if messages == nil {
		messages = []conversation.ChatMessage{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (s *Server) clearConversation(c *gin.Context) {
	if err := s.convo.Clear(); err != nil {
		s.logger.Error("conversation clear failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear conversation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (s *Server) listTriggers(c *gin.Context) {
	agent := c.Query("agent")
	records, err := s.triggers.List(c.Request.Context(), agent)
	if err != nil {
		s.logger.Error("trigger list failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "triggers unavailable"})
		return
	}
	if records == nil {
		records = []triggers.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"triggers": records})
}
