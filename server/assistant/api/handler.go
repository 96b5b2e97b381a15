package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"knowledge_server/server/assistant/domain"
	"knowledge_server/server/assistant/service"
	"knowledge_server/server/common/apperr"
	commonauth "knowledge_server/server/common/auth"
	"knowledge_server/server/common/middleware"
	"knowledge_server/server/common/transport/httpresp"
)

type Handler struct {
	assistant *service.AssistantService
	auth      *commonauth.Service
}

func NewHandler(assistant *service.AssistantService, auth *commonauth.Service) *Handler {
	return &Handler{assistant: assistant, auth: auth}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1/assistant")
	api.Use(middleware.AuthRequired(h.auth))
	{
		api.POST("/chat", h.chat)
		api.GET("/usage", h.usage)
		api.GET("/sessions", h.listSessions)
		api.GET("/sessions/:id/messages", h.listMessages)
		api.DELETE("/sessions/:id", h.closeSession)
	}
}

func (h *Handler) chat(c *gin.Context) {
	ownerID, ok := middleware.OwnerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	var req domain.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	reply, err := h.assistant.Chat(c.Request.Context(), ownerID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpresp.NewChatResponse(reply.Response, reply.SessionID))
}

func (h *Handler) usage(c *gin.Context) {
	ownerID, ok := middleware.OwnerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	report, err := h.assistant.Usage(c.Request.Context(), ownerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) listSessions(c *gin.Context) {
	ownerID, ok := middleware.OwnerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	sessions, err := h.assistant.Sessions(c.Request.Context(), ownerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (h *Handler) listMessages(c *gin.Context) {
	ownerID, ok := middleware.OwnerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	messages, err := h.assistant.Messages(c.Request.Context(), ownerID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

func (h *Handler) closeSession(c *gin.Context) {
	ownerID, ok := middleware.OwnerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	if err := h.assistant.Close(c.Request.Context(), ownerID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

func respondError(c *gin.Context, err error) {
	c.JSON(apperr.HTTPStatus(err), httpresp.NewErrorResponse(err.Error()))
}
