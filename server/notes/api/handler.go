package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"knowledge_server/server/common/apperr"
	commonauth "knowledge_server/server/common/auth"
	"knowledge_server/server/common/middleware"
	"knowledge_server/server/common/transport/httpresp"
	"knowledge_server/server/notes/domain"
	"knowledge_server/server/notes/service"
)

type Handler struct {
	notes   *service.NoteService
	uploads *service.UploadService
	stream  *service.StreamService
	auth    *commonauth.Service
}

func NewHandler(notes *service.NoteService, uploads *service.UploadService, stream *service.StreamService, auth *commonauth.Service) *Handler {
	return &Handler{notes: notes, uploads: uploads, stream: stream, auth: auth}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	api.Use(middleware.AuthRequired(h.auth))
	{
		api.POST("/notes", h.createNote)
		api.GET("/notes", h.listNotes)
		api.GET("/notes/search", h.searchNotes)
		api.GET("/notes/stream", h.stream.HandleWS)
		api.GET("/notes/:id", h.getNote)
		api.PATCH("/notes/:id", h.updateNote)
		api.DELETE("/notes/:id", h.deleteNote)
		api.POST("/notes/:id/attachments", h.uploadAttachment)
		api.GET("/notes/:id/attachments", h.listAttachments)
		api.POST("/attachments/:id/retry", h.retryAttachment)
		api.DELETE("/attachments/:id", h.deleteAttachment)
	}
}

func (h *Handler) createNote(c *gin.Context) {
	ownerID, ok := middleware.OwnerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	var req struct {
		Title    string          `json:"title"`
		Content  string          `json:"content"`
		Kind     domain.NoteKind `json:"kind"`
		Category string          `json:"category"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	note, err := h.notes.Create(c.Request.Context(), ownerID, domain.Note{
		Title:    req.Title,
		Content:  req.Content,
		Kind:     req.Kind,
		Category: req.Category,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, note)
}

func (h *Handler) getNote(c *gin.Context) {
	ownerID, ok := middleware.OwnerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	note, err := h.notes.Get(c.Request.Context(), ownerID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, note)
}

func (h *Handler) listNotes(c *gin.Context) {
	ownerID, ok := middleware.OwnerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	filter := domain.ListFilter{
		Category:        c.Query("category"),
		StarredOnly:     c.Query("starred") == "true",
		Query:           c.Query("q"),
		IncludeArchived: c.Query("archived") == "true",
	}
	notes, err := h.notes.List(c.Request.Context(), ownerID, filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, notes)
}

func (h *Handler) searchNotes(c *gin.Context) {
	ownerID, ok := middleware.OwnerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	notes, err := h.notes.Search(c.Request.Context(), ownerID, c.Query("q"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, notes)
}

func (h *Handler) updateNote(c *gin.Context) {
	ownerID, ok := middleware.OwnerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	var patch domain.NotePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	note, err := h.notes.Update(c.Request.Context(), ownerID, c.Param("id"), patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, note)
}

func (h *Handler) deleteNote(c *gin.Context) {
	ownerID, ok := middleware.OwnerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	if err := h.notes.Delete(c.Request.Context(), ownerID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

func (h *Handler) uploadAttachment(c *gin.Context) {
	ownerID, ok := middleware.OwnerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse("file form field is required"))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	mediaType := header.Header.Get("Content-Type")
	att, err := h.uploads.Upload(c.Request.Context(), ownerID, c.Param("id"), header.Filename, mediaType, data)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httpresp.NewUploadResponse(att.ID, att.RetrievalURL))
}

func (h *Handler) listAttachments(c *gin.Context) {
	ownerID, ok := middleware.OwnerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	items, err := h.uploads.ListByNote(c.Request.Context(), ownerID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) retryAttachment(c *gin.Context) {
	ownerID, ok := middleware.OwnerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	att, err := h.uploads.Retry(c.Request.Context(), ownerID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, att)
}

func (h *Handler) deleteAttachment(c *gin.Context) {
	ownerID, ok := middleware.OwnerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	if err := h.uploads.Delete(c.Request.Context(), ownerID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

func respondError(c *gin.Context, err error) {
	c.JSON(apperr.HTTPStatus(err), httpresp.NewErrorResponse(err.Error()))
}
