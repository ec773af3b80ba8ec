package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/traflow/internal/records"
	"github.com/gin-gonic/gin"
)

func (h *httpHandler) handleListRecords(c *gin.Context) {
	filter, err := records.ParseFilter(c.Request.URL.Query())
	if err != nil {
		h.writeError(c, err)
		return
	}
	caller, _ := currentUser(c)
	page, err := h.records.List(c.Request.Context(), filter, caller)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *httpHandler) handleGetRecord(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	caller, _ := currentUser(c)
	record, err := h.records.Get(c.Request.Context(), id, caller)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *httpHandler) handleCreateRecord(c *gin.Context) {
	var draft records.Draft
	if err := bindJSON(c, &draft); err != nil {
		h.writeError(c, err)
		return
	}
	caller, _ := currentUser(c)
	record, err := h.records.Create(c.Request.Context(), caller, draft)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

func (h *httpHandler) handleUpdateRecord(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	var patch records.Patch
	if err := bindJSON(c, &patch); err != nil {
		h.writeError(c, err)
		return
	}
	caller, _ := currentUser(c)
	record, err := h.records.Update(c.Request.Context(), caller, id, patch)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *httpHandler) handleDeleteRecord(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	caller, _ := currentUser(c)
	if err := h.records.Delete(c.Request.Context(), caller, id); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleToggleFavorite(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	caller, _ := currentUser(c)
	state, err := h.records.ToggleFavorite(c.Request.Context(), caller, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}
