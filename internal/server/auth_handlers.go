package server

import (
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/traflow/internal/auth"
	"github.com/MarcoPoloResearchLab/traflow/internal/users"
	"github.com/gin-gonic/gin"
)

type grantResponse struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expiresAt"`
	User      users.Profile `json:"user"`
}

type userResponse struct {
	User users.Profile `json:"user"`
}

func newGrantResponse(grant auth.Grant) grantResponse {
	return grantResponse{Token: grant.Token, ExpiresAt: grant.ExpiresAt, User: grant.User}
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request users.Registration
	if err := bindJSON(c, &request); err != nil {
		h.writeError(c, err)
		return
	}
	grant, err := h.auth.Register(c.Request.Context(), request)
	h.metrics.observeAuth("register", err)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newGrantResponse(grant))
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request auth.Credentials
	if err := bindJSON(c, &request); err != nil {
		h.writeError(c, err)
		return
	}
	grant, err := h.auth.Login(c.Request.Context(), request)
	h.metrics.observeAuth("login", err)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newGrantResponse(grant))
}

func (h *httpHandler) handleValidate(c *gin.Context) {
	user, _ := currentUser(c)
	c.JSON(http.StatusOK, userResponse{User: *user})
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	if err := h.auth.Logout(c.Request.Context(), c.GetString(tokenContextKey)); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
