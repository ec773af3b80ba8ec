package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/traflow/internal/users"
	"github.com/gin-gonic/gin"
)

func (h *httpHandler) handleUpdateAccount(c *gin.Context) {
	var update users.ProfileUpdate
	if err := bindJSON(c, &update); err != nil {
		h.writeError(c, err)
		return
	}
	caller, _ := currentUser(c)
	profile, err := h.accounts.UpdateProfile(c.Request.Context(), caller.ID, update)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, userResponse{User: profile})
}

// handleDeactivateAccount flips the account inactive. Its sessions stop authenticating
// because session lookups require an active owner.
func (h *httpHandler) handleDeactivateAccount(c *gin.Context) {
	caller, _ := currentUser(c)
	if err := h.accounts.Deactivate(c.Request.Context(), caller.ID); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
