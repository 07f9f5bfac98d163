// README: Push token registration handler.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"lifeline/internal/notify"
	"lifeline/internal/types"
)

type TokenHandler struct {
	tokens *notify.PGTokenStore
}

func NewTokenHandler(tokens *notify.PGTokenStore) *TokenHandler {
	return &TokenHandler{tokens: tokens}
}

type registerTokenReq struct {
	Token string `json:"token" binding:"required"`
}

func (h *TokenHandler) Register(c *gin.Context) {
	var req registerTokenReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.tokens.RegisterToken(c.Request.Context(), types.ID(c.Param("id")), req.Token); err != nil {
		writeError(c, http.StatusInternalServerError, "internal error")
		return
	}
	c.Status(http.StatusNoContent)
}
