// internal/api/handlers/auth_handler.go
package handlers

import (
	"net/http"

	"github.com/LuisEduardoPedra/emissorNfse/internal/api/responses"
	"github.com/LuisEduardoPedra/emissorNfse/internal/core/auth"
	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	service auth.Service
}

func NewAuthHandler(service auth.Service) *AuthHandler {
	return &AuthHandler{service: service}
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.Erro(c, http.StatusBadRequest, "usuário e senha são obrigatórios")
		return
	}

	token, err := h.service.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		responses.Erro(c, http.StatusUnauthorized, err.Error())
		return
	}

	responses.OK(c, gin.H{"token": token})
}
