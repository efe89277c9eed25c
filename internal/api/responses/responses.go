// internal/api/responses/responses.go
package responses

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var logger *zap.Logger

// InitLogger inicializa o logger estruturado global da aplicação.
func InitLogger() {
	l, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	logger = l
}

// Log devolve o logger da aplicação. Seguro antes do InitLogger (no-op).
func Log() *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// SuccessResponse é o envelope padrão de sucesso da API.
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Message string      `json:"message,omitempty"`
}

// ErrorResponse é o envelope padrão de erro da API.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

// OK escreve uma resposta 200 com envelope {success, data}.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: data})
}

// Created escreve uma resposta 201 com envelope {success, data}.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, SuccessResponse{Success: true, Data: data})
}

// Erro escreve uma resposta de erro com a mensagem dada.
func Erro(c *gin.Context, status int, msg string) {
	c.JSON(status, ErrorResponse{Error: msg})
}

// ErroDetalhado escreve uma resposta de erro carregando detalhes por campo.
func ErroDetalhado(c *gin.Context, status int, msg string, details interface{}) {
	c.JSON(status, ErrorResponse{Error: msg, Details: details})
}
