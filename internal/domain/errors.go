// internal/domain/errors.go
package domain

import (
	"fmt"
	"strings"
)

// Violacao é uma falha de campo reportada pelo Builder ou pelo Validador.
type Violacao struct {
	Field          string `json:"field"`
	Message        string `json:"message"`
	OffendingValue string `json:"offendingValue,omitempty"`
}

// ValidationError agrega todas as violações de uma requisição. O pipeline
// nunca falha na primeira: a lista completa volta para o operador.
type ValidationError struct {
	Violacoes []Violacao
}

func (e *ValidationError) Error() string {
	if len(e.Violacoes) == 0 {
		return "documento inválido"
	}
	campos := make([]string, 0, len(e.Violacoes))
	for _, v := range e.Violacoes {
		campos = append(campos, v.Field)
	}
	return fmt.Sprintf("documento inválido: %d violação(ões) em [%s]", len(e.Violacoes), strings.Join(campos, ", "))
}

// ComputationError indica valores derivados impossíveis (deduções e descontos
// excedendo o valor bruto, alíquota negativa).
type ComputationError struct {
	Campo    string
	Mensagem string
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("erro de cálculo em %s: %s", e.Campo, e.Mensagem)
}

// CertificateNotFoundError: o certificado selecionado sumiu do repositório
// entre a seleção e o uso. Exige nova seleção pelo operador; nunca escolhemos
// outro certificado silenciosamente.
type CertificateNotFoundError struct {
	CertificadoID string
}

func (e *CertificateNotFoundError) Error() string {
	return fmt.Sprintf("certificado não encontrado no repositório: %q", e.CertificadoID)
}

// SigningError: falha criptográfica, certificado expirado ou senha incorreta.
// Terminal para a tentativa de emissão.
type SigningError struct {
	Causa error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("falha na assinatura digital: %v", e.Causa)
}

func (e *SigningError) Unwrap() error { return e.Causa }

// GatewayRejection: a SEFIN rejeitou o documento assinado (4xx com corpo
// estruturado). Atribuível ao conteúdo; nunca é retentado automaticamente.
type GatewayRejection struct {
	HTTPStatus int
	Codigo     string
	Mensagem   string
	Corpo      string
}

func (e *GatewayRejection) Error() string {
	return fmt.Sprintf("documento rejeitado pela SEFIN (HTTP %d, código %s): %s", e.HTTPStatus, e.Codigo, e.Mensagem)
}

// TransientNetworkError: falha de rede ou 5xx do gateway. O chamador pode
// retentar com o mesmo documento assinado.
type TransientNetworkError struct {
	Operacao string
	Causa    error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("falha transitória em %s: %v", e.Operacao, e.Causa)
}

func (e *TransientNetworkError) Unwrap() error { return e.Causa }
