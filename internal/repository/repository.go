// internal/repository/repository.go
package repository

import (
	"context"
	"errors"

	"github.com/LuisEduardoPedra/emissorNfse/internal/domain"
)

// ErrNaoEncontrado é devolvido quando o registro pedido não existe.
var ErrNaoEncontrado = errors.New("registro não encontrado")

// DpsRepository é o contrato de persistência das declarações.
type DpsRepository interface {
	// ReservarNumero avança e devolve o próximo número da série do prestador.
	// A reserva é transacional e nunca é desfeita em falha posterior:
	// a sequência pode ter lacunas, nunca duplicatas.
	ReservarNumero(ctx context.Context, prestadorID, serie string) (int64, error)
	Salvar(ctx context.Context, dps *domain.Dps) error
	BuscarPorID(ctx context.Context, id string) (*domain.Dps, error)
	AtualizarStatus(ctx context.Context, id string, status domain.StatusDps, mensagemErro string) error
}

// NotaRepository é o contrato de persistência das notas autorizadas.
type NotaRepository interface {
	SalvarNota(ctx context.Context, nota *domain.NotaFiscal) error
	AtualizarNota(ctx context.Context, nota *domain.NotaFiscal) error
	BuscarNotaPorID(ctx context.Context, id string) (*domain.NotaFiscal, error)
	BuscarNotaPorChave(ctx context.Context, chave string) (*domain.NotaFiscal, error)
	BuscarNotaPorDps(ctx context.Context, dpsID string) (*domain.NotaFiscal, error)
	// BuscarNotaPorChaveNoPayload varre os payloads brutos persistidos procurando
	// a chave como substring. Cobre notas gravadas antes da coluna dedicada.
	BuscarNotaPorChaveNoPayload(ctx context.Context, chave string) (*domain.NotaFiscal, error)
	// ListarCandidatasReconciliacao devolve notas com status pendente ou
	// autorizado, limitadas ao teto informado.
	ListarCandidatasReconciliacao(ctx context.Context, limite int) ([]*domain.NotaFiscal, error)
}

// CredenciaisRepository devolve as credenciais de robô por prestador.
type CredenciaisRepository interface {
	BuscarCredenciais(ctx context.Context, prestadorID string) (*domain.CredenciaisRobo, error)
}
