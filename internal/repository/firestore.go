// internal/repository/firestore.go
package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/LuisEduardoPedra/emissorNfse/internal/domain"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	colDps         = "dps"
	colNotas       = "notas"
	colContadores  = "contadores"
	colCredenciais = "credenciaisRobo"

	// Teto de documentos varridos na busca por chave em payload bruto.
	limiteVarreduraPayload = 500
)

// Firestore implementa os contratos de persistência sobre o Cloud Firestore.
type Firestore struct {
	db *firestore.Client
}

func NewFirestore(db *firestore.Client) *Firestore {
	return &Firestore{db: db}
}

// ReservarNumero incrementa o contador da série dentro de uma transação.
// Dois builds concorrentes para o mesmo (prestador, série) serializam aqui.
func (r *Firestore) ReservarNumero(ctx context.Context, prestadorID, serie string) (int64, error) {
	ref := r.db.Collection(colContadores).Doc(prestadorID + "_" + serie)
	var proximo int64
	err := r.db.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		var ultimo int64
		if doc != nil && doc.Exists() {
			v, err := doc.DataAt("ultimo")
			if err != nil {
				return err
			}
			if n, ok := v.(int64); ok {
				ultimo = n
			}
		}
		proximo = ultimo + 1
		return tx.Set(ref, map[string]interface{}{
			"prestadorId":  prestadorID,
			"serie":        serie,
			"ultimo":       proximo,
			"atualizadoEm": time.Now(),
		})
	})
	if err != nil {
		return 0, fmt.Errorf("falha ao reservar número da série %s: %w", serie, err)
	}
	return proximo, nil
}

func (r *Firestore) Salvar(ctx context.Context, dps *domain.Dps) error {
	dps.AtualizadoEm = time.Now()
	if dps.CriadoEm.IsZero() {
		dps.CriadoEm = dps.AtualizadoEm
	}
	if _, err := r.db.Collection(colDps).Doc(dps.ID).Set(ctx, dps); err != nil {
		return fmt.Errorf("falha ao gravar DPS %s: %w", dps.ID, err)
	}
	return nil
}

func (r *Firestore) BuscarPorID(ctx context.Context, id string) (*domain.Dps, error) {
	doc, err := r.db.Collection(colDps).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNaoEncontrado
		}
		return nil, fmt.Errorf("falha ao consultar DPS %s: %w", id, err)
	}
	var dps domain.Dps
	if err := doc.DataTo(&dps); err != nil {
		return nil, fmt.Errorf("falha ao ler DPS %s: %w", id, err)
	}
	return &dps, nil
}

func (r *Firestore) AtualizarStatus(ctx context.Context, id string, st domain.StatusDps, mensagemErro string) error {
	updates := []firestore.Update{
		{Path: "status", Value: st},
		{Path: "atualizadoEm", Value: time.Now()},
	}
	if mensagemErro != "" {
		updates = append(updates, firestore.Update{Path: "mensagemErro", Value: mensagemErro})
	}
	if _, err := r.db.Collection(colDps).Doc(id).Update(ctx, updates); err != nil {
		return fmt.Errorf("falha ao atualizar status da DPS %s: %w", id, err)
	}
	return nil
}

// --- NotaRepository ---

func (r *Firestore) SalvarNota(ctx context.Context, nota *domain.NotaFiscal) error {
	nota.AtualizadoEm = time.Now()
	if nota.CriadoEm.IsZero() {
		nota.CriadoEm = nota.AtualizadoEm
	}
	if _, err := r.db.Collection(colNotas).Doc(nota.ID).Set(ctx, nota); err != nil {
		return fmt.Errorf("falha ao gravar nota %s: %w", nota.ID, err)
	}
	return nil
}

func (r *Firestore) AtualizarNota(ctx context.Context, nota *domain.NotaFiscal) error {
	return r.SalvarNota(ctx, nota)
}

func (r *Firestore) BuscarNotaPorID(ctx context.Context, id string) (*domain.NotaFiscal, error) {
	doc, err := r.db.Collection(colNotas).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNaoEncontrado
		}
		return nil, fmt.Errorf("falha ao consultar nota %s: %w", id, err)
	}
	var nota domain.NotaFiscal
	if err := doc.DataTo(&nota); err != nil {
		return nil, fmt.Errorf("falha ao ler nota %s: %w", id, err)
	}
	return &nota, nil
}

func (r *Firestore) BuscarNotaPorChave(ctx context.Context, chave string) (*domain.NotaFiscal, error) {
	iter := r.db.Collection(colNotas).Where("chaveAcesso", "==", chave).Limit(1).Documents(ctx)
	defer iter.Stop()
	return r.primeiraNota(iter)
}

func (r *Firestore) BuscarNotaPorDps(ctx context.Context, dpsID string) (*domain.NotaFiscal, error) {
	iter := r.db.Collection(colNotas).Where("dpsId", "==", dpsID).Limit(1).Documents(ctx)
	defer iter.Stop()
	return r.primeiraNota(iter)
}

// BuscarNotaPorChaveNoPayload varre o XML bruto das notas mais recentes.
// Último recurso para registros anteriores à coluna chaveAcesso.
func (r *Firestore) BuscarNotaPorChaveNoPayload(ctx context.Context, chave string) (*domain.NotaFiscal, error) {
	iter := r.db.Collection(colNotas).
		OrderBy("criadoEm", firestore.Desc).
		Limit(limiteVarreduraPayload).
		Documents(ctx)
	defer iter.Stop()
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			return nil, ErrNaoEncontrado
		}
		if err != nil {
			return nil, fmt.Errorf("falha na varredura de payloads: %w", err)
		}
		var nota domain.NotaFiscal
		if err := doc.DataTo(&nota); err != nil {
			continue
		}
		if strings.Contains(nota.NfseXML, chave) || strings.Contains(nota.XMLCancelamento, chave) {
			return &nota, nil
		}
	}
}

func (r *Firestore) ListarCandidatasReconciliacao(ctx context.Context, limite int) ([]*domain.NotaFiscal, error) {
	iter := r.db.Collection(colNotas).
		Where("status", "in", []domain.StatusDps{domain.StatusAutorizada, domain.StatusEnviado, domain.StatusAssinado}).
		Limit(limite).
		Documents(ctx)
	defer iter.Stop()

	var notas []*domain.NotaFiscal
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("falha ao listar candidatas à reconciliação: %w", err)
		}
		var nota domain.NotaFiscal
		if err := doc.DataTo(&nota); err != nil {
			continue
		}
		notas = append(notas, &nota)
	}
	return notas, nil
}

// --- CredenciaisRepository ---

func (r *Firestore) BuscarCredenciais(ctx context.Context, prestadorID string) (*domain.CredenciaisRobo, error) {
	iter := r.db.Collection(colCredenciais).Where("prestadorId", "==", prestadorID).Limit(1).Documents(ctx)
	defer iter.Stop()
	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, ErrNaoEncontrado
	}
	if err != nil {
		return nil, fmt.Errorf("falha ao consultar credenciais do prestador %s: %w", prestadorID, err)
	}
	var cred domain.CredenciaisRobo
	if err := doc.DataTo(&cred); err != nil {
		return nil, fmt.Errorf("falha ao ler credenciais do prestador %s: %w", prestadorID, err)
	}
	return &cred, nil
}

func (r *Firestore) primeiraNota(iter *firestore.DocumentIterator) (*domain.NotaFiscal, error) {
	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, ErrNaoEncontrado
	}
	if err != nil {
		return nil, fmt.Errorf("falha na consulta de notas: %w", err)
	}
	var nota domain.NotaFiscal
	if err := doc.DataTo(&nota); err != nil {
		return nil, fmt.Errorf("falha ao ler nota: %w", err)
	}
	return &nota, nil
}
