// internal/core/reconciliacao/service.go
package reconciliacao

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/LuisEduardoPedra/emissorNfse/internal/core/validacao"
	"github.com/LuisEduardoPedra/emissorNfse/internal/domain"
	"github.com/LuisEduardoPedra/emissorNfse/internal/repository"
	"go.uber.org/zap"
)

// LimitePadraoLote limita quantas notas um lote reconcilia por chamada.
const LimitePadraoLote = 100

// Caminhos candidatos da consulta de situação, tentados em ordem até o
// primeiro que não devolva 404.
var caminhosConsulta = []string{
	"/nfse/status/%s",
	"/nfse/consultar/%s",
	"/nfse/%s",
}

// NotasRepositorio é o recorte de persistência que a reconciliação consome.
type NotasRepositorio interface {
	AtualizarNota(ctx context.Context, nota *domain.NotaFiscal) error
	BuscarNotaPorID(ctx context.Context, id string) (*domain.NotaFiscal, error)
	BuscarNotaPorChave(ctx context.Context, chave string) (*domain.NotaFiscal, error)
	BuscarNotaPorChaveNoPayload(ctx context.Context, chave string) (*domain.NotaFiscal, error)
	ListarCandidatasReconciliacao(ctx context.Context, limite int) ([]*domain.NotaFiscal, error)
}

// Opcoes parametriza uma passada de reconciliação.
type Opcoes struct {
	Ambiente      domain.Ambiente
	CertificadoID string
	BaseURL       string
}

// Requisicao descreve o lote pedido pela API interna.
type Requisicao struct {
	Chave   string
	NotaIDs []string
	Limite  int
	Todas   bool
	Opcoes  Opcoes
}

// Service detecta e repara divergência entre o status local e o estado
// autoritativo da SEFIN. A falha de uma nota nunca aborta o lote.
type Service interface {
	Reconciliar(ctx context.Context, req Requisicao) []domain.ResultadoReconciliacao
}

type service struct {
	http    *http.Client
	notas   NotasRepositorio
	danfse  LeitorDanfse
	baseURL string
	log     *zap.Logger
	agora   func() time.Time
}

func NewService(httpClient *http.Client, notas NotasRepositorio, danfse LeitorDanfse, baseURL string, log *zap.Logger) Service {
	return &service{
		http:    httpClient,
		notas:   notas,
		danfse:  danfse,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log,
		agora:   time.Now,
	}
}

func (s *service) Reconciliar(ctx context.Context, req Requisicao) []domain.ResultadoReconciliacao {
	if req.Chave != "" {
		return []domain.ResultadoReconciliacao{s.reconciliarChave(ctx, req.Chave, req.Opcoes)}
	}

	var resultados []domain.ResultadoReconciliacao
	if len(req.NotaIDs) > 0 {
		for _, id := range req.NotaIDs {
			nota, err := s.notas.BuscarNotaPorID(ctx, id)
			if err != nil {
				resultados = append(resultados, domain.ResultadoReconciliacao{
					Chave: id,
					Erro:  fmt.Sprintf("nota %s não localizada: %v", id, err),
				})
				continue
			}
			resultados = append(resultados, s.reconciliarNota(ctx, nota, req.Opcoes))
		}
		return resultados
	}

	// O modo lote é opt-in: sem chave, sem notaIds e sem todas=true não há
	// nada a reconciliar.
	if !req.Todas {
		return []domain.ResultadoReconciliacao{{
			Erro: "nenhum critério informado: use chave, notaIds ou all=true",
		}}
	}

	limite := req.Limite
	if limite <= 0 {
		limite = LimitePadraoLote
	}
	candidatas, err := s.notas.ListarCandidatasReconciliacao(ctx, limite)
	if err != nil {
		return []domain.ResultadoReconciliacao{{
			Erro: fmt.Sprintf("falha ao listar candidatas: %v", err),
		}}
	}
	for _, nota := range candidatas {
		resultados = append(resultados, s.reconciliarNota(ctx, nota, req.Opcoes))
	}
	return resultados
}

func (s *service) reconciliarChave(ctx context.Context, chave string, opcoes Opcoes) domain.ResultadoReconciliacao {
	if !validacao.ChaveAcessoValida(chave) {
		return domain.ResultadoReconciliacao{
			Chave: chave,
			Erro:  "chave de acesso malformada: esperados 50 dígitos",
		}
	}

	nota, err := s.notas.BuscarNotaPorChave(ctx, chave)
	if errors.Is(err, repository.ErrNaoEncontrado) {
		// Registros antigos guardam a chave só dentro do payload bruto; nesses
		// casos o campo vazio é preenchido com a chave confirmada e persistido
		// mesmo quando o status já converge.
		nota, err = s.notas.BuscarNotaPorChaveNoPayload(ctx, chave)
		if err == nil && nota.ChaveAcesso == "" {
			nota.ChaveAcesso = chave
			if errAtualiza := s.notas.AtualizarNota(ctx, nota); errAtualiza != nil {
				s.log.Warn("falha ao persistir chave confirmada no registro antigo",
					zap.String("chaveAcesso", chave), zap.Error(errAtualiza))
			}
		}
	}
	if err != nil {
		externo := s.consultarStatusExterno(ctx, chave, opcoes)
		return domain.ResultadoReconciliacao{
			Chave:         chave,
			StatusExterno: externo,
			Erro:          "nota não localizada na base local",
		}
	}
	return s.reconciliarNota(ctx, nota, opcoes)
}

func (s *service) reconciliarNota(ctx context.Context, nota *domain.NotaFiscal, opcoes Opcoes) domain.ResultadoReconciliacao {
	resultado := domain.ResultadoReconciliacao{
		Chave:              nota.ChaveAcesso,
		StatusInternoAntes: string(nota.Status),
	}
	if !validacao.ChaveAcessoValida(nota.ChaveAcesso) {
		resultado.Erro = "nota ignorada: chave de acesso ausente ou malformada"
		return resultado
	}

	externo := s.consultarStatusExterno(ctx, nota.ChaveAcesso, opcoes)
	resultado.StatusExterno = externo

	switch externo {
	case domain.ExternoAutorizada:
		if nota.Status != domain.StatusAutorizada {
			if err := s.aplicarStatus(ctx, nota, domain.StatusAutorizada, nil); err != nil {
				resultado.Erro = err.Error()
				return resultado
			}
			resultado.Atualizado = true
		}
	case domain.ExternoCancelada:
		if nota.Status != domain.StatusCancelada {
			carimbo := s.agora()
			if err := s.aplicarStatus(ctx, nota, domain.StatusCancelada, &carimbo); err != nil {
				resultado.Erro = err.Error()
				return resultado
			}
			resultado.Atualizado = true
		}
	case domain.ExternoDesconhecido:
		// Último recurso, heurístico e meramente consultivo: varredura do
		// texto da DANFSE renderizada atrás de marcador de cancelamento.
		if s.danfse == nil {
			return resultado
		}
		texto, err := s.danfse.Texto(nota.ChaveAcesso)
		if err != nil {
			s.log.Debug("DANFSE indisponível para varredura",
				zap.String("chaveAcesso", nota.ChaveAcesso), zap.Error(err))
			return resultado
		}
		if contemMarcadorCancelamento(texto) && nota.Status != domain.StatusCancelada {
			carimbo := s.agora()
			if err := s.aplicarStatus(ctx, nota, domain.StatusCancelada, &carimbo); err != nil {
				resultado.Erro = err.Error()
				return resultado
			}
			resultado.Atualizado = true
		}
	case domain.ExternoNaoEncontrada:
		// Estado local preservado; o operador decide o que fazer.
	}
	return resultado
}

func (s *service) aplicarStatus(ctx context.Context, nota *domain.NotaFiscal, novo domain.StatusDps, cancelamento *time.Time) error {
	anterior := nota.Status
	nota.Status = novo
	nota.StatusCode = novo.CodigoWire()
	switch novo {
	case domain.StatusAutorizada:
		nota.StatusNfse = "Autorizada"
	case domain.StatusCancelada:
		nota.StatusNfse = "Cancelada"
	}
	if cancelamento != nil {
		nota.DataCancelamento = cancelamento
	}
	if err := s.notas.AtualizarNota(ctx, nota); err != nil {
		nota.Status = anterior
		return fmt.Errorf("falha ao atualizar nota %s: %v", nota.ChaveAcesso, err)
	}
	s.log.Info("status da nota reconciliado",
		zap.String("chaveAcesso", nota.ChaveAcesso),
		zap.String("de", string(anterior)),
		zap.String("para", string(novo)))
	return nil
}

// consultarStatusExterno tenta os caminhos candidatos em ordem. Indisponível
// ou ambíguo resolve para desconhecido; a decisão fica com o chamador.
func (s *service) consultarStatusExterno(ctx context.Context, chave string, opcoes Opcoes) domain.StatusExterno {
	base := s.baseURL
	if opcoes.BaseURL != "" {
		base = strings.TrimRight(opcoes.BaseURL, "/")
	}

	naoEncontrada := true
	for _, caminho := range caminhosConsulta {
		url := base + fmt.Sprintf(caminho, chave)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return domain.ExternoDesconhecido
		}
		if opcoes.CertificadoID != "" {
			req.Header.Set("X-Certificate-Id", opcoes.CertificadoID)
		}
		req.Header.Set("X-Ambiente", opcoes.Ambiente.CodigoTpAmb())

		resp, err := s.http.Do(req)
		if err != nil {
			s.log.Warn("consulta de situação indisponível",
				zap.String("chaveAcesso", chave), zap.String("url", url), zap.Error(err))
			return domain.ExternoDesconhecido
		}
		corpo, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return domain.ExternoDesconhecido
		}

		if resp.StatusCode == http.StatusNotFound {
			continue
		}
		naoEncontrada = false
		if resp.StatusCode >= 400 {
			return domain.ExternoDesconhecido
		}
		return interpretarCorpo(corpo)
	}
	if naoEncontrada {
		return domain.ExternoNaoEncontrada
	}
	return domain.ExternoDesconhecido
}

// interpretarCorpo aceita JSON com campos status/situacao/codigoStatus ou
// texto/XML cru varrido por marcadores.
func interpretarCorpo(corpo []byte) domain.StatusExterno {
	aparado := strings.TrimSpace(string(corpo))
	if strings.HasPrefix(aparado, "{") {
		var dados map[string]interface{}
		if err := json.Unmarshal(corpo, &dados); err == nil {
			for _, campo := range []string{"status", "situacao", "codigoStatus"} {
				if v, ok := dados[campo]; ok {
					if st := interpretarValor(fmt.Sprintf("%v", v)); st != domain.ExternoDesconhecido {
						return st
					}
				}
			}
			return domain.ExternoDesconhecido
		}
	}
	return interpretarValor(aparado)
}

func interpretarValor(v string) domain.StatusExterno {
	texto := strings.ToLower(strings.TrimSpace(v))
	switch {
	case strings.Contains(texto, "cancel"):
		return domain.ExternoCancelada
	case strings.Contains(texto, "autoriz"), texto == "100":
		return domain.ExternoAutorizada
	case strings.Contains(texto, "não encontrada"), strings.Contains(texto, "nao encontrada"), strings.Contains(texto, "inexistente"):
		return domain.ExternoNaoEncontrada
	}
	// Códigos numéricos seguem a mesma tabela de arame da persistência.
	if len(texto) == 1 {
		switch domain.StatusDeCodigoWire(texto) {
		case domain.StatusAutorizada:
			return domain.ExternoAutorizada
		case domain.StatusCancelada:
			return domain.ExternoCancelada
		}
	}
	return domain.ExternoDesconhecido
}

func contemMarcadorCancelamento(texto string) bool {
	return strings.Contains(strings.ToUpper(texto), "CANCELAD")
}
