// internal/core/emissao/service.go
package emissao

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/LuisEduardoPedra/emissorNfse/internal/core/validacao"
	"github.com/LuisEduardoPedra/emissorNfse/internal/domain"
	"github.com/LuisEduardoPedra/emissorNfse/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var reChave50 = regexp.MustCompile(`\d{50}`)

// DpsRepositorio é o recorte de persistência de DPS que o envio consome.
type DpsRepositorio interface {
	AtualizarStatus(ctx context.Context, id string, status domain.StatusDps, mensagemErro string) error
}

// NotasRepositorio é o recorte de persistência de notas que o envio consome.
type NotasRepositorio interface {
	SalvarNota(ctx context.Context, nota *domain.NotaFiscal) error
	AtualizarNota(ctx context.Context, nota *domain.NotaFiscal) error
	BuscarNotaPorDps(ctx context.Context, dpsID string) (*domain.NotaFiscal, error)
	BuscarNotaPorChave(ctx context.Context, chave string) (*domain.NotaFiscal, error)
}

// CredenciaisRepositorio devolve as credenciais de robô do prestador.
type CredenciaisRepositorio interface {
	BuscarCredenciais(ctx context.Context, prestadorID string) (*domain.CredenciaisRobo, error)
}

// Opcoes parametriza um envio individual.
type Opcoes struct {
	Ambiente      domain.Ambiente
	CertificadoID string
	// BaseURL sobrescreve o endpoint padrão da SEFIN quando informado.
	BaseURL string
}

// Service transmite a DPS assinada ao gateway da SEFIN Nacional e interpreta
// a resposta síncrona. Não faz retry: falhas transitórias voltam ao chamador
// com o mesmo documento assinado reutilizável.
type Service interface {
	Enviar(ctx context.Context, registro *domain.Dps, opcoes Opcoes) (*domain.NotaFiscal, error)
}

type service struct {
	http    *http.Client
	tokens  *TokenCache
	baseURL string
	dps     DpsRepositorio
	notas   NotasRepositorio
	cred    CredenciaisRepositorio
	log     *zap.Logger
}

func NewService(httpClient *http.Client, tokens *TokenCache, baseURL string, dps DpsRepositorio, notas NotasRepositorio, cred CredenciaisRepositorio, log *zap.Logger) Service {
	return &service{
		http:    httpClient,
		tokens:  tokens,
		baseURL: strings.TrimRight(baseURL, "/"),
		dps:     dps,
		notas:   notas,
		cred:    cred,
		log:     log,
	}
}

// Campos da resposta síncrona da SEFIN; o gateway varia entre chaveAcesso e
// chave conforme a rota.
type respostaSefin struct {
	ChaveAcesso       string      `json:"chaveAcesso"`
	Chave             string      `json:"chave"`
	Numero            json.Number `json:"numero"`
	CodigoVerificacao string      `json:"codigoVerificacao"`
	URLNfse           string      `json:"urlNfse"`
	Codigo            string      `json:"codigo"`
	Mensagem          string      `json:"mensagem"`
	Erros             []struct {
		Codigo   string `json:"codigo"`
		Mensagem string `json:"mensagem"`
	} `json:"erros"`
}

func (s *service) Enviar(ctx context.Context, registro *domain.Dps, opcoes Opcoes) (*domain.NotaFiscal, error) {
	if registro.XMLAssinado == "" {
		return nil, fmt.Errorf("DPS %s não está assinada; envio recusado", registro.ID)
	}

	// Idempotência local: uma DPS nunca gera duas notas autorizadas.
	existente, err := s.notas.BuscarNotaPorDps(ctx, registro.ID)
	if err != nil && !errors.Is(err, repository.ErrNaoEncontrado) {
		return nil, fmt.Errorf("falha na checagem de idempotência: %w", err)
	}
	if existente != nil && existente.ChaveAcesso != "" {
		s.log.Info("envio ignorado: DPS já autorizada",
			zap.String("dpsId", registro.ID),
			zap.String("chaveAcesso", existente.ChaveAcesso))
		return existente, nil
	}

	credenciais, err := s.cred.BuscarCredenciais(ctx, registro.PrestadorID)
	if err != nil {
		return nil, fmt.Errorf("credenciais de robô indisponíveis para o prestador %s: %w", registro.PrestadorID, err)
	}
	token, err := s.tokens.Token(ctx, *credenciais)
	if err != nil {
		return nil, err
	}

	if err := s.dps.AtualizarStatus(ctx, registro.ID, domain.StatusEnviado, ""); err != nil {
		return nil, fmt.Errorf("falha ao marcar DPS como enviada: %w", err)
	}
	registro.Status = domain.StatusEnviado

	base := s.baseURL
	if opcoes.BaseURL != "" {
		base = strings.TrimRight(opcoes.BaseURL, "/")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/nfse", strings.NewReader(registro.XMLAssinado))
	if err != nil {
		return nil, fmt.Errorf("falha ao montar requisição de envio: %w", err)
	}
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Ambiente", opcoes.Ambiente.CodigoTpAmb())
	if opcoes.CertificadoID != "" {
		req.Header.Set("X-Certificate-Id", opcoes.CertificadoID)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		// Status permanece ENVIADO; a reconciliação resolve depois caso a
		// transmissão tenha chegado ao gateway.
		return nil, &domain.TransientNetworkError{Operacao: "envio da DPS", Causa: err}
	}
	defer resp.Body.Close()

	corpo, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.TransientNetworkError{Operacao: "leitura da resposta de envio", Causa: err}
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, &domain.TransientNetworkError{
			Operacao: "envio da DPS",
			Causa:    fmt.Errorf("HTTP %d do gateway", resp.StatusCode),
		}
	case resp.StatusCode >= 400:
		return s.tratarRejeicao(ctx, registro, opcoes, resp.StatusCode, corpo)
	default:
		return s.tratarAutorizacao(ctx, registro, opcoes, corpo)
	}
}

func (s *service) tratarAutorizacao(ctx context.Context, registro *domain.Dps, opcoes Opcoes, corpo []byte) (*domain.NotaFiscal, error) {
	var r respostaSefin
	if err := json.Unmarshal(corpo, &r); err != nil {
		return nil, fmt.Errorf("resposta de autorização ilegível do gateway: %w", err)
	}
	chave := r.ChaveAcesso
	if chave == "" {
		chave = r.Chave
	}
	if !validacao.ChaveAcessoValida(chave) {
		return nil, fmt.Errorf("gateway devolveu chave de acesso malformada: %q", chave)
	}

	nota := &domain.NotaFiscal{
		ID:                uuid.NewString(),
		DpsID:             registro.ID,
		PrestadorID:       registro.PrestadorID,
		ChaveAcesso:       chave,
		Numero:            registro.Numero,
		CodigoVerificacao: r.CodigoVerificacao,
		URLNfse:           r.URLNfse,
		Ambiente:          opcoes.Ambiente,
		Status:            domain.StatusAutorizada,
		StatusCode:        domain.StatusAutorizada.CodigoWire(),
		StatusNfse:        "Autorizada",
		NfseXML:           string(corpo),
	}
	if err := s.notas.SalvarNota(ctx, nota); err != nil {
		return nil, fmt.Errorf("nota autorizada pela SEFIN mas não persistida: %w", err)
	}
	if err := s.dps.AtualizarStatus(ctx, registro.ID, domain.StatusAutorizada, ""); err != nil {
		return nil, fmt.Errorf("falha ao marcar DPS como autorizada: %w", err)
	}
	registro.Status = domain.StatusAutorizada

	s.log.Info("DPS autorizada",
		zap.String("dpsId", registro.ID),
		zap.String("chaveAcesso", chave),
		zap.String("numero", registro.Numero))
	return nota, nil
}

func (s *service) tratarRejeicao(ctx context.Context, registro *domain.Dps, opcoes Opcoes, status int, corpo []byte) (*domain.NotaFiscal, error) {
	var r respostaSefin
	_ = json.Unmarshal(corpo, &r)
	codigo, mensagem := r.Codigo, r.Mensagem
	if codigo == "" && len(r.Erros) > 0 {
		codigo, mensagem = r.Erros[0].Codigo, r.Erros[0].Mensagem
	}

	// "Já autorizada" é sucesso: reconciliamos o registro existente em vez de
	// errar, mantendo uma única nota por DPS.
	if indicaJaAutorizada(corpo) {
		chave := reChave50.FindString(string(corpo))
		if chave == "" {
			// Autorizada no gateway mas sem chave no corpo: a DPS permanece
			// ENVIADO e a reconciliação localiza a nota autoritativa depois.
			s.log.Warn("DPS já autorizada sem chave de acesso na resposta",
				zap.String("dpsId", registro.ID),
				zap.Int("httpStatus", status))
			return nil, &domain.TransientNetworkError{
				Operacao: "confirmação de DPS já autorizada",
				Causa:    fmt.Errorf("resposta do gateway sem chave de acesso"),
			}
		}
		if nota, err := s.notas.BuscarNotaPorChave(ctx, chave); err == nil {
			if err := s.dps.AtualizarStatus(ctx, registro.ID, domain.StatusAutorizada, ""); err != nil {
				return nil, fmt.Errorf("falha ao reconciliar DPS já autorizada: %w", err)
			}
			registro.Status = domain.StatusAutorizada
			return nota, nil
		}
		nota := &domain.NotaFiscal{
			ID:          uuid.NewString(),
			DpsID:       registro.ID,
			PrestadorID: registro.PrestadorID,
			ChaveAcesso: chave,
			Numero:      registro.Numero,
			Ambiente:    opcoes.Ambiente,
			Status:      domain.StatusAutorizada,
			StatusCode:  domain.StatusAutorizada.CodigoWire(),
			StatusNfse:  "Autorizada",
			NfseXML:     string(corpo),
		}
		if err := s.notas.SalvarNota(ctx, nota); err != nil {
			return nil, fmt.Errorf("falha ao registrar nota já autorizada: %w", err)
		}
		if err := s.dps.AtualizarStatus(ctx, registro.ID, domain.StatusAutorizada, ""); err != nil {
			return nil, fmt.Errorf("falha ao reconciliar DPS já autorizada: %w", err)
		}
		registro.Status = domain.StatusAutorizada
		return nota, nil
	}

	rejeicao := &domain.GatewayRejection{
		HTTPStatus: status,
		Codigo:     codigo,
		Mensagem:   mensagem,
		Corpo:      string(corpo),
	}
	if err := s.dps.AtualizarStatus(ctx, registro.ID, domain.StatusErro, rejeicao.Error()); err != nil {
		s.log.Error("falha ao marcar DPS como rejeitada", zap.String("dpsId", registro.ID), zap.Error(err))
	}
	registro.Status = domain.StatusErro

	s.log.Warn("DPS rejeitada pela SEFIN",
		zap.String("dpsId", registro.ID),
		zap.Int("httpStatus", status),
		zap.String("codigo", codigo),
		zap.String("mensagem", mensagem))
	return nil, rejeicao
}

func indicaJaAutorizada(corpo []byte) bool {
	texto := strings.ToLower(string(corpo))
	return strings.Contains(texto, "já autorizada") ||
		strings.Contains(texto, "ja autorizada") ||
		strings.Contains(texto, "autorizada anteriormente") ||
		strings.Contains(texto, "duplicidade")
}
