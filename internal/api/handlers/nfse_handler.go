// internal/api/handlers/nfse_handler.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/LuisEduardoPedra/emissorNfse/internal/api/responses"
	"github.com/LuisEduardoPedra/emissorNfse/internal/core/assinatura"
	"github.com/LuisEduardoPedra/emissorNfse/internal/core/dps"
	"github.com/LuisEduardoPedra/emissorNfse/internal/core/emissao"
	"github.com/LuisEduardoPedra/emissorNfse/internal/core/reconciliacao"
	"github.com/LuisEduardoPedra/emissorNfse/internal/core/validacao"
	"github.com/LuisEduardoPedra/emissorNfse/internal/domain"
	"github.com/LuisEduardoPedra/emissorNfse/internal/repository"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NfseHandler expõe o pipeline de emissão e a reconciliação pela API interna.
type NfseHandler struct {
	builder       dps.Service
	assinador     assinatura.Service
	emissor       emissao.Service
	reconciliador reconciliacao.Service
	dpsRepo       repository.DpsRepository
	notas         repository.NotaRepository
	tokens        *emissao.TokenCache
	xsdPath       string
	verAplic      string
	ambiente      domain.Ambiente
	log           *zap.Logger
}

func NewNfseHandler(builder dps.Service, assinador assinatura.Service, emissor emissao.Service, reconciliador reconciliacao.Service, dpsRepo repository.DpsRepository, notas repository.NotaRepository, tokens *emissao.TokenCache, xsdPath, verAplic string, ambiente domain.Ambiente, log *zap.Logger) *NfseHandler {
	return &NfseHandler{
		builder:       builder,
		assinador:     assinador,
		emissor:       emissor,
		reconciliador: reconciliador,
		dpsRepo:       dpsRepo,
		notas:         notas,
		tokens:        tokens,
		xsdPath:       xsdPath,
		verAplic:      verAplic,
		ambiente:      ambiente,
		log:           log,
	}
}

type emitirRequest struct {
	domain.DadosEmissao
	CertificadoID string `json:"certificateId"`
	BaseURL       string `json:"baseUrl,omitempty"`
}

// HandleEmitir percorre o pipeline completo: montagem, validação estrutural,
// assinatura e transmissão. Falhas voltam sempre com o campo ofensor ou o
// código remoto, nunca um erro interno opaco.
func (h *NfseHandler) HandleEmitir(c *gin.Context) {
	var req emitirRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.Erro(c, http.StatusBadRequest, "corpo da requisição inválido: "+err.Error())
		return
	}
	ctx := c.Request.Context()

	if req.VersaoAplicacao == "" {
		req.VersaoAplicacao = h.verAplic
	}
	if req.Ambiente == "" {
		req.Ambiente = h.ambiente
	}

	registro, err := h.builder.Construir(ctx, req.DadosEmissao)
	if err != nil {
		var valErr *domain.ValidationError
		var compErr *domain.ComputationError
		switch {
		case errors.As(err, &valErr):
			responses.ErroDetalhado(c, http.StatusBadRequest, "dados de emissão inválidos", valErr.Violacoes)
		case errors.As(err, &compErr):
			responses.Erro(c, http.StatusUnprocessableEntity, compErr.Error())
		default:
			responses.Erro(c, http.StatusInternalServerError, "falha na montagem da DPS: "+err.Error())
		}
		return
	}

	resultado := validacao.ValidarXML([]byte(registro.XML))
	if h.xsdPath != "" {
		if err := validacao.ValidarComXSD([]byte(registro.XML), h.xsdPath); err != nil {
			resultado.Valido = false
			resultado.Erros = append(resultado.Erros, domain.Violacao{
				Field:   "xsd",
				Message: err.Error(),
			})
		}
	}
	for _, aviso := range resultado.Avisos {
		h.log.Warn("aviso do validador estrutural",
			zap.String("dpsId", registro.ID),
			zap.String("campo", aviso.Field),
			zap.String("mensagem", aviso.Message))
	}
	if !resultado.Valido {
		if err := h.dpsRepo.AtualizarStatus(ctx, registro.ID, domain.StatusErro, "reprovada na validação estrutural"); err != nil {
			h.log.Error("falha ao marcar DPS reprovada", zap.String("dpsId", registro.ID), zap.Error(err))
		}
		responses.ErroDetalhado(c, http.StatusBadRequest, "DPS reprovada na validação estrutural", resultado)
		return
	}

	assinado, err := h.assinador.Assinar([]byte(registro.XML), req.CertificadoID, assinatura.TagPadrao)
	if err != nil {
		if errAtualiza := h.dpsRepo.AtualizarStatus(ctx, registro.ID, domain.StatusErro, err.Error()); errAtualiza != nil {
			h.log.Error("falha ao marcar DPS com erro de assinatura", zap.String("dpsId", registro.ID), zap.Error(errAtualiza))
		}
		var naoEncontrado *domain.CertificateNotFoundError
		if errors.As(err, &naoEncontrado) {
			responses.Erro(c, http.StatusConflict, naoEncontrado.Error()+"; selecione o certificado novamente")
			return
		}
		responses.Erro(c, http.StatusUnprocessableEntity, err.Error())
		return
	}

	registro.XMLAssinado = string(assinado)
	registro.Status = domain.StatusAssinado
	if err := h.dpsRepo.Salvar(ctx, registro); err != nil {
		responses.Erro(c, http.StatusInternalServerError, "falha ao gravar DPS assinada: "+err.Error())
		return
	}

	nota, err := h.emissor.Enviar(ctx, registro, emissao.Opcoes{
		Ambiente:      req.Ambiente,
		CertificadoID: req.CertificadoID,
		BaseURL:       req.BaseURL,
	})
	if err != nil {
		var rejeicao *domain.GatewayRejection
		var transitorio *domain.TransientNetworkError
		switch {
		case errors.As(err, &rejeicao):
			responses.ErroDetalhado(c, http.StatusUnprocessableEntity, rejeicao.Error(), gin.H{
				"codigo":   rejeicao.Codigo,
				"mensagem": rejeicao.Mensagem,
			})
		case errors.As(err, &transitorio):
			responses.Erro(c, http.StatusBadGateway, transitorio.Error()+"; a operação pode ser retentada com o mesmo documento")
		default:
			responses.Erro(c, http.StatusInternalServerError, err.Error())
		}
		return
	}

	responses.Created(c, gin.H{
		"dps":    registro,
		"nota":   nota,
		"avisos": resultado.Avisos,
	})
}

type reenviarRequest struct {
	Ambiente      domain.Ambiente `json:"ambiente"`
	CertificadoID string          `json:"certificateId"`
	BaseURL       string          `json:"baseUrl,omitempty"`
}

// HandleReenviar retransmite uma DPS assinada cujo envio anterior falhou de
// forma transitória. O mesmo documento assinado é reutilizado; se a SEFIN já
// tiver autorizado, a nota existente volta sem novo efeito.
func (h *NfseHandler) HandleReenviar(c *gin.Context) {
	id := c.Param("id")
	var req reenviarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.Erro(c, http.StatusBadRequest, "corpo da requisição inválido: "+err.Error())
		return
	}
	if req.Ambiente == "" {
		req.Ambiente = h.ambiente
	}
	ctx := c.Request.Context()

	registro, err := h.dpsRepo.BuscarPorID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNaoEncontrado) {
			responses.Erro(c, http.StatusNotFound, "DPS não encontrada: "+id)
			return
		}
		responses.Erro(c, http.StatusInternalServerError, err.Error())
		return
	}
	if registro.XMLAssinado == "" {
		responses.Erro(c, http.StatusConflict, "DPS "+id+" não tem documento assinado para reenviar")
		return
	}

	nota, err := h.emissor.Enviar(ctx, registro, emissao.Opcoes{
		Ambiente:      req.Ambiente,
		CertificadoID: req.CertificadoID,
		BaseURL:       req.BaseURL,
	})
	if err != nil {
		var rejeicao *domain.GatewayRejection
		var transitorio *domain.TransientNetworkError
		switch {
		case errors.As(err, &rejeicao):
			responses.ErroDetalhado(c, http.StatusUnprocessableEntity, rejeicao.Error(), gin.H{
				"codigo":   rejeicao.Codigo,
				"mensagem": rejeicao.Mensagem,
			})
		case errors.As(err, &transitorio):
			responses.Erro(c, http.StatusBadGateway, transitorio.Error()+"; a operação pode ser retentada com o mesmo documento")
		default:
			responses.Erro(c, http.StatusInternalServerError, err.Error())
		}
		return
	}

	responses.OK(c, gin.H{"dps": registro, "nota": nota})
}

type reconciliarRequest struct {
	Ambiente      string   `json:"ambiente"`
	CertificadoID string   `json:"certificateId"`
	BaseURL       string   `json:"baseUrl"`
	Chave         string   `json:"chave"`
	NotaIDs       []string `json:"notaIds"`
	Limit         int      `json:"limit"`
	All           bool     `json:"all"`
}

// HandleReconciliar dispara uma passada de reconciliação sob demanda.
func (h *NfseHandler) HandleReconciliar(c *gin.Context) {
	var req reconciliarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.Erro(c, http.StatusBadRequest, "corpo da requisição inválido: "+err.Error())
		return
	}

	ambiente := h.ambiente
	if req.Ambiente == string(domain.AmbienteProducao) {
		ambiente = domain.AmbienteProducao
	} else if req.Ambiente == string(domain.AmbienteHomologacao) {
		ambiente = domain.AmbienteHomologacao
	}

	resultados := h.reconciliador.Reconciliar(c.Request.Context(), reconciliacao.Requisicao{
		Chave:   req.Chave,
		NotaIDs: req.NotaIDs,
		Limite:  req.Limit,
		Todas:   req.All,
		Opcoes: reconciliacao.Opcoes{
			Ambiente:      ambiente,
			CertificadoID: req.CertificadoID,
			BaseURL:       req.BaseURL,
		},
	})
	responses.OK(c, resultados)
}

type cancelarRequest struct {
	CodigoCancelamento string          `json:"codigoCancelamento" binding:"required"`
	MotivoCancelamento string          `json:"motivoCancelamento"`
	XMLCancelamento    json.RawMessage `json:"xmlCancelamento"`
}

// HandleCancelar marca a nota como cancelada e arquiva o XML de cancelamento
// exatamente como recebido (string ou objeto).
func (h *NfseHandler) HandleCancelar(c *gin.Context) {
	id := c.Param("id")
	var req cancelarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.Erro(c, http.StatusBadRequest, "corpo da requisição inválido: "+err.Error())
		return
	}
	ctx := c.Request.Context()

	nota, err := h.notas.BuscarNotaPorID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNaoEncontrado) {
			responses.Erro(c, http.StatusNotFound, "nota não encontrada: "+id)
			return
		}
		responses.Erro(c, http.StatusInternalServerError, err.Error())
		return
	}

	xmlCancelamento := string(req.XMLCancelamento)
	var desenvelopado string
	if err := json.Unmarshal(req.XMLCancelamento, &desenvelopado); err == nil {
		xmlCancelamento = desenvelopado
	}

	agora := time.Now()
	nota.Status = domain.StatusCancelada
	nota.StatusCode = domain.StatusCancelada.CodigoWire()
	nota.StatusNfse = "Cancelada"
	nota.DataCancelamento = &agora
	nota.XMLCancelamento = xmlCancelamento
	if err := h.notas.AtualizarNota(ctx, nota); err != nil {
		responses.Erro(c, http.StatusInternalServerError, "falha ao gravar cancelamento: "+err.Error())
		return
	}

	h.log.Info("nota cancelada",
		zap.String("notaId", nota.ID),
		zap.String("chaveAcesso", nota.ChaveAcesso),
		zap.String("codigoCancelamento", req.CodigoCancelamento))
	responses.OK(c, nota)
}

// HandleBuscarNota devolve a nota persistida com seu status corrente.
func (h *NfseHandler) HandleBuscarNota(c *gin.Context) {
	nota, err := h.notas.BuscarNotaPorID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNaoEncontrado) {
			responses.Erro(c, http.StatusNotFound, "nota não encontrada: "+c.Param("id"))
			return
		}
		responses.Erro(c, http.StatusInternalServerError, err.Error())
		return
	}
	responses.OK(c, nota)
}

// HandleCredenciaisAtualizadas descarta o token em cache do prestador após a
// rotação das credenciais de robô.
func (h *NfseHandler) HandleCredenciaisAtualizadas(c *gin.Context) {
	prestadorID := c.Param("prestadorId")
	h.tokens.Invalidar(prestadorID)
	responses.OK(c, gin.H{"prestadorId": prestadorID, "tokenInvalidado": true})
}
