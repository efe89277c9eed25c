// internal/domain/models.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatusDps representa o ciclo de vida de uma DPS no emissor.
type StatusDps string

const (
	StatusRascunho   StatusDps = "RASCUNHO"
	StatusAssinado   StatusDps = "ASSINADO"
	StatusEnviado    StatusDps = "ENVIADO"
	StatusAutorizada StatusDps = "AUTORIZADA"
	StatusCancelada  StatusDps = "CANCELADA"
	StatusErro       StatusDps = "ERRO"
)

// Códigos numéricos usados pelo gateway e persistidos em notas antigas.
// A conversão acontece somente na borda de serialização.
const (
	codigoWireAutorizada = "1"
	codigoWireCancelada  = "2"
	codigoWireErro       = "3"
	codigoWirePendente   = "0"
)

// CodigoWire devolve o código numérico do gateway para o status interno.
func (s StatusDps) CodigoWire() string {
	switch s {
	case StatusAutorizada:
		return codigoWireAutorizada
	case StatusCancelada:
		return codigoWireCancelada
	case StatusErro:
		return codigoWireErro
	default:
		return codigoWirePendente
	}
}

// StatusDeCodigoWire converte o código numérico do gateway para o enum interno.
func StatusDeCodigoWire(codigo string) StatusDps {
	switch codigo {
	case codigoWireAutorizada:
		return StatusAutorizada
	case codigoWireCancelada:
		return StatusCancelada
	case codigoWireErro:
		return StatusErro
	default:
		return StatusEnviado
	}
}

// Ambiente de emissão junto à SEFIN Nacional.
type Ambiente string

const (
	AmbienteProducao    Ambiente = "PRODUCAO"
	AmbienteHomologacao Ambiente = "HOMOLOGACAO"
)

// CodigoTpAmb devolve o código de ambiente do layout (1=produção, 2=homologação).
func (a Ambiente) CodigoTpAmb() string {
	if a == AmbienteProducao {
		return "1"
	}
	return "2"
}

// StatusExterno é o resultado da consulta de situação no gateway.
type StatusExterno string

const (
	ExternoAutorizada    StatusExterno = "autorizada"
	ExternoCancelada     StatusExterno = "cancelada"
	ExternoNaoEncontrada StatusExterno = "nao_encontrada"
	ExternoDesconhecido  StatusExterno = "desconhecido"
)

// Dps é a Declaração de Prestação de Serviços construída pelo emissor.
type Dps struct {
	ID           string    `firestore:"id" json:"id"`
	IdDps        string    `firestore:"idDps" json:"idDps"`
	PrestadorID  string    `firestore:"prestadorId" json:"prestadorId"`
	TomadorID    string    `firestore:"tomadorId,omitempty" json:"tomadorId,omitempty"`
	ServicoID    string    `firestore:"servicoId" json:"servicoId"`
	Serie        string    `firestore:"serie" json:"serie"`
	Numero       string    `firestore:"numero" json:"numero"`
	Competencia  string    `firestore:"competencia" json:"competencia"`
	DataEmissao  string    `firestore:"dataEmissao" json:"dataEmissao"`
	TipoEmissao  string    `firestore:"tipoEmissao" json:"tipoEmissao"`
	Status       StatusDps `firestore:"status" json:"status"`
	Observacoes  string    `firestore:"observacoes,omitempty" json:"observacoes,omitempty"`
	XML          string    `firestore:"xml,omitempty" json:"-"`
	XMLAssinado  string    `firestore:"xmlAssinado,omitempty" json:"-"`
	MensagemErro string    `firestore:"mensagemErro,omitempty" json:"mensagemErro,omitempty"`
	CriadoEm     time.Time `firestore:"criadoEm" json:"criadoEm"`
	AtualizadoEm time.Time `firestore:"atualizadoEm" json:"atualizadoEm"`
}

// NotaFiscal é o artefato autorizado pela SEFIN. A chave de acesso, uma vez
// gravada, nunca muda; a reconciliação só ajusta status e carimbos.
type NotaFiscal struct {
	ID                string     `firestore:"id" json:"id"`
	DpsID             string     `firestore:"dpsId" json:"dpsId"`
	PrestadorID       string     `firestore:"prestadorId" json:"prestadorId"`
	ChaveAcesso       string     `firestore:"chaveAcesso" json:"chaveAcesso"`
	Numero            string     `firestore:"numero" json:"numero"`
	CodigoVerificacao string     `firestore:"codigoVerificacao,omitempty" json:"codigoVerificacao,omitempty"`
	URLNfse           string     `firestore:"urlNfse,omitempty" json:"urlNfse,omitempty"`
	Ambiente          Ambiente   `firestore:"ambiente" json:"ambiente"`
	Status            StatusDps  `firestore:"status" json:"status"`
	StatusCode        string     `firestore:"statusCode" json:"statusCode"`
	StatusNfse        string     `firestore:"statusNfse,omitempty" json:"statusNfse,omitempty"`
	NfseXML           string     `firestore:"nfseXML,omitempty" json:"-"`
	XMLCancelamento   string     `firestore:"xmlCancelamento,omitempty" json:"-"`
	DataCancelamento  *time.Time `firestore:"dataCancelamento,omitempty" json:"dataCancelamento,omitempty"`
	CriadoEm          time.Time  `firestore:"criadoEm" json:"criadoEm"`
	AtualizadoEm      time.Time  `firestore:"atualizadoEm" json:"atualizadoEm"`
}

// CredenciaisRobo é o par client-credentials usado na autenticação
// máquina-a-máquina com a SEFIN, por prestador.
type CredenciaisRobo struct {
	PrestadorID  string `firestore:"prestadorId"`
	ClientID     string `firestore:"clientId"`
	ClientSecret string `firestore:"clientSecret"`
	Scope        string `firestore:"scope"`
}

// PrestadorInfo carrega os dados fiscais do emitente usados na montagem da DPS.
type PrestadorInfo struct {
	CNPJ               string `json:"cnpj"`
	InscricaoMunicipal string `json:"inscricaoMunicipal,omitempty"`
	RazaoSocial        string `json:"razaoSocial"`
	CodigoMunicipio    string `json:"codigoMunicipio"`
	OptanteSimples     string `json:"optanteSimples"`
	RegimeEspecial     string `json:"regimeEspecial"`
}

// TomadorInfo identifica o tomador. Ausente quando o tomador não é identificado.
type TomadorInfo struct {
	CNPJ            string `json:"cnpj,omitempty"`
	CPF             string `json:"cpf,omitempty"`
	RazaoSocial     string `json:"razaoSocial"`
	CEP             string `json:"cep,omitempty"`
	CodigoMunicipio string `json:"codigoMunicipio,omitempty"`
}

// ServicoInfo descreve o serviço prestado e seus códigos tributários.
type ServicoInfo struct {
	Descricao           string `json:"descricao"`
	CodigoTribNacional  string `json:"codigoTribNacional"`
	CodigoTribMunicipal string `json:"codigoTribMunicipal"`
	LocalPrestacao      string `json:"localPrestacao"`
	TribISSQN           string `json:"tribISSQN"`
	TipoRetencaoISSQN   string `json:"tipoRetencaoISSQN"`
}

// ValoresServico são os valores monetários declarados pelo operador.
type ValoresServico struct {
	Valor                  decimal.Decimal `json:"valor"`
	Aliquota               decimal.Decimal `json:"aliquota"`
	Deducoes               decimal.Decimal `json:"deducoes"`
	DescontoIncondicionado decimal.Decimal `json:"descontoIncondicionado"`
	DescontoCondicionado   decimal.Decimal `json:"descontoCondicionado"`
	Pis                    decimal.Decimal `json:"pis"`
	Cofins                 decimal.Decimal `json:"cofins"`
	Inss                   decimal.Decimal `json:"inss"`
	Ir                     decimal.Decimal `json:"ir"`
	Csll                   decimal.Decimal `json:"csll"`
	OutrasRetencoes        decimal.Decimal `json:"outrasRetencoes"`
	ISSRetido              bool            `json:"issRetido"`
}

// ValoresCalculados são os campos derivados na montagem da DPS.
type ValoresCalculados struct {
	BaseCalculo  decimal.Decimal `json:"baseCalculo"`
	ValorIss     decimal.Decimal `json:"valorIss"`
	ValorLiquido decimal.Decimal `json:"valorLiquido"`
}

// DadosEmissao é a requisição de negócio que o Builder transforma em DPS.
type DadosEmissao struct {
	PrestadorID     string         `json:"prestadorId"`
	TomadorID       string         `json:"tomadorId,omitempty"`
	ServicoID       string         `json:"servicoId"`
	Prestador       PrestadorInfo  `json:"prestador"`
	Tomador         *TomadorInfo   `json:"tomador,omitempty"`
	Servico         ServicoInfo    `json:"servico"`
	Valores         ValoresServico `json:"valores"`
	Serie           string         `json:"serie"`
	Competencia     string         `json:"competencia"`
	Ambiente        Ambiente       `json:"ambiente"`
	TipoEmissao     string         `json:"tipoEmissao"`
	VersaoAplicacao string         `json:"versaoAplicacao"`
	VersaoLayout    string         `json:"versaoLayout,omitempty"`
	Observacoes     string         `json:"observacoes,omitempty"`
}

// ResultadoReconciliacao é o desfecho individual de cada nota em um lote.
type ResultadoReconciliacao struct {
	Chave              string        `json:"chave"`
	StatusExterno      StatusExterno `json:"statusExterno"`
	StatusInternoAntes string        `json:"statusInternoAntes,omitempty"`
	Atualizado         bool          `json:"atualizado"`
	Erro               string        `json:"erro,omitempty"`
}
