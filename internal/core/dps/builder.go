// internal/core/dps/builder.go
package dps

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/LuisEduardoPedra/emissorNfse/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Namespace do layout nacional, emitido apenas a partir da versão 1.01.
const xmlnsNfse = "http://www.sped.fazenda.gov.br/nfse"

const versaoLayoutPadrao = "1.00"

// Fuso fixo de Brasília usado no carimbo de emissão.
var fusoEmissao = time.FixedZone("-03:00", -3*60*60)

// Repositorio é o contrato mínimo de persistência que o Builder consome.
type Repositorio interface {
	ReservarNumero(ctx context.Context, prestadorID, serie string) (int64, error)
	Salvar(ctx context.Context, dps *domain.Dps) error
}

// Service monta a DPS em XML a partir de uma requisição de negócio validada.
type Service interface {
	Construir(ctx context.Context, dados domain.DadosEmissao) (*domain.Dps, error)
}

type service struct {
	repo  Repositorio
	agora func() time.Time
}

// NewService cria uma nova instância do serviço de montagem de DPS.
func NewService(repo Repositorio) Service {
	return &service{repo: repo, agora: time.Now}
}

func (s *service) Construir(ctx context.Context, dados domain.DadosEmissao) (*domain.Dps, error) {
	if err := validarNegocio(dados); err != nil {
		return nil, err
	}

	calc, err := CalcularValores(dados.Valores)
	if err != nil {
		return nil, err
	}

	// A reserva não é desfeita em falha posterior: a sequência pode ter
	// lacunas, nunca duplicatas.
	seq, err := s.repo.ReservarNumero(ctx, dados.PrestadorID, dados.Serie)
	if err != nil {
		return nil, fmt.Errorf("falha ao reservar número da DPS: %w", err)
	}

	numero := fmt.Sprintf("%015d", seq)
	serie := padEsquerda(dados.Serie, 5)
	idDps := MontarIdDps(dados.Prestador.CodigoMunicipio, dados.Prestador.CNPJ, serie, numero)
	dhEmi := s.agora().In(fusoEmissao).Format("2006-01-02T15:04:05-07:00")

	tipoEmissao := dados.TipoEmissao
	if tipoEmissao == "" {
		tipoEmissao = "1"
	}
	versao := dados.VersaoLayout
	if versao == "" {
		versao = versaoLayoutPadrao
	}

	doc := montarXML(dados, calc, idDps, serie, numero, dhEmi, tipoEmissao, versao)
	xmlBytes, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("falha ao serializar DPS: %w", err)
	}

	registro := &domain.Dps{
		ID:          uuid.NewString(),
		IdDps:       idDps,
		PrestadorID: dados.PrestadorID,
		TomadorID:   dados.TomadorID,
		ServicoID:   dados.ServicoID,
		Serie:       serie,
		Numero:      numero,
		Competencia: dados.Competencia,
		DataEmissao: dhEmi,
		TipoEmissao: tipoEmissao,
		Status:      domain.StatusRascunho,
		Observacoes: dados.Observacoes,
		XML:         string(xmlBytes),
	}
	if err := s.repo.Salvar(ctx, registro); err != nil {
		return nil, fmt.Errorf("falha ao gravar DPS em rascunho: %w", err)
	}
	return registro, nil
}

// MontarIdDps compõe o identificador externo de 45 caracteres:
// "DPS" + cLocEmi(7) + tipo de inscrição(1) + CNPJ(14) + série(5) + número(15).
func MontarIdDps(codigoMunicipio, cnpj, serie, numero string) string {
	return "DPS" +
		padEsquerda(codigoMunicipio, 7) +
		"2" + // inscrição federal por CNPJ
		padEsquerda(cnpj, 14) +
		padEsquerda(serie, 5) +
		padEsquerda(numero, 15)
}

// CalcularValores deriva base de cálculo, ISS e valor líquido.
// ISS retido pelo tomador zera o valor de ISS declarado pelo prestador.
func CalcularValores(v domain.ValoresServico) (domain.ValoresCalculados, error) {
	zero := decimal.Zero
	if v.Valor.LessThanOrEqual(zero) {
		return domain.ValoresCalculados{}, &domain.ComputationError{
			Campo:    "valor",
			Mensagem: "valor do serviço deve ser positivo",
		}
	}
	if v.Aliquota.IsNegative() {
		return domain.ValoresCalculados{}, &domain.ComputationError{
			Campo:    "aliquota",
			Mensagem: "alíquota não pode ser negativa",
		}
	}
	if v.Deducoes.Add(v.DescontoIncondicionado).GreaterThan(v.Valor) {
		return domain.ValoresCalculados{}, &domain.ComputationError{
			Campo:    "deducoes",
			Mensagem: "deduções e desconto incondicionado excedem o valor do serviço",
		}
	}

	base := v.Valor.Sub(v.Deducoes).Sub(v.DescontoIncondicionado)
	if base.IsNegative() {
		base = zero
	}

	var iss decimal.Decimal
	if !v.ISSRetido {
		iss = base.Mul(v.Aliquota).Div(decimal.NewFromInt(100)).Round(2)
	}

	liquido := v.Valor.
		Sub(v.Deducoes).
		Sub(v.DescontoIncondicionado).
		Sub(v.DescontoCondicionado).
		Sub(v.Pis).Sub(v.Cofins).Sub(v.Inss).Sub(v.Ir).Sub(v.Csll).
		Sub(v.OutrasRetencoes)
	if v.ISSRetido {
		liquido = liquido.Sub(iss)
	}
	if liquido.IsNegative() {
		liquido = zero
	}

	return domain.ValoresCalculados{
		BaseCalculo:  base.Round(2),
		ValorIss:     iss,
		ValorLiquido: liquido.Round(2),
	}, nil
}

func validarNegocio(dados domain.DadosEmissao) error {
	var violacoes []domain.Violacao

	if strings.TrimSpace(dados.Servico.Descricao) == "" {
		violacoes = append(violacoes, domain.Violacao{
			Field:   "servico.descricao",
			Message: "descrição do serviço é obrigatória",
		})
	}
	if dados.Valores.Valor.LessThanOrEqual(decimal.Zero) {
		violacoes = append(violacoes, domain.Violacao{
			Field:          "valores.valor",
			Message:        "valor unitário deve ser positivo",
			OffendingValue: dados.Valores.Valor.String(),
		})
	}
	if strings.TrimSpace(dados.Prestador.CNPJ) == "" {
		violacoes = append(violacoes, domain.Violacao{
			Field:   "prestador.cnpj",
			Message: "CNPJ do prestador é obrigatório",
		})
	}
	if strings.TrimSpace(dados.Serie) == "" {
		violacoes = append(violacoes, domain.Violacao{
			Field:   "serie",
			Message: "série é obrigatória",
		})
	}
	if strings.TrimSpace(dados.Competencia) == "" {
		violacoes = append(violacoes, domain.Violacao{
			Field:   "competencia",
			Message: "competência é obrigatória",
		})
	}
	// Tomador presente exige identidade completa; ausente significa
	// "tomador não identificado" e é aceito.
	if dados.Tomador != nil {
		if dados.Tomador.CNPJ == "" && dados.Tomador.CPF == "" {
			violacoes = append(violacoes, domain.Violacao{
				Field:   "tomador",
				Message: "tomador identificado exige CNPJ ou CPF",
			})
		}
		if strings.TrimSpace(dados.Tomador.RazaoSocial) == "" {
			violacoes = append(violacoes, domain.Violacao{
				Field:   "tomador.razaoSocial",
				Message: "razão social do tomador é obrigatória",
			})
		}
	}

	if len(violacoes) > 0 {
		return &domain.ValidationError{Violacoes: violacoes}
	}
	return nil
}

func montarXML(dados domain.DadosEmissao, calc domain.ValoresCalculados, idDps, serie, numero, dhEmi, tipoEmissao, versao string) domain.DpsXML {
	valores := domain.ValoresXML{
		VServ:      dados.Valores.Valor.StringFixed(2),
		TribISSQN:  dados.Servico.TribISSQN,
		TpRetISSQN: dados.Servico.TipoRetencaoISSQN,
		VBC:        calc.BaseCalculo.StringFixed(2),
		VIss:       calc.ValorIss.StringFixed(2),
		VLiq:       calc.ValorLiquido.StringFixed(2),
	}
	if !dados.Valores.Aliquota.IsZero() {
		valores.PAliq = dados.Valores.Aliquota.StringFixed(2)
	}
	if !dados.Valores.Deducoes.IsZero() {
		valores.VDeducoes = dados.Valores.Deducoes.StringFixed(2)
	}
	if !dados.Valores.DescontoIncondicionado.IsZero() {
		valores.VDescIncond = dados.Valores.DescontoIncondicionado.StringFixed(2)
	}
	if !dados.Valores.DescontoCondicionado.IsZero() {
		valores.VDescCond = dados.Valores.DescontoCondicionado.StringFixed(2)
	}
	if !dados.Valores.Pis.IsZero() {
		valores.VPis = dados.Valores.Pis.StringFixed(2)
	}
	if !dados.Valores.Cofins.IsZero() {
		valores.VCofins = dados.Valores.Cofins.StringFixed(2)
	}
	if !dados.Valores.Inss.IsZero() {
		valores.VInss = dados.Valores.Inss.StringFixed(2)
	}
	if !dados.Valores.Ir.IsZero() {
		valores.VIr = dados.Valores.Ir.StringFixed(2)
	}
	if !dados.Valores.Csll.IsZero() {
		valores.VCsll = dados.Valores.Csll.StringFixed(2)
	}
	if !dados.Valores.OutrasRetencoes.IsZero() {
		valores.VOutras = dados.Valores.OutrasRetencoes.StringFixed(2)
	}

	doc := domain.DpsXML{
		Versao: versao,
		InfDps: domain.InfDps{
			ID:       idDps,
			TpAmb:    dados.Ambiente.CodigoTpAmb(),
			DhEmi:    dhEmi,
			VerAplic: dados.VersaoAplicacao,
			Serie:    serie,
			NDps:     numero,
			DCompet:  dados.Competencia,
			TpEmis:   tipoEmissao,
			CLocEmi:  dados.Prestador.CodigoMunicipio,
			Prestador: domain.PrestXML{
				CNPJ:       dados.Prestador.CNPJ,
				IM:         dados.Prestador.InscricaoMunicipal,
				XNome:      dados.Prestador.RazaoSocial,
				OpSimpNac:  dados.Prestador.OptanteSimples,
				RegEspTrib: dados.Prestador.RegimeEspecial,
			},
			Servico: domain.ServXML{
				CLocPrestacao: dados.Servico.LocalPrestacao,
				CTribNac:      dados.Servico.CodigoTribNacional,
				CTribMun:      dados.Servico.CodigoTribMunicipal,
				XDescServ:     dados.Servico.Descricao,
			},
			Valores:     valores,
			Observacoes: dados.Observacoes,
		},
	}
	if versao != versaoLayoutPadrao {
		doc.Xmlns = xmlnsNfse
	}
	if dados.Tomador != nil {
		toma := &domain.TomaXML{
			CNPJ:  dados.Tomador.CNPJ,
			CPF:   dados.Tomador.CPF,
			XNome: dados.Tomador.RazaoSocial,
		}
		if dados.Tomador.CEP != "" || dados.Tomador.CodigoMunicipio != "" {
			toma.End = &domain.EnderecoXML{
				CMun: dados.Tomador.CodigoMunicipio,
				CEP:  dados.Tomador.CEP,
			}
		}
		doc.InfDps.Tomador = toma
	}
	return doc
}

// padEsquerda completa com zeros à esquerda até a largura pedida.
// Nunca trunca: valores acima da largura são reprovados pelo validador.
func padEsquerda(s string, largura int) string {
	if len(s) >= largura {
		return s
	}
	return strings.Repeat("0", largura-len(s)) + s
}
