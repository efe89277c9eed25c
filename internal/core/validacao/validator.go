// internal/core/validacao/validator.go
package validacao

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/LuisEduardoPedra/emissorNfse/internal/domain"
)

// Resultado agrega o desfecho da validação estrutural. Zero erros significa
// que o documento é seguro para assinar e transmitir; avisos nunca bloqueiam,
// mas devem chegar ao operador.
type Resultado struct {
	Valido bool              `json:"valido"`
	Erros  []domain.Violacao `json:"erros"`
	Avisos []domain.Violacao `json:"avisos,omitempty"`
}

var (
	reDigitos     = regexp.MustCompile(`^\d+$`)
	reIdDps       = regexp.MustCompile(`^DPS\d{42}$`)
	reDCompet     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	reMonetario   = regexp.MustCompile(`^\d+\.\d{2}$`)
	reCTribNac    = regexp.MustCompile(`^(\d{4}|\d{6})$`)
	reChaveAcesso = regexp.MustCompile(`^\d{50}$`)
	reOffsetDhEmi = regexp.MustCompile(`[+-]\d{2}:\d{2}$`)
)

// ChaveAcessoValida informa se a chave tem o formato de 50 dígitos da SEFIN.
func ChaveAcessoValida(chave string) bool {
	return reChaveAcesso.MatchString(chave)
}

// ValidarXML desserializa e valida o documento completo.
func ValidarXML(xmlBytes []byte) Resultado {
	var doc domain.DpsXML
	if err := xml.Unmarshal(xmlBytes, &doc); err != nil {
		return Resultado{
			Valido: false,
			Erros: []domain.Violacao{{
				Field:   "xml",
				Message: fmt.Sprintf("falha ao desserializar DPS: %v", err),
			}},
		}
	}
	return Validar(&doc)
}

// Validar aplica todas as regras de formato da SEFIN, de forma independente e
// exaustiva. Nunca para na primeira violação.
func Validar(doc *domain.DpsXML) Resultado {
	var erros, avisos []domain.Violacao

	erro := func(field, msg, valor string) {
		erros = append(erros, domain.Violacao{Field: field, Message: msg, OffendingValue: valor})
	}
	aviso := func(field, msg, valor string) {
		avisos = append(avisos, domain.Violacao{Field: field, Message: msg, OffendingValue: valor})
	}

	inf := doc.InfDps

	// Identificador e versão do layout.
	if len(inf.ID) != 45 || !reIdDps.MatchString(inf.ID) {
		erro("Id", "identificador deve ter 45 caracteres iniciando em DPS seguido de 42 dígitos", inf.ID)
	}
	switch doc.Versao {
	case "1.00":
		if doc.Xmlns != "" {
			aviso("versao", "declaração de namespace inesperada para o layout 1.00", doc.Xmlns)
		}
	case "1.01":
		// namespace opcional; aceito com ou sem declaração
	default:
		erro("versao", "versão de layout desconhecida; esperado 1.00 ou 1.01", doc.Versao)
	}

	// Ambiente e elementos obrigatórios de identificação.
	if inf.TpAmb != "1" && inf.TpAmb != "2" {
		erro("tpAmb", "código de ambiente deve ser 1 (produção) ou 2 (homologação)", inf.TpAmb)
	}
	if inf.TpEmis == "" {
		erro("tpEmis", "tipo de emissão é obrigatório", "")
	}
	if inf.VerAplic == "" {
		erro("verAplic", "versão da aplicação emissora é obrigatória", "")
	}

	// Larguras fixas de códigos.
	if len(inf.Prestador.CNPJ) != 14 || !reDigitos.MatchString(inf.Prestador.CNPJ) {
		erro("prest.CNPJ", "CNPJ do prestador deve ter exatamente 14 dígitos", inf.Prestador.CNPJ)
	}
	if len(inf.Serie) != 5 || !reDigitos.MatchString(inf.Serie) {
		erro("serie", "série deve ter exatamente 5 dígitos", inf.Serie)
	}
	if len(inf.NDps) != 15 || !reDigitos.MatchString(inf.NDps) {
		erro("nDPS", "número da DPS deve ter exatamente 15 dígitos", inf.NDps)
	}
	if len(inf.CLocEmi) != 7 || !reDigitos.MatchString(inf.CLocEmi) {
		erro("cLocEmi", "código de município de emissão deve ter exatamente 7 dígitos", inf.CLocEmi)
	}
	if len(inf.Servico.CLocPrestacao) != 7 || !reDigitos.MatchString(inf.Servico.CLocPrestacao) {
		erro("cLocPrestacao", "código de município da prestação deve ter exatamente 7 dígitos", inf.Servico.CLocPrestacao)
	}
	if inf.Tomador != nil && inf.Tomador.End != nil {
		if end := inf.Tomador.End; end.CMun != "" && (len(end.CMun) != 7 || !reDigitos.MatchString(end.CMun)) {
			erro("toma.end.cMun", "código de município do tomador deve ter exatamente 7 dígitos", end.CMun)
		}
		if end := inf.Tomador.End; end.CEP != "" && (len(end.CEP) != 8 || !reDigitos.MatchString(end.CEP)) {
			erro("toma.end.CEP", "CEP deve ter exatamente 8 dígitos", end.CEP)
		}
	}

	// Datas.
	if !reDCompet.MatchString(inf.DCompet) {
		erro("dCompet", "competência deve estar no formato YYYY-MM-DD", inf.DCompet)
	} else if _, err := time.Parse("2006-01-02", inf.DCompet); err != nil {
		erro("dCompet", "competência não é uma data válida", inf.DCompet)
	}
	if inf.DhEmi == "" {
		erro("dhEmi", "data de emissão é obrigatória", "")
	} else if _, err := time.Parse(time.RFC3339, inf.DhEmi); err != nil {
		erro("dhEmi", "data de emissão deve ser ISO-8601 completa", inf.DhEmi)
	} else if !reOffsetDhEmi.MatchString(inf.DhEmi) {
		erro("dhEmi", "data de emissão exige offset UTC explícito", inf.DhEmi)
	}

	// Valores monetários com duas casas.
	validarMonetario := func(field, valor string, obrigatorio bool) {
		if valor == "" {
			if obrigatorio {
				erro(field, "valor monetário obrigatório ausente", "")
			}
			return
		}
		if !reMonetario.MatchString(valor) {
			erro(field, "valor monetário deve ter duas casas decimais com ponto", valor)
		}
	}
	validarMonetario("vServ", inf.Valores.VServ, true)
	validarMonetario("vLiq", inf.Valores.VLiq, true)
	validarMonetario("vBC", inf.Valores.VBC, false)
	validarMonetario("vIss", inf.Valores.VIss, false)
	validarMonetario("vDeducoes", inf.Valores.VDeducoes, false)
	validarMonetario("vDescIncond", inf.Valores.VDescIncond, false)
	validarMonetario("vDescCond", inf.Valores.VDescCond, false)
	validarMonetario("vPis", inf.Valores.VPis, false)
	validarMonetario("vCofins", inf.Valores.VCofins, false)
	validarMonetario("vInss", inf.Valores.VInss, false)
	validarMonetario("vIr", inf.Valores.VIr, false)
	validarMonetario("vCsll", inf.Valores.VCsll, false)
	validarMonetario("vOutrasRet", inf.Valores.VOutras, false)

	// Códigos tributários.
	if !reCTribNac.MatchString(inf.Servico.CTribNac) {
		erro("cTribNac", "código de tributação nacional deve ter 4 ou 6 dígitos", inf.Servico.CTribNac)
	} else if len(inf.Servico.CTribNac) == 6 && strings.HasPrefix(inf.Servico.CTribNac, "00") {
		aviso("cTribNac", "código de 6 dígitos com prefixo 00 é suspeito, confira o item da LC 116", inf.Servico.CTribNac)
	}
	if inf.Servico.CTribMun == "" {
		erro("cTribMun", "código de tributação municipal é obrigatório", "")
	} else if !reDigitos.MatchString(inf.Servico.CTribMun) {
		erro("cTribMun", "código de tributação municipal deve conter apenas dígitos", inf.Servico.CTribMun)
	}

	// Regime tributário e retenção.
	if inf.Prestador.OpSimpNac == "" {
		erro("opSimpNac", "situação perante o Simples Nacional é obrigatória", "")
	}
	if inf.Prestador.RegEspTrib == "" {
		erro("regEspTrib", "regime especial de tributação é obrigatório", "")
	}
	if inf.Valores.TribISSQN == "" {
		erro("tribISSQN", "código de tributação do ISSQN é obrigatório", "")
	}
	if inf.Valores.TpRetISSQN == "" {
		erro("tpRetISSQN", "tipo de retenção do ISSQN é obrigatório", "")
	}
	if strings.TrimSpace(inf.Servico.XDescServ) == "" {
		erro("xDescServ", "descrição do serviço é obrigatória", "")
	}

	return Resultado{
		Valido: len(erros) == 0,
		Erros:  erros,
		Avisos: avisos,
	}
}
