// internal/domain/dps_xml.go
package domain

import "encoding/xml"

// Estrutura de arame da DPS conforme o layout nacional. O atributo xmlns só é
// emitido a partir da versão 1.01; na 1.00 o elemento raiz vai sem namespace.
type DpsXML struct {
	XMLName xml.Name `xml:"DPS"`
	Versao  string   `xml:"versao,attr"`
	Xmlns   string   `xml:"xmlns,attr,omitempty"`
	InfDps  InfDps   `xml:"infDPS"`
}

type InfDps struct {
	ID          string     `xml:"Id,attr"`
	TpAmb       string     `xml:"tpAmb"`
	DhEmi       string     `xml:"dhEmi"`
	VerAplic    string     `xml:"verAplic"`
	Serie       string     `xml:"serie"`
	NDps        string     `xml:"nDPS"`
	DCompet     string     `xml:"dCompet"`
	TpEmis      string     `xml:"tpEmis"`
	CLocEmi     string     `xml:"cLocEmi"`
	Prestador   PrestXML   `xml:"prest"`
	Tomador     *TomaXML   `xml:"toma,omitempty"`
	Servico     ServXML    `xml:"serv"`
	Valores     ValoresXML `xml:"valores"`
	Observacoes string     `xml:"obs,omitempty"`
}

type PrestXML struct {
	CNPJ       string `xml:"CNPJ"`
	IM         string `xml:"IM,omitempty"`
	XNome      string `xml:"xNome"`
	OpSimpNac  string `xml:"regTrib>opSimpNac"`
	RegEspTrib string `xml:"regTrib>regEspTrib"`
}

type TomaXML struct {
	CNPJ  string       `xml:"CNPJ,omitempty"`
	CPF   string       `xml:"CPF,omitempty"`
	XNome string       `xml:"xNome"`
	End   *EnderecoXML `xml:"end,omitempty"`
}

type EnderecoXML struct {
	CMun string `xml:"cMun,omitempty"`
	CEP  string `xml:"CEP,omitempty"`
}

type ServXML struct {
	CLocPrestacao string `xml:"locPrest>cLocPrestacao"`
	CTribNac      string `xml:"cServ>cTribNac"`
	CTribMun      string `xml:"cServ>cTribMun"`
	XDescServ     string `xml:"cServ>xDescServ"`
}

type ValoresXML struct {
	VServ       string `xml:"vServPrest>vServ"`
	VDeducoes   string `xml:"vDescCondIncond>vDeducoes,omitempty"`
	VDescIncond string `xml:"vDescCondIncond>vDescIncond,omitempty"`
	VDescCond   string `xml:"vDescCondIncond>vDescCond,omitempty"`
	TribISSQN   string `xml:"trib>tribMun>tribISSQN"`
	TpRetISSQN  string `xml:"trib>tribMun>tpRetISSQN"`
	PAliq       string `xml:"trib>tribMun>pAliq,omitempty"`
	VBC         string `xml:"trib>vBC,omitempty"`
	VIss        string `xml:"trib>vIss,omitempty"`
	VLiq        string `xml:"vLiq"`
	VPis        string `xml:"trib>tribFed>vPis,omitempty"`
	VCofins     string `xml:"trib>tribFed>vCofins,omitempty"`
	VInss       string `xml:"trib>tribFed>vInss,omitempty"`
	VIr         string `xml:"trib>tribFed>vIr,omitempty"`
	VCsll       string `xml:"trib>tribFed>vCsll,omitempty"`
	VOutras     string `xml:"trib>tribFed>vOutrasRet,omitempty"`
}
