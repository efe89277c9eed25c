package validacao

import (
	"strings"
	"testing"

	"github.com/LuisEduardoPedra/emissorNfse/internal/domain"
)

func docValido() domain.DpsXML {
	return domain.DpsXML{
		Versao: "1.00",
		InfDps: domain.InfDps{
			ID:       "DPS310620020506573600016100001000000000000042",
			TpAmb:    "2",
			DhEmi:    "2026-08-28T10:30:00-03:00",
			VerAplic: "emissorNfse-1.0",
			Serie:    "00001",
			NDps:     "000000000000042",
			DCompet:  "2026-08-01",
			TpEmis:   "1",
			CLocEmi:  "3106200",
			Prestador: domain.PrestXML{
				CNPJ:       "05065736000161",
				XNome:      "Prestadora Exemplo LTDA",
				OpSimpNac:  "2",
				RegEspTrib: "0",
			},
			Tomador: &domain.TomaXML{
				CNPJ:  "11222333000181",
				XNome: "Tomadora Exemplo SA",
				End: &domain.EnderecoXML{
					CMun: "3106200",
					CEP:  "30627222",
				},
			},
			Servico: domain.ServXML{
				CLocPrestacao: "3106200",
				CTribNac:      "010701",
				CTribMun:      "6311900",
				XDescServ:     "Desenvolvimento de software sob encomenda",
			},
			Valores: domain.ValoresXML{
				VServ:      "1000.00",
				TribISSQN:  "1",
				TpRetISSQN: "1",
				VBC:        "1000.00",
				VIss:       "50.00",
				VLiq:       "1000.00",
			},
		},
	}
}

func temErro(r Resultado, campo string) bool {
	for _, e := range r.Erros {
		if e.Field == campo {
			return true
		}
	}
	return false
}

func TestValidarDocumentoValido(t *testing.T) {
	doc := docValido()
	r := Validar(&doc)
	if !r.Valido {
		t.Fatalf("documento válido reprovado: %v", r.Erros)
	}
	if len(r.Erros) != 0 {
		t.Errorf("esperado zero erros, obtidos %v", r.Erros)
	}
}

func TestValidarColetaTodasAsViolacoes(t *testing.T) {
	doc := docValido()
	doc.InfDps.Prestador.CNPJ = "123"
	doc.InfDps.Serie = "1"
	doc.InfDps.Valores.VServ = ""
	doc.InfDps.DCompet = "28/08/2026"

	r := Validar(&doc)
	if r.Valido {
		t.Fatal("documento com quatro violações não pode ser válido")
	}
	for _, campo := range []string{"prest.CNPJ", "serie", "vServ", "dCompet"} {
		if !temErro(r, campo) {
			t.Errorf("violação esperada no campo %s, erros obtidos: %v", campo, r.Erros)
		}
	}
	if len(r.Erros) < 4 {
		t.Errorf("validador deve coletar todas as violações, obteve apenas %d", len(r.Erros))
	}
}

func TestValidarIdentificador(t *testing.T) {
	t.Run("Identificador com 44 caracteres reprova", func(t *testing.T) {
		doc := docValido()
		doc.InfDps.ID = doc.InfDps.ID[:44]
		if r := Validar(&doc); !temErro(r, "Id") {
			t.Error("identificador truncado deveria reprovar")
		}
	})
	t.Run("Identificador sem prefixo DPS reprova", func(t *testing.T) {
		doc := docValido()
		doc.InfDps.ID = "XPS" + doc.InfDps.ID[3:]
		if r := Validar(&doc); !temErro(r, "Id") {
			t.Error("prefixo diferente de DPS deveria reprovar")
		}
	})
}

func TestValidarLargurasDeCodigo(t *testing.T) {
	t.Run("CEP de 8 dígitos passa e código de município parcial reprova", func(t *testing.T) {
		doc := docValido()
		doc.InfDps.Tomador.End.CEP = "30627222"
		doc.InfDps.Tomador.End.CMun = "31062"
		r := Validar(&doc)
		if temErro(r, "toma.end.CEP") {
			t.Error("CEP válido de 8 dígitos não deveria reprovar")
		}
		if !temErro(r, "toma.end.cMun") {
			t.Error("código de município com 5 dígitos deveria reprovar")
		}
	})
	t.Run("CEP com letra reprova", func(t *testing.T) {
		doc := docValido()
		doc.InfDps.Tomador.End.CEP = "3062722A"
		if r := Validar(&doc); !temErro(r, "toma.end.CEP") {
			t.Error("CEP com caractere não numérico deveria reprovar")
		}
	})
}

func TestValidarDatas(t *testing.T) {
	t.Run("Data de emissão sem offset reprova", func(t *testing.T) {
		doc := docValido()
		doc.InfDps.DhEmi = "2026-08-28T10:30:00Z"
		if r := Validar(&doc); !temErro(r, "dhEmi") {
			t.Error("dhEmi com Z em vez de offset numérico deveria reprovar")
		}
	})
	t.Run("Competência com dia inexistente reprova", func(t *testing.T) {
		doc := docValido()
		doc.InfDps.DCompet = "2026-02-30"
		if r := Validar(&doc); !temErro(r, "dCompet") {
			t.Error("30 de fevereiro deveria reprovar")
		}
	})
}

func TestValidarValoresMonetarios(t *testing.T) {
	doc := docValido()
	doc.InfDps.Valores.VLiq = "1000"
	doc.InfDps.Valores.VIss = "50.5"
	r := Validar(&doc)
	if !temErro(r, "vLiq") {
		t.Error("valor sem casas decimais deveria reprovar")
	}
	if !temErro(r, "vIss") {
		t.Error("valor com uma casa decimal deveria reprovar")
	}
}

func TestValidarCodigosTributarios(t *testing.T) {
	t.Run("Código nacional de 4 dígitos passa", func(t *testing.T) {
		doc := docValido()
		doc.InfDps.Servico.CTribNac = "0107"
		if r := Validar(&doc); temErro(r, "cTribNac") {
			t.Error("código de 4 dígitos deveria passar")
		}
	})
	t.Run("Código nacional de 5 dígitos reprova", func(t *testing.T) {
		doc := docValido()
		doc.InfDps.Servico.CTribNac = "01070"
		if r := Validar(&doc); !temErro(r, "cTribNac") {
			t.Error("código de 5 dígitos deveria reprovar")
		}
	})
	t.Run("Código de 6 dígitos com prefixo 00 gera aviso sem bloquear", func(t *testing.T) {
		doc := docValido()
		doc.InfDps.Servico.CTribNac = "000701"
		r := Validar(&doc)
		if !r.Valido {
			t.Errorf("aviso não pode bloquear o documento: %v", r.Erros)
		}
		if len(r.Avisos) == 0 {
			t.Error("prefixo 00 em código de 6 dígitos deveria gerar aviso")
		}
	})
}

func TestValidarVersaoLayout(t *testing.T) {
	t.Run("Namespace no layout 1.00 é aviso", func(t *testing.T) {
		doc := docValido()
		doc.Xmlns = "http://www.sped.fazenda.gov.br/nfse"
		r := Validar(&doc)
		if !r.Valido {
			t.Errorf("namespace no 1.00 não pode bloquear: %v", r.Erros)
		}
		if len(r.Avisos) == 0 {
			t.Error("namespace no layout 1.00 deveria gerar aviso")
		}
	})
	t.Run("Versão desconhecida reprova", func(t *testing.T) {
		doc := docValido()
		doc.Versao = "2.00"
		if r := Validar(&doc); !temErro(r, "versao") {
			t.Error("versão 2.00 deveria reprovar")
		}
	})
}

func TestValidarXMLRoundTrip(t *testing.T) {
	xmlDoc := `<DPS versao="1.00">
  <infDPS Id="DPS310620020506573600016100001000000000000042">
    <tpAmb>2</tpAmb>
    <dhEmi>2026-08-28T10:30:00-03:00</dhEmi>
    <verAplic>emissorNfse-1.0</verAplic>
    <serie>00001</serie>
    <nDPS>000000000000042</nDPS>
    <dCompet>2026-08-01</dCompet>
    <tpEmis>1</tpEmis>
    <cLocEmi>3106200</cLocEmi>
    <prest>
      <CNPJ>05065736000161</CNPJ>
      <xNome>Prestadora Exemplo LTDA</xNome>
      <regTrib><opSimpNac>2</opSimpNac><regEspTrib>0</regEspTrib></regTrib>
    </prest>
    <serv>
      <locPrest><cLocPrestacao>3106200</cLocPrestacao></locPrest>
      <cServ>
        <cTribNac>010701</cTribNac>
        <cTribMun>6311900</cTribMun>
        <xDescServ>Desenvolvimento de software sob encomenda</xDescServ>
      </cServ>
    </serv>
    <valores>
      <vServPrest><vServ>1000.00</vServ></vServPrest>
      <trib>
        <tribMun><tribISSQN>1</tribISSQN><tpRetISSQN>1</tpRetISSQN></tribMun>
        <vBC>1000.00</vBC>
        <vIss>50.00</vIss>
      </trib>
      <vLiq>1000.00</vLiq>
    </valores>
  </infDPS>
</DPS>`
	r := ValidarXML([]byte(xmlDoc))
	if !r.Valido {
		t.Fatalf("XML serializado válido reprovado: %v", r.Erros)
	}
}

func TestValidarXMLIlegivel(t *testing.T) {
	r := ValidarXML([]byte("<DPS><infDPS>"))
	if r.Valido {
		t.Fatal("XML truncado não pode ser válido")
	}
	if len(r.Erros) != 1 || !strings.Contains(r.Erros[0].Message, "desserializar") {
		t.Errorf("esperado erro único de desserialização, obtido %v", r.Erros)
	}
}

func TestChaveAcessoValida(t *testing.T) {
	chave := strings.Repeat("1234567890", 5)
	if !ChaveAcessoValida(chave) {
		t.Error("chave de 50 dígitos deveria ser válida")
	}
	if ChaveAcessoValida(chave[:49]) {
		t.Error("chave de 49 dígitos deveria ser inválida")
	}
	if ChaveAcessoValida(chave[:49] + "A") {
		t.Error("chave com letra deveria ser inválida")
	}
}
