// internal/core/assinatura/signer.go
package assinatura

import (
	"bytes"
	"fmt"
	"time"

	goxml "github.com/arturoeanton/go-xml/xml"

	"github.com/LuisEduardoPedra/emissorNfse/internal/domain"
)

// TagPadrao é o elemento assinado quando o chamador não indica outro.
const TagPadrao = "infDPS"

// Service produz a versão assinada digitalmente do XML da DPS.
type Service interface {
	// Assinar devolve o documento com o bloco <Signature> inserido logo após o
	// fechamento do elemento alvo. Fora do bloco inserido, a saída é idêntica
	// byte a byte à entrada; o atributo Id permanece rastreável ao número
	// reservado.
	Assinar(xmlDoc []byte, certificadoID, tag string) ([]byte, error)
}

type service struct {
	store *Store
	agora func() time.Time
}

// NewService cria o serviço de assinatura sobre um repositório de certificados.
func NewService(store *Store) Service {
	return &service{store: store, agora: time.Now}
}

func (s *service) Assinar(xmlDoc []byte, certificadoID, tag string) ([]byte, error) {
	if tag == "" {
		tag = TagPadrao
	}

	cert, err := s.store.Selecionar(certificadoID)
	if err != nil {
		return nil, err
	}
	if len(cert.keyPEM) == 0 {
		return nil, &domain.SigningError{Causa: fmt.Errorf("chave privada ausente para o certificado %s", certificadoID)}
	}
	agora := s.agora()
	if !cert.NaoDepois.IsZero() && agora.After(cert.NaoDepois) {
		return nil, &domain.SigningError{Causa: fmt.Errorf("certificado expirado em %s", cert.NaoDepois.Format("2006-01-02"))}
	}
	if !cert.NaoAntes.IsZero() && agora.Before(cert.NaoAntes) {
		return nil, &domain.SigningError{Causa: fmt.Errorf("certificado ainda não é válido (início em %s)", cert.NaoAntes.Format("2006-01-02"))}
	}

	signer, err := goxml.NewSigner(cert.certPEM, cert.keyPEM)
	if err != nil {
		return nil, &domain.SigningError{Causa: err}
	}
	assinatura, err := signer.CreateXadesSignature(xmlDoc)
	if err != nil {
		return nil, &domain.SigningError{Causa: err}
	}

	envelope := goxml.NewMap()
	envelope.Set("Signature", assinatura)
	sigBytes, err := goxml.Marshal(envelope)
	if err != nil {
		return nil, &domain.SigningError{Causa: err}
	}

	return InserirAssinatura(xmlDoc, []byte(sigBytes), tag)
}

// InserirAssinatura emenda o bloco de assinatura logo após o fechamento do
// elemento alvo, sem tocar em nenhum outro byte do documento.
func InserirAssinatura(xmlDoc, assinatura []byte, tag string) ([]byte, error) {
	fechamento := []byte("</" + tag + ">")
	idx := bytes.LastIndex(xmlDoc, fechamento)
	if idx < 0 {
		return nil, &domain.SigningError{Causa: fmt.Errorf("elemento %q não encontrado no documento", tag)}
	}
	corte := idx + len(fechamento)

	saida := make([]byte, 0, len(xmlDoc)+len(assinatura))
	saida = append(saida, xmlDoc[:corte]...)
	saida = append(saida, assinatura...)
	saida = append(saida, xmlDoc[corte:]...)
	return saida, nil
}
