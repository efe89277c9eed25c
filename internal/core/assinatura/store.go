// internal/core/assinatura/store.go
package assinatura

import (
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/LuisEduardoPedra/emissorNfse/internal/domain"
)

// Certificado é a referência opaca a um certificado do repositório local.
// O material privado nunca sai deste pacote.
type Certificado struct {
	Thumbprint string
	Subject    string
	NaoAntes   time.Time
	NaoDepois  time.Time

	certPEM []byte
	keyPEM  []byte
}

// Store lê certificados PEM de um diretório, no mesmo formato usado pelos
// clientes mTLS da SEFAZ (par cert/key em arquivos separados).
type Store struct {
	dir string
}

func NovoStore(dir string) *Store {
	return &Store{dir: dir}
}

// Listar varre o diretório a cada chamada; entradas removidas entre a seleção
// e o uso desaparecem naturalmente da listagem.
func (s *Store) Listar() ([]Certificado, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("falha ao ler o diretório de certificados %s: %w", s.dir, err)
	}

	var certs []Certificado
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.Contains(name, "key") {
			continue
		}
		if !strings.HasSuffix(name, ".crt") && !strings.HasSuffix(name, ".pem") {
			continue
		}

		certPath := filepath.Join(s.dir, name)
		certBytes, err := os.ReadFile(certPath)
		if err != nil {
			continue
		}

		cert := Certificado{certPEM: certBytes}
		base := strings.TrimSuffix(strings.TrimSuffix(name, ".crt"), ".pem")
		for _, candidato := range []string{base + "_key.pem", base + ".key", "key.pem"} {
			if keyBytes, err := os.ReadFile(filepath.Join(s.dir, candidato)); err == nil {
				cert.keyPEM = keyBytes
				break
			}
		}

		// Entradas cujo DER não parseia ficam sem thumbprint: identidade de
		// menor confiança, selecionável apenas pelo nome do arquivo.
		if parsed := parseLeaf(certBytes); parsed != nil {
			sum := sha1.Sum(parsed.Raw)
			cert.Thumbprint = strings.ToUpper(hex.EncodeToString(sum[:]))
			cert.Subject = parsed.Subject.String()
			cert.NaoAntes = parsed.NotBefore
			cert.NaoDepois = parsed.NotAfter
		} else {
			cert.Subject = base
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// Selecionar localiza um certificado por thumbprint ou, na ausência dele,
// pelo subject/nome. Nunca devolve outro certificado no lugar do pedido.
func (s *Store) Selecionar(id string) (*Certificado, error) {
	certs, err := s.Listar()
	if err != nil {
		return nil, err
	}
	idNorm := strings.ToUpper(strings.TrimSpace(id))
	for i := range certs {
		if certs[i].Thumbprint != "" && certs[i].Thumbprint == idNorm {
			return &certs[i], nil
		}
	}
	for i := range certs {
		if idNorm != "" && strings.Contains(strings.ToUpper(certs[i].Subject), idNorm) {
			return &certs[i], nil
		}
	}
	return nil, &domain.CertificateNotFoundError{CertificadoID: id}
}

func parseLeaf(pemBytes []byte) *x509.Certificate {
	rest := pemBytes
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil
		}
		return cert
	}
}
