// internal/core/reconciliacao/danfse.go
package reconciliacao

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"golang.org/x/text/encoding/charmap"
)

// LeitorDanfse devolve o texto bruto da prova visual (DANFSE) de uma nota.
// Último recurso da reconciliação quando a consulta estruturada é ambígua.
type LeitorDanfse interface {
	Texto(chave string) (string, error)
}

// leitorArquivo lê DANFSEs renderizadas em PDF de um diretório local,
// nomeadas pela chave de acesso.
type leitorArquivo struct {
	dir string
}

func NovoLeitorDanfse(dir string) LeitorDanfse {
	return &leitorArquivo{dir: dir}
}

func (l *leitorArquivo) Texto(chave string) (string, error) {
	caminho := filepath.Join(l.dir, chave+".pdf")
	if _, err := os.Stat(caminho); err != nil {
		return "", fmt.Errorf("DANFSE não encontrada em %s: %w", caminho, err)
	}

	tmp, err := os.MkdirTemp("", "danfse-")
	if err != nil {
		return "", fmt.Errorf("falha ao criar diretório temporário: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := api.ExtractContentFile(caminho, tmp, nil, nil); err != nil {
		return "", fmt.Errorf("falha ao extrair conteúdo da DANFSE %s: %w", chave, err)
	}

	entries, err := os.ReadDir(tmp)
	if err != nil {
		return "", fmt.Errorf("falha ao ler conteúdo extraído: %w", err)
	}

	// Streams de conteúdo de PDF costumam vir em latin-1; decodificamos antes
	// de procurar marcadores.
	decoder := charmap.ISO8859_1.NewDecoder()
	var sb strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		f, err := os.Open(filepath.Join(tmp, entry.Name()))
		if err != nil {
			continue
		}
		conteudo, err := io.ReadAll(decoder.Reader(f))
		f.Close()
		if err != nil {
			continue
		}
		sb.Write(conteudo)
		sb.WriteByte('\n')
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("DANFSE %s não produziu texto extraível", chave)
	}
	return sb.String(), nil
}
