package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Porta           string
	ProjectID       string
	DatabaseID      string
	JWTSecret       string
	Ambiente        string
	SefinBaseURL    string
	SefinAuthURL    string
	CertDir         string
	DanfseDir       string
	DpsXsdPath      string
	VersaoAplicacao string
}

// Load carrega a configuração com base na variável NFSE_ENV ou padroniza para 'production'.
func Load() *Config {
	env := os.Getenv("NFSE_ENV")
	if env == "" {
		env = "production"
	}

	envFile := fmt.Sprintf(".env.%s", env)

	if err := godotenv.Load(envFile); err != nil {
		if !strings.Contains(err.Error(), "no such file or directory") {
			log.Fatalf("Erro ao carregar arquivo de ambiente %s: %v", envFile, err)
		} else {
			// Se o arquivo não existe, apenas avisa e segue usando variáveis de ambiente do sistema.
			log.Printf("Aviso: Arquivo de ambiente '%s' não encontrado. Usando variáveis de ambiente do sistema.", envFile)
		}
	}

	return &Config{
		Porta:           getEnv("PORT", "8080"),
		ProjectID:       getEnv("FIRESTORE_PROJECT_ID", "emissor-nfse-db"),
		DatabaseID:      getEnv("FIRESTORE_DATABASE_ID", "emissor-nfse-db"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		Ambiente:        getEnv("NFSE_AMBIENTE", "HOMOLOGACAO"),
		SefinBaseURL:    getEnv("SEFIN_BASE_URL", "https://sefin.nfse.gov.br/sefinnacional"),
		SefinAuthURL:    os.Getenv("SEFIN_AUTH_URL"),
		CertDir:         getEnv("NFSE_CERT_DIR", "cert"),
		DanfseDir:       getEnv("NFSE_DANFSE_DIR", "danfse"),
		DpsXsdPath:      os.Getenv("DPS_XSD_PATH"),
		VersaoAplicacao: getEnv("NFSE_VER_APLIC", "1.0.0"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
