// internal/core/emissao/token.go
package emissao

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/LuisEduardoPedra/emissorNfse/internal/domain"
)

// Expiramos o token local um pouco antes do TTL declarado pela autoridade,
// para nunca transmitir com token na iminência de vencer.
const margemExpiracao = 30 * time.Second

// TTL aplicado quando a autoridade não informa expires_in.
const ttlPadrao = 5 * time.Minute

type tokenEntry struct {
	mu     sync.Mutex
	token  string
	expira time.Time
}

// TokenCache guarda o bearer token do fluxo client-credentials por prestador.
// Compartilhado entre requisições concorrentes; o refresh acontece sob o
// mutex do próprio prestador (refresh-on-expiry), nunca uma busca por
// requisição. O mutex do mapa nunca é mantido durante a chamada de rede.
type TokenCache struct {
	mu      sync.Mutex
	tokens  map[string]*tokenEntry
	http    *http.Client
	authURL string
	agora   func() time.Time
}

func NewTokenCache(httpClient *http.Client, authURL string) *TokenCache {
	return &TokenCache{
		tokens:  make(map[string]*tokenEntry),
		http:    httpClient,
		authURL: authURL,
		agora:   time.Now,
	}
}

// Token devolve o bearer token vigente do prestador, renovando quando expirado.
// O refresh serializa apenas chamadas do mesmo prestador; prestadores
// distintos nunca esperam um pelo outro.
func (c *TokenCache) Token(ctx context.Context, cred domain.CredenciaisRobo) (string, error) {
	c.mu.Lock()
	e, ok := c.tokens[cred.PrestadorID]
	if !ok {
		e = &tokenEntry{}
		c.tokens[cred.PrestadorID] = e
	}
	c.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.token != "" && c.agora().Before(e.expira) {
		return e.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", cred.ClientID)
	form.Set("client_secret", cred.ClientSecret)
	if cred.Scope != "" {
		form.Set("scope", cred.Scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("falha ao montar requisição de token: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &domain.TransientNetworkError{Operacao: "obtenção de token", Causa: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", &domain.TransientNetworkError{Operacao: "obtenção de token", Causa: fmt.Errorf("HTTP %d do endpoint de autenticação", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("credenciais de robô rejeitadas pelo endpoint de autenticação (HTTP %d)", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("falha ao decodificar resposta de token: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("endpoint de autenticação devolveu token vazio")
	}

	ttl := ttlPadrao
	if body.ExpiresIn > 0 {
		ttl = time.Duration(body.ExpiresIn) * time.Second
	}
	if ttl > margemExpiracao {
		ttl -= margemExpiracao
	}
	e.token = body.AccessToken
	e.expira = c.agora().Add(ttl)
	return e.token, nil
}

// Invalidar descarta o token do prestador. Chamado quando as credenciais
// armazenadas são editadas. Um refresh em curso grava na entrada órfã e a
// próxima chamada parte de uma entrada nova.
func (c *TokenCache) Invalidar(prestadorID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, prestadorID)
}
