package emissao

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LuisEduardoPedra/emissorNfse/internal/domain"
	"github.com/LuisEduardoPedra/emissorNfse/internal/repository"
	"go.uber.org/zap"
)

const chaveTeste = "12345678901234567890123456789012345678901234567890"

type dpsRepoFake struct {
	status map[string]domain.StatusDps
	erros  map[string]string
}

func novoDpsRepoFake() *dpsRepoFake {
	return &dpsRepoFake{status: make(map[string]domain.StatusDps), erros: make(map[string]string)}
}

func (f *dpsRepoFake) AtualizarStatus(ctx context.Context, id string, status domain.StatusDps, mensagemErro string) error {
	f.status[id] = status
	f.erros[id] = mensagemErro
	return nil
}

type notasRepoFake struct {
	porDps   map[string]*domain.NotaFiscal
	porChave map[string]*domain.NotaFiscal
}

func novoNotasRepoFake() *notasRepoFake {
	return &notasRepoFake{
		porDps:   make(map[string]*domain.NotaFiscal),
		porChave: make(map[string]*domain.NotaFiscal),
	}
}

func (f *notasRepoFake) SalvarNota(ctx context.Context, nota *domain.NotaFiscal) error {
	f.porDps[nota.DpsID] = nota
	f.porChave[nota.ChaveAcesso] = nota
	return nil
}

func (f *notasRepoFake) AtualizarNota(ctx context.Context, nota *domain.NotaFiscal) error {
	return f.SalvarNota(ctx, nota)
}

func (f *notasRepoFake) BuscarNotaPorDps(ctx context.Context, dpsID string) (*domain.NotaFiscal, error) {
	if nota, ok := f.porDps[dpsID]; ok {
		return nota, nil
	}
	return nil, repository.ErrNaoEncontrado
}

func (f *notasRepoFake) BuscarNotaPorChave(ctx context.Context, chave string) (*domain.NotaFiscal, error) {
	if nota, ok := f.porChave[chave]; ok {
		return nota, nil
	}
	return nil, repository.ErrNaoEncontrado
}

type credRepoFake struct{}

func (credRepoFake) BuscarCredenciais(ctx context.Context, prestadorID string) (*domain.CredenciaisRobo, error) {
	return &domain.CredenciaisRobo{
		PrestadorID:  prestadorID,
		ClientID:     "robo",
		ClientSecret: "segredo",
	}, nil
}

func servidorAuth(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-abc","token_type":"Bearer","expires_in":300}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func registroAssinado() *domain.Dps {
	return &domain.Dps{
		ID:          "dps-1",
		PrestadorID: "prest-1",
		Numero:      "000000000000042",
		Status:      domain.StatusAssinado,
		XMLAssinado: `<DPS><infDPS Id="DPS1"/><Signature/></DPS>`,
	}
}

func montarServico(t *testing.T, gateway *httptest.Server, dpsRepo *dpsRepoFake, notas *notasRepoFake) Service {
	t.Helper()
	auth := servidorAuth(t)
	cliente := &http.Client{Timeout: 5 * time.Second}
	tokens := NewTokenCache(cliente, auth.URL)
	return NewService(cliente, tokens, gateway.URL, dpsRepo, notas, credRepoFake{}, zap.NewNop())
}

func TestEnviar(t *testing.T) {
	t.Run("Autorização síncrona persiste nota e marca a DPS", func(t *testing.T) {
		var recebidos atomic.Int32
		gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			recebidos.Add(1)
			if auth := r.Header.Get("Authorization"); auth != "Bearer tok-abc" {
				t.Errorf("Authorization inesperado: %s", auth)
			}
			if amb := r.Header.Get("X-Ambiente"); amb != "2" {
				t.Errorf("X-Ambiente esperado 2, obtido %s", amb)
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"chaveAcesso":"` + chaveTeste + `","codigoVerificacao":"XYZ9"}`))
		}))
		defer gateway.Close()

		dpsRepo := novoDpsRepoFake()
		notas := novoNotasRepoFake()
		svc := montarServico(t, gateway, dpsRepo, notas)

		nota, err := svc.Enviar(context.Background(), registroAssinado(), Opcoes{Ambiente: domain.AmbienteHomologacao})
		if err != nil {
			t.Fatalf("erro inesperado: %v", err)
		}
		if nota.ChaveAcesso != chaveTeste {
			t.Errorf("chave de acesso esperada %s, obtida %s", chaveTeste, nota.ChaveAcesso)
		}
		if nota.Status != domain.StatusAutorizada || nota.StatusCode != "1" {
			t.Errorf("nota deveria estar AUTORIZADA/1, obtido %s/%s", nota.Status, nota.StatusCode)
		}
		if dpsRepo.status["dps-1"] != domain.StatusAutorizada {
			t.Errorf("DPS deveria estar AUTORIZADA, obtida %s", dpsRepo.status["dps-1"])
		}
		if recebidos.Load() != 1 {
			t.Errorf("gateway deveria ter recebido 1 envio, recebeu %d", recebidos.Load())
		}
	})

	t.Run("Reenvio da mesma DPS devolve a nota existente sem novo POST", func(t *testing.T) {
		var recebidos atomic.Int32
		gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			recebidos.Add(1)
			w.Write([]byte(`{"chaveAcesso":"` + chaveTeste + `"}`))
		}))
		defer gateway.Close()

		dpsRepo := novoDpsRepoFake()
		notas := novoNotasRepoFake()
		svc := montarServico(t, gateway, dpsRepo, notas)
		registro := registroAssinado()

		primeira, err := svc.Enviar(context.Background(), registro, Opcoes{Ambiente: domain.AmbienteHomologacao})
		if err != nil {
			t.Fatalf("erro inesperado: %v", err)
		}
		segunda, err := svc.Enviar(context.Background(), registro, Opcoes{Ambiente: domain.AmbienteHomologacao})
		if err != nil {
			t.Fatalf("erro inesperado no reenvio: %v", err)
		}
		if primeira.ID != segunda.ID || primeira.ChaveAcesso != segunda.ChaveAcesso {
			t.Error("reenvio deveria devolver exatamente a nota já autorizada")
		}
		if recebidos.Load() != 1 {
			t.Errorf("gateway deveria ter recebido apenas 1 envio, recebeu %d", recebidos.Load())
		}
	})

	t.Run("Rejeição 4xx marca a DPS com erro e não retenta", func(t *testing.T) {
		var recebidos atomic.Int32
		gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			recebidos.Add(1)
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"codigo":"E123","mensagem":"cTribNac incompatível com o serviço"}`))
		}))
		defer gateway.Close()

		dpsRepo := novoDpsRepoFake()
		svc := montarServico(t, gateway, dpsRepo, novoNotasRepoFake())

		_, err := svc.Enviar(context.Background(), registroAssinado(), Opcoes{Ambiente: domain.AmbienteHomologacao})
		var rejeicao *domain.GatewayRejection
		if !errors.As(err, &rejeicao) {
			t.Fatalf("esperado GatewayRejection, obtido %v", err)
		}
		if rejeicao.Codigo != "E123" {
			t.Errorf("código esperado E123, obtido %s", rejeicao.Codigo)
		}
		if dpsRepo.status["dps-1"] != domain.StatusErro {
			t.Errorf("DPS rejeitada deveria ficar em ERRO, obtida %s", dpsRepo.status["dps-1"])
		}
		if recebidos.Load() != 1 {
			t.Errorf("rejeição definitiva não admite retry, gateway recebeu %d envios", recebidos.Load())
		}
	})

	t.Run("Erro 5xx é transitório e a DPS permanece ENVIADO", func(t *testing.T) {
		gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer gateway.Close()

		dpsRepo := novoDpsRepoFake()
		svc := montarServico(t, gateway, dpsRepo, novoNotasRepoFake())

		_, err := svc.Enviar(context.Background(), registroAssinado(), Opcoes{Ambiente: domain.AmbienteHomologacao})
		var transitorio *domain.TransientNetworkError
		if !errors.As(err, &transitorio) {
			t.Fatalf("esperado TransientNetworkError, obtido %v", err)
		}
		if dpsRepo.status["dps-1"] != domain.StatusEnviado {
			t.Errorf("DPS deveria permanecer ENVIADO após falha transitória, obtida %s", dpsRepo.status["dps-1"])
		}
	})

	t.Run("Duplicidade reconcilia com a nota existente", func(t *testing.T) {
		gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"codigo":"E900","mensagem":"DPS em duplicidade, chave ` + chaveTeste + `"}`))
		}))
		defer gateway.Close()

		dpsRepo := novoDpsRepoFake()
		notas := novoNotasRepoFake()
		existente := &domain.NotaFiscal{ID: "nota-antiga", DpsID: "dps-0", ChaveAcesso: chaveTeste}
		notas.porChave[chaveTeste] = existente

		svc := montarServico(t, gateway, dpsRepo, notas)
		nota, err := svc.Enviar(context.Background(), registroAssinado(), Opcoes{Ambiente: domain.AmbienteHomologacao})
		if err != nil {
			t.Fatalf("duplicidade deveria reconciliar, não falhar: %v", err)
		}
		if nota.ID != "nota-antiga" {
			t.Errorf("esperada a nota existente, obtida %s", nota.ID)
		}
		if dpsRepo.status["dps-1"] != domain.StatusAutorizada {
			t.Errorf("DPS deveria ser reconciliada como AUTORIZADA, obtida %s", dpsRepo.status["dps-1"])
		}
	})

	t.Run("Duplicidade sem chave no corpo deixa a DPS ENVIADO", func(t *testing.T) {
		gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"codigo":"E900","mensagem":"DPS em duplicidade"}`))
		}))
		defer gateway.Close()

		dpsRepo := novoDpsRepoFake()
		svc := montarServico(t, gateway, dpsRepo, novoNotasRepoFake())

		_, err := svc.Enviar(context.Background(), registroAssinado(), Opcoes{Ambiente: domain.AmbienteHomologacao})
		var transitorio *domain.TransientNetworkError
		if !errors.As(err, &transitorio) {
			t.Fatalf("duplicidade sem chave deveria voltar como transitória para a reconciliação, obtido %v", err)
		}
		if dpsRepo.status["dps-1"] != domain.StatusEnviado {
			t.Errorf("DPS deveria permanecer ENVIADO para a reconciliação, obtida %s", dpsRepo.status["dps-1"])
		}
	})

	t.Run("DPS sem assinatura é recusada antes de qualquer chamada", func(t *testing.T) {
		gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("nenhuma chamada deveria chegar ao gateway")
		}))
		defer gateway.Close()

		svc := montarServico(t, gateway, novoDpsRepoFake(), novoNotasRepoFake())
		registro := registroAssinado()
		registro.XMLAssinado = ""

		if _, err := svc.Enviar(context.Background(), registro, Opcoes{}); err == nil {
			t.Fatal("envio sem assinatura deveria falhar")
		}
	})

	t.Run("Chave malformada do gateway é erro sem persistência", func(t *testing.T) {
		gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"chaveAcesso":"123"}`))
		}))
		defer gateway.Close()

		notas := novoNotasRepoFake()
		svc := montarServico(t, gateway, novoDpsRepoFake(), notas)

		if _, err := svc.Enviar(context.Background(), registroAssinado(), Opcoes{}); err == nil {
			t.Fatal("chave de 3 dígitos deveria ser recusada")
		}
		if len(notas.porDps) != 0 {
			t.Error("nota com chave malformada não pode ser persistida")
		}
	})
}

func TestTokenCache(t *testing.T) {
	t.Run("Token em cache é reutilizado até expirar", func(t *testing.T) {
		var chamadas atomic.Int32
		auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			chamadas.Add(1)
			if ct := r.Header.Get("Content-Type"); !strings.Contains(ct, "x-www-form-urlencoded") {
				t.Errorf("Content-Type inesperado: %s", ct)
			}
			w.Write([]byte(`{"access_token":"tok-1","expires_in":300}`))
		}))
		defer auth.Close()

		cache := NewTokenCache(&http.Client{Timeout: 5 * time.Second}, auth.URL)
		cred := domain.CredenciaisRobo{PrestadorID: "p1", ClientID: "c", ClientSecret: "s"}

		for i := 0; i < 3; i++ {
			if _, err := cache.Token(context.Background(), cred); err != nil {
				t.Fatalf("erro inesperado: %v", err)
			}
		}
		if chamadas.Load() != 1 {
			t.Errorf("esperada 1 chamada de autenticação, feitas %d", chamadas.Load())
		}
	})

	t.Run("Expiração desconta a margem de segurança", func(t *testing.T) {
		auth := servidorAuth(t)
		cache := NewTokenCache(&http.Client{Timeout: 5 * time.Second}, auth.URL)
		agora := time.Now()
		cache.agora = func() time.Time { return agora }
		cred := domain.CredenciaisRobo{PrestadorID: "p1"}

		if _, err := cache.Token(context.Background(), cred); err != nil {
			t.Fatalf("erro inesperado: %v", err)
		}
		entrada := cache.tokens["p1"]
		if esperado := agora.Add(300*time.Second - margemExpiracao); !entrada.expira.Equal(esperado) {
			t.Errorf("expiração esperada %v, obtida %v", esperado, entrada.expira)
		}
	})

	t.Run("Invalidar força novo token na próxima chamada", func(t *testing.T) {
		var chamadas atomic.Int32
		auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			chamadas.Add(1)
			w.Write([]byte(`{"access_token":"tok-2","expires_in":300}`))
		}))
		defer auth.Close()

		cache := NewTokenCache(&http.Client{Timeout: 5 * time.Second}, auth.URL)
		cred := domain.CredenciaisRobo{PrestadorID: "p1"}

		if _, err := cache.Token(context.Background(), cred); err != nil {
			t.Fatal(err)
		}
		cache.Invalidar("p1")
		if _, err := cache.Token(context.Background(), cred); err != nil {
			t.Fatal(err)
		}
		if chamadas.Load() != 2 {
			t.Errorf("invalidação deveria forçar 2 chamadas, feitas %d", chamadas.Load())
		}
	})

	t.Run("Refresh lento de um prestador não bloqueia o cache dos demais", func(t *testing.T) {
		var lento atomic.Bool
		auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if lento.Load() {
				time.Sleep(1500 * time.Millisecond)
			}
			w.Write([]byte(`{"access_token":"tok","expires_in":300}`))
		}))
		defer auth.Close()

		cache := NewTokenCache(&http.Client{Timeout: 5 * time.Second}, auth.URL)
		credA := domain.CredenciaisRobo{PrestadorID: "a"}
		credB := domain.CredenciaisRobo{PrestadorID: "b"}

		// Aquece o cache de B enquanto o endpoint ainda responde rápido.
		if _, err := cache.Token(context.Background(), credB); err != nil {
			t.Fatal(err)
		}

		lento.Store(true)
		terminouA := make(chan struct{})
		go func() {
			defer close(terminouA)
			if _, err := cache.Token(context.Background(), credA); err != nil {
				t.Errorf("refresh de A falhou: %v", err)
			}
		}()
		// Garante que o refresh lento de A já está em curso.
		time.Sleep(100 * time.Millisecond)

		inicio := time.Now()
		if _, err := cache.Token(context.Background(), credB); err != nil {
			t.Fatal(err)
		}
		if decorrido := time.Since(inicio); decorrido > 500*time.Millisecond {
			t.Errorf("token em cache de B deveria voltar imediatamente, esperou %v pelo refresh de A", decorrido)
		}
		<-terminouA
	})

	t.Run("Falha 5xx do endpoint de autenticação é transitória", func(t *testing.T) {
		auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer auth.Close()

		cache := NewTokenCache(&http.Client{Timeout: 5 * time.Second}, auth.URL)
		_, err := cache.Token(context.Background(), domain.CredenciaisRobo{PrestadorID: "p1"})
		var transitorio *domain.TransientNetworkError
		if !errors.As(err, &transitorio) {
			t.Fatalf("esperado TransientNetworkError, obtido %v", err)
		}
	})

	t.Run("Credenciais rejeitadas não são transitórias", func(t *testing.T) {
		auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer auth.Close()

		cache := NewTokenCache(&http.Client{Timeout: 5 * time.Second}, auth.URL)
		_, err := cache.Token(context.Background(), domain.CredenciaisRobo{PrestadorID: "p1"})
		if err == nil {
			t.Fatal("HTTP 401 deveria falhar")
		}
		var transitorio *domain.TransientNetworkError
		if errors.As(err, &transitorio) {
			t.Error("HTTP 401 não é falha transitória")
		}
	})
}
