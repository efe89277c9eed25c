// cmd/web/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/LuisEduardoPedra/emissorNfse/internal/api/handlers"
	"github.com/LuisEduardoPedra/emissorNfse/internal/api/middleware"
	"github.com/LuisEduardoPedra/emissorNfse/internal/api/responses"
	"github.com/LuisEduardoPedra/emissorNfse/internal/config"
	"github.com/LuisEduardoPedra/emissorNfse/internal/core/assinatura"
	"github.com/LuisEduardoPedra/emissorNfse/internal/core/auth"
	"github.com/LuisEduardoPedra/emissorNfse/internal/core/dps"
	"github.com/LuisEduardoPedra/emissorNfse/internal/core/emissao"
	"github.com/LuisEduardoPedra/emissorNfse/internal/core/reconciliacao"
	"github.com/LuisEduardoPedra/emissorNfse/internal/domain"
	"github.com/LuisEduardoPedra/emissorNfse/internal/repository"
	"github.com/gin-gonic/gin"
)

// initFirestoreClient initializes the Firestore client.
func initFirestoreClient(ctx context.Context, cfg *config.Config) *firestore.Client {
	client, err := firestore.NewClientWithDatabase(ctx, cfg.ProjectID, cfg.DatabaseID)
	if err != nil {
		log.Fatalf("Erro ao inicializar cliente Firestore para o banco '%s': %v\n", cfg.DatabaseID, err)
	}
	log.Printf("Conectado com sucesso ao Firestore, banco de dados: %s", cfg.DatabaseID)
	return client
}

func main() {
	cfg := config.Load()
	responses.InitLogger()
	ctx := context.Background()

	firestoreClient := initFirestoreClient(ctx, cfg)
	defer firestoreClient.Close()

	repo := repository.NewFirestore(firestoreClient)

	// Timeout único para todas as chamadas externas (token, envio, consulta).
	httpClient := &http.Client{Timeout: 15 * time.Second}

	store := assinatura.NovoStore(cfg.CertDir)
	assinador := assinatura.NewService(store)
	builder := dps.NewService(repo)
	tokens := emissao.NewTokenCache(httpClient, cfg.SefinAuthURL)
	emissor := emissao.NewService(httpClient, tokens, cfg.SefinBaseURL, repo, repo, repo, responses.Log())
	danfse := reconciliacao.NovoLeitorDanfse(cfg.DanfseDir)
	reconciliador := reconciliacao.NewService(httpClient, repo, danfse, cfg.SefinBaseURL, responses.Log())

	authService := auth.NewService(firestoreClient, []byte(cfg.JWTSecret))
	authHandler := handlers.NewAuthHandler(authService)
	ambiente := domain.Ambiente(cfg.Ambiente)
	nfseHandler := handlers.NewNfseHandler(builder, assinador, emissor, reconciliador, repo, repo, tokens, cfg.DpsXsdPath, cfg.VersaoAplicacao, ambiente, responses.Log())

	router := gin.Default()
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	apiV1 := router.Group("/api/v1")
	{
		apiV1.POST("/login", authHandler.Login)
	}

	apiNfse := router.Group("/api/nfse")
	apiNfse.Use(middleware.AuthMiddleware([]byte(cfg.JWTSecret)))
	{
		apiNfse.POST("/emitir", middleware.PermissionMiddleware("nfse:emitir"), nfseHandler.HandleEmitir)
		apiNfse.POST("/dps/:id/reenviar", middleware.PermissionMiddleware("nfse:emitir"), nfseHandler.HandleReenviar)
		apiNfse.POST("/reconciliar-status", nfseHandler.HandleReconciliar)
		apiNfse.POST("/:id/cancelar", middleware.PermissionMiddleware("nfse:cancelar"), nfseHandler.HandleCancelar)
		apiNfse.GET("/:id", nfseHandler.HandleBuscarNota)
		apiNfse.POST("/credenciais/:prestadorId/invalidar-token", nfseHandler.HandleCredenciaisAtualizadas)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "UP"})
	})

	log.Printf("🚀 Servidor iniciado e escutando na porta %s", cfg.Porta)

	if err := router.Run(":" + cfg.Porta); err != nil {
		log.Fatal("Falha ao iniciar o servidor: ", err)
	}
}
