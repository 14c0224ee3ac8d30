package main

import (
	"log"
	"net/http"

	config "sales-insight-api/configs"
	"sales-insight-api/pkg/handlers"
	"sales-insight-api/pkg/mistral"
	"sales-insight-api/pkg/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// .envファイルを読み込み
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found or could not be loaded: %v", err)
	}

	// 設定の読み込み
	cfg := config.LoadConfig()

	// Ginルーターの初期化
	r := gin.Default()

	// サービスの初期化
	monitoringService := services.NewMonitoringService()
	mistralClient := mistral.NewClient(cfg.MistralAPIBaseURL, cfg.MistralAPIKey)

	// セッションごとに独立したコーディネーター（データセット＋会話履歴）を持つ
	sessionService := services.NewSessionService(func() *services.CoordinatorService {
		dataset := services.NewDatasetService()
		analytics := services.NewAnalyticsService()
		conversation := services.NewConversationService(mistralClient, cfg.MistralCasualModel, cfg.MistralBusinessModels)
		return services.NewCoordinatorService(dataset, analytics, conversation, cfg.SalesDataPath)
	})

	// ハンドラーの初期化
	chatHandler := handlers.NewChatHandler(sessionService)
	dataHandler := handlers.NewDataHandler(sessionService, cfg.UploadDir)
	analyticsHandler := handlers.NewAnalyticsHandler(sessionService)
	monitoringHandler := handlers.NewMonitoringHandler(monitoringService)

	// ミドルウェアの登録
	r.Use(monitoringService.LoggingMiddleware()) // ロギングミドルウェアをグローバルに適用
	r.Use(cors.Default())

	// 認証ミドルウェア
	authMiddleware := func(apiKey string) gin.HandlerFunc {
		return func(c *gin.Context) {
			if apiKey == "" || apiKey == "default_secret_key" {
				c.Next()
				return
			}
			providedKey := c.GetHeader("X-API-KEY")
			if providedKey != apiKey {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
				return
			}
			c.Next()
		}
	}

	// ヘルスチェックエンドポイント
	r.GET("/health", handlers.HealthCheck)

	// APIバージョン1のルートグループ
	v1 := r.Group("/api/v1")
	v1.Use(authMiddleware(cfg.APIKey))
	{
		// チャットAPI
		v1.POST("/chat", chatHandler.Chat)
		v1.POST("/session/reset", chatHandler.ResetSession)

		// データセットAPI
		data := v1.Group("/data")
		{
			data.POST("/load", dataHandler.Load)
			data.POST("/upload", dataHandler.Upload)
			data.GET("/summary", dataHandler.GetSummary)
			data.GET("/customers", dataHandler.GetCustomers)
		}

		// 分析API
		v1.GET("/analytics/report", analyticsHandler.GetReport)

		// モニタリングAPI
		monitoring := v1.Group("/monitoring")
		{
			monitoring.GET("/logs", monitoringHandler.GetLogs)
		}
	}

	log.Println("Starting Sales Insight API server on :" + cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
