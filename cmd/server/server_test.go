package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	config "sales-insight-api/configs"
	"sales-insight-api/pkg/handlers"
	"sales-insight-api/pkg/mistral"
	"sales-insight-api/pkg/services"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
)

func TestMain(m *testing.M) {
	// テスト環境の設定
	gin.SetMode(gin.TestMode)

	// .envファイルを読み込み（テスト環境では無視される可能性がある）
	godotenv.Load("../../.env")

	// テスト実行
	code := m.Run()

	// 終了
	os.Exit(code)
}

func TestApplicationSetup(t *testing.T) {
	// 設定の読み込みテスト
	cfg := config.LoadConfig()
	assert.NotNil(t, cfg, "Config should not be nil")
	assert.NotEmpty(t, cfg.MistralBusinessModels, "Business model fallback list should not be empty")

	// サービスの初期化テスト
	mistralClient := mistral.NewClient(cfg.MistralAPIBaseURL, cfg.MistralAPIKey)
	assert.NotNil(t, mistralClient, "Mistral client should not be nil")

	monitoringService := services.NewMonitoringService()
	assert.NotNil(t, monitoringService, "MonitoringService should not be nil")

	sessionService := services.NewSessionService(func() *services.CoordinatorService {
		dataset := services.NewDatasetService()
		analytics := services.NewAnalyticsService()
		conversation := services.NewConversationService(mistralClient, cfg.MistralCasualModel, cfg.MistralBusinessModels)
		return services.NewCoordinatorService(dataset, analytics, conversation, cfg.SalesDataPath)
	})
	assert.NotNil(t, sessionService, "SessionService should not be nil")
	assert.Equal(t, 0, sessionService.Count(), "A fresh session service should hold no sessions")

	// ハンドラーの初期化テスト
	chatHandler := handlers.NewChatHandler(sessionService)
	assert.NotNil(t, chatHandler, "ChatHandler should not be nil")

	dataHandler := handlers.NewDataHandler(sessionService, cfg.UploadDir)
	assert.NotNil(t, dataHandler, "DataHandler should not be nil")

	analyticsHandler := handlers.NewAnalyticsHandler(sessionService)
	assert.NotNil(t, analyticsHandler, "AnalyticsHandler should not be nil")

	monitoringHandler := handlers.NewMonitoringHandler(monitoringService)
	assert.NotNil(t, monitoringHandler, "MonitoringHandler should not be nil")
}

func TestRouterSetup(t *testing.T) {
	// ルーターの初期化
	r := gin.New()

	// ヘルスチェックエンドポイント
	r.GET("/health", handlers.HealthCheck)

	// APIバージョン1のルートグループ
	v1 := r.Group("/api/v1")
	{
		v1.GET("/hello", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"message": "Hello from Sales Insight API!",
			})
		})
	}

	// ヘルスチェックのテスト
	req, _ := http.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Hello APIのテスト
	req, _ = http.NewRequest("GET", "/api/v1/hello", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEnvironmentVariables(t *testing.T) {
	// テスト用の環境変数を設定
	testEnvVars := map[string]string{
		"MISTRAL_API_BASE_URL":    "https://api.mistral.ai/v1",
		"MISTRAL_API_KEY":         "test-key",
		"MISTRAL_BUSINESS_MODELS": "open-mistral-7b,mistral-tiny",
	}

	// 環境変数を設定
	for key, value := range testEnvVars {
		os.Setenv(key, value)
	}

	// テスト後にクリーンアップ
	defer func() {
		for key := range testEnvVars {
			os.Unsetenv(key)
		}
	}()

	cfg := config.LoadConfig()
	assert.Equal(t, "test-key", cfg.MistralAPIKey)
	assert.Equal(t, []string{"open-mistral-7b", "mistral-tiny"}, cfg.MistralBusinessModels)
}
