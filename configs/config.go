package config

import (
	"os"
	"strings"
)

// Config holds the application configuration
type Config struct {
	Port                  string
	Environment           string
	APIKey                string
	MistralAPIBaseURL     string
	MistralAPIKey         string
	MistralCasualModel    string
	MistralBusinessModels []string
	SalesDataPath         string
	UploadDir             string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		Environment:        getEnv("ENVIRONMENT", "development"),
		APIKey:             getEnv("API_KEY", "default_secret_key"),
		MistralAPIBaseURL:  getEnv("MISTRAL_API_BASE_URL", "https://api.mistral.ai/v1"),
		MistralAPIKey:      getEnv("MISTRAL_API_KEY", ""),
		MistralCasualModel: getEnv("MISTRAL_CASUAL_MODEL", "mistral-small-latest"),
		// ビジネスモード用のフォールバック順（安い/速い → 高性能）
		MistralBusinessModels: getEnvList("MISTRAL_BUSINESS_MODELS", []string{"open-mistral-7b", "mistral-tiny", "mistral-small-latest"}),
		SalesDataPath:         getEnv("SALES_DATA_PATH", "data/sales_data.csv"),
		UploadDir:             getEnv("UPLOAD_DIR", "data/uploads"),
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvList はカンマ区切りの環境変数をスライスとして取得します。
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
