package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port               string
	StoreBackend       string
	PostgresURL        string
	RedisAddr          string
	RedisPassword      string
	TemporalAddress    string
	TemporalTaskQueue  string
	LLMProvider        string
	LLMModel           string
	LLMBaseURL         string
	OpenAIAPIKey       string
	OpenRouterAPIKey   string
	SectionConcurrency int
	SourceBackends     []string
}

func Load() Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("STORE_BACKEND", "postgres")
	v.SetDefault("POSTGRES_URL", "")
	v.SetDefault("POSTGRES_USER", "draftmill")
	v.SetDefault("POSTGRES_PASSWORD", "draftmill")
	v.SetDefault("POSTGRES_HOST", "localhost")
	v.SetDefault("POSTGRES_PORT", "5432")
	v.SetDefault("POSTGRES_DB", "draftmill")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("TEMPORAL_ADDRESS", "localhost:7233")
	v.SetDefault("TEMPORAL_TASK_QUEUE", "draftmill-reports")
	v.SetDefault("LLM_PROVIDER", "openai")
	v.SetDefault("LLM_MODEL", "gpt-4o-mini")
	v.SetDefault("LLM_BASE_URL", "")
	v.SetDefault("OPENAI_API_KEY", "")
	v.SetDefault("OPENROUTER_API_KEY", "")
	v.SetDefault("SECTION_CONCURRENCY", 2)
	v.SetDefault("SOURCE_BACKENDS", "wikipedia,duckduckgo")

	postgresURL := v.GetString("POSTGRES_URL")
	if postgresURL == "" {
		postgresURL = buildPostgresURL(v)
	}

	return Config{
		Port:               v.GetString("PORT"),
		StoreBackend:       v.GetString("STORE_BACKEND"),
		PostgresURL:        postgresURL,
		RedisAddr:          v.GetString("REDIS_ADDR"),
		RedisPassword:      v.GetString("REDIS_PASSWORD"),
		TemporalAddress:    v.GetString("TEMPORAL_ADDRESS"),
		TemporalTaskQueue:  v.GetString("TEMPORAL_TASK_QUEUE"),
		LLMProvider:        v.GetString("LLM_PROVIDER"),
		LLMModel:           v.GetString("LLM_MODEL"),
		LLMBaseURL:         v.GetString("LLM_BASE_URL"),
		OpenAIAPIKey:       v.GetString("OPENAI_API_KEY"),
		OpenRouterAPIKey:   v.GetString("OPENROUTER_API_KEY"),
		SectionConcurrency: v.GetInt("SECTION_CONCURRENCY"),
		SourceBackends:     splitList(v.GetString("SOURCE_BACKENDS")),
	}
}

func buildPostgresURL(v *viper.Viper) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		v.GetString("POSTGRES_USER"),
		v.GetString("POSTGRES_PASSWORD"),
		v.GetString("POSTGRES_HOST"),
		v.GetString("POSTGRES_PORT"),
		v.GetString("POSTGRES_DB"))
}

func splitList(raw string) []string {
	parts := []string{}
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
