// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
)

// Config holds every setting the server and historian read at startup.
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	RedisAddr          string        `env:"REDIS_ADDR"`
	RedisDB            int           `env:"REDIS_DB" envDefault:"0"`
	HistorianQueueName string        `env:"HISTORIAN_QUEUE_NAME" envDefault:"trivia_events"`
	HistorianBatchSize int           `env:"HISTORIAN_BATCH_SIZE" envDefault:"20"`
	HistorianFlush     time.Duration `env:"HISTORIAN_FLUSH" envDefault:"500ms"`

	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH"`

	QuizProviders []string      `env:"QUIZ_PROVIDERS" envSeparator:"," envDefault:"openai,ollama"`
	QuizTimeout   time.Duration `env:"QUIZ_TIMEOUT" envDefault:"30s"`
	OpenAIAPIKey  string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string        `env:"OPENAI_BASE_URL"`
	OpenAIModel   string        `env:"OPENAI_MODEL"`
	OllamaHost    string        `env:"OLLAMA_HOST"`
	OllamaModel   string        `env:"OLLAMA_MODEL"`

	ResultsDelay   time.Duration `env:"RESULTS_DELAY" envDefault:"5s"`
	EvictionGrace  time.Duration `env:"EVICTION_GRACE" envDefault:"5m"`
	ReconnectGrace time.Duration `env:"RECONNECT_GRACE" envDefault:"30s"`

	JWTSecret      string        `env:"JWT_SECRET"`
	TokenTTL       time.Duration `env:"TOKEN_TTL" envDefault:"12h"`
	ServiceKeyHash string        `env:"SERVICE_KEY_HASH"`

	OTelEndpoint string `env:"OTEL_ENDPOINT"`
	OTelEnabled  bool   `env:"OTEL_ENABLED" envDefault:"true"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	for i, p := range cfg.QuizProviders {
		cfg.QuizProviders[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return cfg, nil
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return ":" + strings.TrimPrefix(c.Port, ":")
}

// Level parses LogLevel, falling back to info.
func (c Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// ResultsDelaySeconds is the results display time in whole timer units.
func (c Config) ResultsDelaySeconds() int {
	return int(c.ResultsDelay / time.Second)
}
