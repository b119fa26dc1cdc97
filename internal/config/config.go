// Package config содержит логику чтения конфигурации сервиса доставки.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config содержит параметры конфигурации сервиса доставки.
type Config struct {
	RunAddress    string `env:"RUN_ADDRESS"`
	DatabaseURI   string `env:"DATABASE_URI"`
	JWTSecret     string `env:"JWT_SECRET"`
	ProofDir      string `env:"PROOF_DIR"`
	NotifyAddress string `env:"NOTIFY_ADDRESS"`
}

// Parse считывает конфигурацию из .env-файла, флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	// .env используется только для локальной разработки, его отсутствие не ошибка.
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envJWTSecret := cfg.JWTSecret
	envProofDir := cfg.ProofDir
	envNotifyAddress := cfg.NotifyAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.JWTSecret, "s", "", "secret key for signing bearer tokens")
	flag.StringVar(&cfg.ProofDir, "p", "proofs", "directory for proof of delivery files")
	flag.StringVar(&cfg.NotifyAddress, "n", "", "notification service address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envJWTSecret != "" {
		cfg.JWTSecret = envJWTSecret
	}
	if envProofDir != "" {
		cfg.ProofDir = envProofDir
	}
	if envNotifyAddress != "" {
		cfg.NotifyAddress = envNotifyAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.ProofDir == "" {
		cfg.ProofDir = "proofs"
	}

	return cfg, nil
}
