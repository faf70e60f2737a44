package config

import (
	"log"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/disqualifier/mailtime/internal/logger"
	"github.com/disqualifier/mailtime/internal/tracing"
)

type Config struct {
	AppConfig   *AppConfig
	CacheConfig *CacheConfig
	SyncConfig  *SyncConfig
	DefaultIMAP *DefaultIMAPConfig
	Logger      *logger.Config
	Tracing     *tracing.JaegerConfig
}

func InitConfig() (*Config, error) {
	config := &Config{
		AppConfig:   &AppConfig{},
		CacheConfig: &CacheConfig{},
		SyncConfig:  &SyncConfig{},
		DefaultIMAP: &DefaultIMAPConfig{},
		Logger:      &logger.Config{},
		Tracing:     &tracing.JaegerConfig{},
	}

	err := godotenv.Load()
	if err != nil {
		log.Print("Unable to load .env file")
	}

	err = env.Parse(config)
	if err != nil {
		log.Fatalf("Error loading mailtime config: %v", err)
	}

	return config, nil
}
