// Package app wires configuration into storage, classification and the workspace service.
package app

import (
	"fmt"
	"time"

	"github.com/xaenox/dump-bot/internal/classifier"
	"github.com/xaenox/dump-bot/internal/processor"
	"github.com/xaenox/dump-bot/internal/storage"
	"github.com/xaenox/dump-bot/internal/workspace"
	"github.com/xaenox/dump-bot/pkg/config"
	"go.uber.org/zap"
)

// OpenStorage opens the store selected by cfg.
func OpenStorage(cfg config.DatabaseConfig, logger *zap.Logger) (storage.Storage, error) {
	switch cfg.StorageDriver() {
	case config.DriverMemory:
		logger.Info("Using in-memory storage")
		return storage.NewMemoryStorage(), nil
	case config.DriverSQLite:
		logger.Info("Using SQLite storage", zap.String("path", cfg.SQLitePath))
		return storage.NewSQLiteStorage(cfg.SQLitePath, logger)
	case config.DriverPostgres:
		logger.Info("Using PostgreSQL storage", zap.String("host", cfg.Host), zap.String("dbname", cfg.DBName))
		return storage.NewPostgresStorage(storage.DatabaseConfig{
			Host:     cfg.Host,
			Port:     cfg.Port,
			User:     cfg.User,
			Password: cfg.Password,
			DBName:   cfg.DBName,
			SSLMode:  cfg.SSLMode,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// NewOracle builds the classification oracle, wrapped for retries when configured.
func NewOracle(cfg *config.Config, logger *zap.Logger) classifier.Oracle {
	var oracle classifier.Oracle
	if cfg.ClassifierProvider() == config.ProviderKeyword {
		logger.Info("Using offline keyword classifier")
		oracle = classifier.NewKeywordClassifier(cfg.Classifier.MaxTags)
	} else {
		logger.Info("Using model classifier",
			zap.String("base_url", cfg.OpenAI.BaseURL),
			zap.String("model", cfg.OpenAI.Model))
		oracle = classifier.NewGPTClassifier(classifier.GPTConfig{
			APIKey:      cfg.OpenAI.APIKey,
			BaseURL:     cfg.OpenAI.BaseURL,
			Model:       cfg.OpenAI.Model,
			MaxTokens:   cfg.OpenAI.MaxTokens,
			Temperature: cfg.OpenAI.Temperature,
			Timeout:     cfg.OpenAI.Timeout,
		}, logger)
	}

	if cfg.Pipeline.MaxRetries > 0 {
		oracle = classifier.NewRetryingOracle(oracle, cfg.Pipeline.MaxRetries, cfg.Pipeline.RetryBackoff, logger)
	}
	return oracle
}

// OracleBudget is the processor's bound on one oracle call: every attempt plus
// the linear backoff between attempts.
func OracleBudget(p config.PipelineConfig, attemptTimeout time.Duration) time.Duration {
	budget := attemptTimeout * time.Duration(p.MaxRetries+1)
	for i := 1; i <= p.MaxRetries; i++ {
		budget += p.RetryBackoff * time.Duration(i)
	}
	return budget
}

// NewWorkspace builds the processor and the workspace service over store.
func NewWorkspace(cfg *config.Config, store storage.Storage, logger *zap.Logger) *workspace.Service {
	proc := processor.New(NewOracle(cfg, logger), store, processor.Config{
		ContextWindow: cfg.Pipeline.ContextWindow,
		Timeout:       OracleBudget(cfg.Pipeline, cfg.OpenAI.Timeout),
		UnionTags:     cfg.Pipeline.UnionTags,
	}, logger)
	return workspace.New(store, proc, logger)
}
