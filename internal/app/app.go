// Package app wires configuration into the long-lived services shared by the
// API server and the queue worker.
package app

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/suPer8Hu/smart-doctor/internal/ai"
	"github.com/suPer8Hu/smart-doctor/internal/chat"
	"github.com/suPer8Hu/smart-doctor/internal/config"
	"github.com/suPer8Hu/smart-doctor/internal/db"
	"gorm.io/gorm"
)

type Services struct {
	DB      *gorm.DB
	Repo    *chat.Repo
	Chat    *chat.Service
	Models  []ai.ModelRef
	closers []func() error
}

func New(ctx context.Context, cfg config.Config) (*Services, error) {
	gdb, err := db.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	repo := chat.NewRepo(gdb)
	if err := repo.AutoMigrate(); err != nil {
		return nil, err
	}

	models, err := ai.ParseModelList(cfg.AIModels)
	if err != nil {
		return nil, err
	}

	reg, closeReg, err := BuildRegistry(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if missing := Unregistered(reg, models); len(missing) > 0 {
		log.Printf("[App] WARNING models without a registered provider will always fail: %v", missing)
	}

	fallback := ai.NewFallbackClient(reg, models,
		ai.WithRetryDelay(time.Duration(cfg.AIRetryDelayMS)*time.Millisecond),
		ai.WithSkipFinalDelay(cfg.AISkipFinalDelay),
	)

	prompt := chat.DefaultPrompt()
	if cfg.PromptFile != "" {
		prompt, err = chat.LoadPrompt(cfg.PromptFile)
		if err != nil {
			_ = closeReg()
			return nil, err
		}
	}

	log.Printf("[App] db=%s models=%v providers=%v", cfg.DBDriver, models, reg.Names())

	return &Services{
		DB:      gdb,
		Repo:    repo,
		Chat:    chat.NewService(repo, fallback, prompt, cfg.ChatHistoryWindow),
		Models:  models,
		closers: []func() error{closeReg},
	}, nil
}

func (s *Services) Close() {
	for _, c := range s.closers {
		if err := c(); err != nil {
			log.Printf("[App] close: %v", err)
		}
	}
	if sqlDB, err := s.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// Unregistered returns the models whose provider is not in reg, in list order.
func Unregistered(reg *ai.Registry, models []ai.ModelRef) []ai.ModelRef {
	var out []ai.ModelRef
	for _, m := range models {
		if !reg.Has(m.Provider) {
			out = append(out, m)
		}
	}
	return out
}

// BuildRegistry registers every provider the configuration allows. Gemini is
// only available when an API key is set.
func BuildRegistry(ctx context.Context, cfg config.Config) (*ai.Registry, func() error, error) {
	reg := ai.NewRegistry()
	closeFn := func() error { return nil }

	if cfg.GeminiAPIKey != "" {
		gc, err := ai.NewGeminiClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, nil, err
		}
		reg.Register("gemini", gc.Factory())
		closeFn = gc.Close
	} else {
		log.Printf("[App] GEMINI_API_KEY not set, gemini models will fail")
	}

	reg.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, strings.TrimSpace(model)), nil
	})

	if cfg.OpenRouterAPIKey != "" {
		reg.Register("openrouter", func(ctx context.Context, model string) (ai.Provider, error) {
			_ = ctx
			return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, strings.TrimSpace(model), cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
		})
	}

	return reg, closeFn, nil
}
