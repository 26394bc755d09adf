package main

import (
	"fmt"

	"github.com/ManuelReschke/PayProxy/internal/pkg/codec"
	"github.com/ManuelReschke/PayProxy/internal/pkg/config"
	"github.com/ManuelReschke/PayProxy/internal/pkg/database"
	"github.com/ManuelReschke/PayProxy/internal/pkg/env"
	"github.com/ManuelReschke/PayProxy/internal/pkg/payments"
	"github.com/gofiber/fiber/v2/log"
)

// loadConfig reads .env and the process environment the same way the
// service does.
func loadConfig() (*config.Config, error) {
	if err := env.SetupEnvFile(); err != nil {
		log.Debugf("[paytool] %v, using the process environment", err)
	}
	return config.Load()
}

func storageCodec(cfg *config.Config) (*codec.StorageCodec, error) {
	ring, err := cfg.KeyRing()
	if err != nil {
		return nil, fmt.Errorf("storage keys: %w", err)
	}
	return codec.NewStorageCodec(ring), nil
}

// connect opens the ledger and builds the payments service on top of it.
func connect(cfg *config.Config) (*payments.Service, payments.Repository, error) {
	if err := database.SetupDatabase(cfg.Database, cfg.App.Env); err != nil {
		return nil, nil, fmt.Errorf("database: %w", err)
	}
	storage, err := storageCodec(cfg)
	if err != nil {
		return nil, nil, err
	}
	signer, err := cfg.Signer()
	if err != nil {
		return nil, nil, err
	}
	opts, err := cfg.PaymentsOptions(signer, storage)
	if err != nil {
		return nil, nil, err
	}
	repo := payments.NewRepository(database.GetDB())
	svc, err := payments.NewService(repo, opts)
	if err != nil {
		return nil, nil, err
	}
	return svc, repo, nil
}
