package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"viewpulse/internal/config"
	"viewpulse/internal/logger"
	"viewpulse/internal/storage"
)

func main() {
	configPath := flag.String("config", os.Getenv("VIEWPULSE_CONFIG"), "path to the YAML config file")
	dir := flag.String("dir", "migrations", "directory holding one sub-directory of .sql files per driver")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Init("info", false)
		logger.Logger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.Init(cfg.Log.Level, cfg.Log.Pretty)
	log := logger.WithComponent("migrate")

	driver := strings.ToLower(cfg.Storage.Driver)
	if driver == "postgresql" {
		driver = "postgres"
	}
	ctx := context.Background()
	backend, err := storage.Open(ctx, storage.Config{Driver: driver, DSN: cfg.Storage.DSN})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect")
	}
	defer backend.Close()

	migrator, ok := backend.(storage.Migrator)
	if !ok {
		log.Info().Str("driver", driver).Msg("driver has no schema, nothing to migrate")
		return
	}

	files, err := filepath.Glob(filepath.Join(*dir, driver, "*.sql"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to list migrations")
	}
	sort.Strings(files)
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			log.Fatal().Err(err).Str("file", file).Msg("failed to read migration")
		}
		if err := migrator.ExecScript(ctx, string(content)); err != nil {
			log.Fatal().Err(err).Str("file", file).Msg("failed to apply migration")
		}
		log.Info().Str("file", file).Msg("applied migration")
	}
}
