package server

import (
	"context"
	"fmt"

	"festival-platform/internal/config"
	"festival-platform/internal/database"
)

// DatabaseConfig maps the loaded settings onto the connection config
func DatabaseConfig(cfg *config.Config) database.Config {
	return database.Config{
		URL:      cfg.Database.URL,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	}
}

// OpenPostgres connects to the configured database and applies pending
// migrations
func OpenPostgres(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.NewConnection(ctx, DatabaseConfig(cfg))
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}
