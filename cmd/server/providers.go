// File: cmd/server/providers.go
package main

import (
	"kopiclub_backend/internal/config"
	"kopiclub_backend/internal/filestorage"
	"kopiclub_backend/internal/platform/database"
	"kopiclub_backend/internal/points"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

func provideDB(cfg *config.Config) (*gorm.DB, func(), error) {
	db, err := database.NewGORM(cfg)
	if err != nil {
		return nil, nil, err
	}
	return db, func() { database.CloseGORMDB(db) }, nil
}

func provideStagingService(cfg *config.Config, zapLogger *zap.Logger) (*filestorage.StagingService, error) {
	return filestorage.NewStagingService(cfg.ImageStagingPath, zapLogger)
}

func provideJournal(db *gorm.DB) (points.Journal, error) {
	if err := points.AutoMigrate(db); err != nil {
		return nil, err
	}
	return points.NewGORMJournal(db), nil
}
