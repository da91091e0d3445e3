package db

import (
	"fmt"

	"github.com/cascoin-org/wcas-bridge/config"
	"github.com/cascoin-org/wcas-bridge/pkg/db/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

type DatabaseAdapter struct {
	PostgresClient *gorm.DB
}

func NewDatabaseAdapter(config *config.Config) (*DatabaseAdapter, error) {
	pgClient, err := NewPostgresClient(config)
	if err != nil {
		return nil, err
	}
	return &DatabaseAdapter{
		PostgresClient: pgClient,
	}, nil
}

func NewPostgresClient(config *config.Config) (*gorm.DB, error) {
	if config == nil || config.Database.URL == "" {
		return nil, fmt.Errorf("database url is not set")
	}
	db, err := gorm.Open(postgres.Open(config.Database.URL), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	err = RunMigrations(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func RunMigrations(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.CasDeposit{},
		&models.ProcessedUtxo{},
		&models.ReturnIntention{},
		&models.RelayTransaction{},
		&models.GasSponsorDeposit{},
		&models.EventCheckPoint{},
		&models.HdIndexCursor{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
