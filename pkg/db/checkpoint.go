package db

import (
	"errors"
	"fmt"

	"github.com/cascoin-org/wcas-bridge/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetLastEventCheckPoint returns the persisted cursor for (chain, event),
// or a zero-block checkpoint when none was stored yet.
func (db *DatabaseAdapter) GetLastEventCheckPoint(chainName, eventName string) (*models.EventCheckPoint, error) {
	var checkpoint models.EventCheckPoint
	result := db.PostgresClient.
		Where("chain_name = ? AND event_name = ?", chainName, eventName).
		First(&checkpoint)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return &models.EventCheckPoint{
				ChainName:   chainName,
				EventName:   eventName,
				BlockNumber: 0,
			}, nil
		}
		return nil, fmt.Errorf("failed to get event checkpoint %s/%s: %w", chainName, eventName, result.Error)
	}
	return &checkpoint, nil
}

func (db *DatabaseAdapter) UpdateLastEventCheckPoint(checkpoint *models.EventCheckPoint) error {
	// Insert a fresh row so the upsert always resolves on the
	// (chain, event) constraint, never on a stale primary key.
	record := models.EventCheckPoint{
		ChainName:   checkpoint.ChainName,
		EventName:   checkpoint.EventName,
		BlockNumber: checkpoint.BlockNumber,
		TxHash:      checkpoint.TxHash,
		LogIndex:    checkpoint.LogIndex,
	}
	result := db.PostgresClient.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chain_name"}, {Name: "event_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"block_number", "tx_hash", "log_index"}),
	}).Create(&record)
	if result.Error != nil {
		return fmt.Errorf("failed to update event checkpoint %s/%s: %w",
			checkpoint.ChainName, checkpoint.EventName, result.Error)
	}
	return nil
}
