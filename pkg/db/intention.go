package db

import (
	"errors"
	"fmt"
	"time"

	"github.com/cascoin-org/wcas-bridge/pkg/db/models"
	"gorm.io/gorm"
)

func (db *DatabaseAdapter) CreateReturnIntention(intention *models.ReturnIntention) error {
	if intention.Status == "" {
		intention.Status = models.IntentionStatusPending
	}
	result := db.PostgresClient.Create(intention)
	if result.Error != nil {
		return fmt.Errorf("failed to create return intention: %w", result.Error)
	}
	return nil
}

func (db *DatabaseAdapter) FindReturnIntentionById(id uint) (*models.ReturnIntention, error) {
	var intention models.ReturnIntention
	result := db.PostgresClient.First(&intention, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, result.Error
	}
	return &intention, nil
}

// FindPendingIntentionBySender returns the most recently created pending
// intention for the sender, the only one eligible for matching.
func (db *DatabaseAdapter) FindPendingIntentionBySender(polygonAddress string) (*models.ReturnIntention, error) {
	var intention models.ReturnIntention
	result := db.PostgresClient.
		Where("user_polygon_address = ? AND status = ?", polygonAddress, models.IntentionStatusPending).
		Order("created_at desc").
		First(&intention)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, result.Error
	}
	return &intention, nil
}

func (db *DatabaseAdapter) UpdateReturnIntentionStatus(id uint, status string) error {
	result := db.PostgresClient.Model(&models.ReturnIntention{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("failed to update return intention %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ExpireReturnIntentions flips pending intentions older than the cutoff to
// expired so stale promises cannot be matched against new transfers.
func (db *DatabaseAdapter) ExpireReturnIntentions(olderThan time.Time) (int64, error) {
	result := db.PostgresClient.Model(&models.ReturnIntention{}).
		Where("status = ? AND created_at < ?", models.IntentionStatusPending, olderThan).
		Update("status", models.IntentionStatusExpired)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to expire return intentions: %w", result.Error)
	}
	return result.RowsAffected, nil
}
