package db

import (
	"errors"
	"fmt"
	"time"

	"github.com/cascoin-org/wcas-bridge/pkg/db/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// HdPurposePolygonGas names the index namespace used for polygon gas
// sponsor addresses.
const HdPurposePolygonGas = "polygon_gas"

// AllocateHdIndex hands out the next derivation index for the given purpose
// and advances the persisted high-water mark in the same transaction.
// Indices are monotonic and never reused, even when the caller discards one.
func (db *DatabaseAdapter) AllocateHdIndex(purpose string) (uint32, error) {
	var allocated uint32
	err := db.PostgresClient.Transaction(func(tx *gorm.DB) error {
		var cursor models.HdIndexCursor
		err := tx.Where("purpose = ?", purpose).First(&cursor).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			cursor = models.HdIndexCursor{Purpose: purpose, NextIndex: 0}
			if err := tx.Create(&cursor).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		allocated = cursor.NextIndex
		return tx.Model(&models.HdIndexCursor{}).
			Where("id = ?", cursor.ID).
			Update("next_index", cursor.NextIndex+1).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to allocate hd index for %s: %w", purpose, err)
	}
	return allocated, nil
}

func (db *DatabaseAdapter) CreateGasSponsorDeposit(sponsor *models.GasSponsorDeposit) error {
	if sponsor.Status == "" {
		sponsor.Status = models.SponsorStatusPending
	}
	result := db.PostgresClient.Create(sponsor)
	if result.Error != nil {
		return fmt.Errorf("failed to create gas sponsor deposit: %w", result.Error)
	}
	return nil
}

func (db *DatabaseAdapter) FindGasSponsorByDepositId(casDepositId uint) (*models.GasSponsorDeposit, error) {
	var sponsor models.GasSponsorDeposit
	result := db.PostgresClient.Where("cas_deposit_id = ?", casDepositId).First(&sponsor)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, result.Error
	}
	return &sponsor, nil
}

func (db *DatabaseAdapter) FindGasSponsorsByStatus(status string) ([]models.GasSponsorDeposit, error) {
	var sponsors []models.GasSponsorDeposit
	result := db.PostgresClient.Where("status = ?", status).Order("id asc").Find(&sponsors)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to find gas sponsors by status %s: %w", status, result.Error)
	}
	return sponsors, nil
}

// MarkGasSponsorFunded flips a pending sponsor to funded once its balance
// covers the requirement. Guarded so a replayed funding check cannot revive
// a spent or expired sponsor.
func (db *DatabaseAdapter) MarkGasSponsorFunded(id uint, receivedAmount decimal.Decimal) (bool, error) {
	result := db.PostgresClient.Model(&models.GasSponsorDeposit{}).
		Where("id = ? AND status = ?", id, models.SponsorStatusPending).
		Updates(map[string]interface{}{
			"status":          models.SponsorStatusFunded,
			"received_amount": receivedAmount,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark gas sponsor %d funded: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (db *DatabaseAdapter) MarkGasSponsorSpent(id uint) (bool, error) {
	result := db.PostgresClient.Model(&models.GasSponsorDeposit{}).
		Where("id = ? AND status = ?", id, models.SponsorStatusFunded).
		Update("status", models.SponsorStatusSpent)
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark gas sponsor %d spent: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ExpireGasSponsors times out pending sponsors that were never funded. The
// derivation index stays burned.
func (db *DatabaseAdapter) ExpireGasSponsors(olderThan time.Time) (int64, error) {
	result := db.PostgresClient.Model(&models.GasSponsorDeposit{}).
		Where("status = ? AND created_at < ?", models.SponsorStatusPending, olderThan).
		Update("status", models.SponsorStatusExpired)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to expire gas sponsors: %w", result.Error)
	}
	return result.RowsAffected, nil
}
