package db

import (
	"errors"
	"fmt"

	"github.com/cascoin-org/wcas-bridge/pkg/db/models"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a requested ledger record does not exist.
var ErrNotFound = errors.New("record not found")

func (db *DatabaseAdapter) CreateCasDeposit(deposit *models.CasDeposit) error {
	if deposit.Status == "" {
		deposit.Status = models.DepositStatusPending
	}
	result := db.PostgresClient.Create(deposit)
	if result.Error != nil {
		return fmt.Errorf("failed to create cas deposit: %w", result.Error)
	}
	log.Debug().Uint("depositId", deposit.ID).
		Str("depositAddress", deposit.CascoinDepositAddress).
		Msg("[DatabaseAdapter] [CreateCasDeposit] created")
	return nil
}

func (db *DatabaseAdapter) FindCasDepositById(id uint) (*models.CasDeposit, error) {
	var deposit models.CasDeposit
	result := db.PostgresClient.First(&deposit, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, result.Error
	}
	return &deposit, nil
}

func (db *DatabaseAdapter) FindCasDepositByAddress(depositAddress string) (*models.CasDeposit, error) {
	var deposit models.CasDeposit
	result := db.PostgresClient.Where("cascoin_deposit_address = ?", depositAddress).First(&deposit)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, result.Error
	}
	return &deposit, nil
}

func (db *DatabaseAdapter) FindCasDepositsByStatus(status string) ([]models.CasDeposit, error) {
	var deposits []models.CasDeposit
	result := db.PostgresClient.Where("status = ?", status).Order("id asc").Find(&deposits)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to find cas deposits by status %s: %w", status, result.Error)
	}
	return deposits, nil
}

// UpdateCasDepositStatus is the unguarded operator path; watcher and executor
// writes go through guarded transitions instead.
func (db *DatabaseAdapter) UpdateCasDepositStatus(id uint, status string, mintTxHash *string, receivedAmount *decimal.Decimal) error {
	updates := map[string]interface{}{"status": status}
	if mintTxHash != nil {
		updates["mint_tx_hash"] = *mintTxHash
	}
	if receivedAmount != nil {
		updates["received_amount"] = *receivedAmount
	}
	result := db.PostgresClient.Model(&models.CasDeposit{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update cas deposit %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TransitionCasDepositStatus performs a guarded status transition: the update
// applies only while the record is still in fromStatus, so concurrent or
// replayed writers cannot regress a record. Returns true when the transition
// was applied.
func (db *DatabaseAdapter) TransitionCasDepositStatus(id uint, fromStatus, toStatus string, mintTxHash *string) (bool, error) {
	updates := map[string]interface{}{"status": toStatus}
	if mintTxHash != nil {
		updates["mint_tx_hash"] = *mintTxHash
	}
	result := db.PostgresClient.Model(&models.CasDeposit{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("failed to transition cas deposit %d: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// RecordDepositUtxo passes one confirmed UTXO through the idempotence gate
// and, when it is new, credits the deposit in the same transaction. The
// commit happens before any mint attempt so a crash after this point can at
// worst duplicate the executor invocation, never lose the deposit.
// Returns false when the (txid, vout) pair was already processed.
func (db *DatabaseAdapter) RecordDepositUtxo(depositId uint, txid string, vout uint32, amount decimal.Decimal, confirmations int64) (bool, error) {
	processed := false
	err := db.PostgresClient.Transaction(func(tx *gorm.DB) error {
		record := models.ProcessedUtxo{
			TxID:         txid,
			Vout:         vout,
			CasDepositID: depositId,
			Amount:       amount,
		}
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// Idempotence conflict: this output was already handled.
			return nil
		}
		processed = true

		var deposit models.CasDeposit
		if err := tx.First(&deposit, depositId).Error; err != nil {
			return err
		}
		updates := map[string]interface{}{
			"received_amount":       deposit.ReceivedAmount.Add(amount),
			"status":                models.DepositStatusConfirmedPending,
			"current_confirmations": confirmations,
			"deposit_tx_hash":       txid,
		}
		return tx.Model(&models.CasDeposit{}).Where("id = ?", depositId).Updates(updates).Error
	})
	if err != nil {
		return false, fmt.Errorf("failed to record deposit utxo %s:%d: %w", txid, vout, err)
	}
	return processed, nil
}

func (db *DatabaseAdapter) CountProcessedUtxos(txid string, vout uint32) (int64, error) {
	var count int64
	result := db.PostgresClient.Model(&models.ProcessedUtxo{}).
		Where("tx_id = ? AND vout = ?", txid, vout).
		Count(&count)
	if result.Error != nil {
		return 0, result.Error
	}
	return count, nil
}
