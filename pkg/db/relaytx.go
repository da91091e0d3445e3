package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cascoin-org/wcas-bridge/pkg/db/models"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ObservedTransfer is one token transfer the target-chain watcher wants to
// enter into the ledger.
type ObservedTransfer struct {
	TxHash      string
	FromAddress string
	ToAddress   string
	Amount      decimal.Decimal
	BlockNumber uint64
}

// CreateRelayTransactionFromTransfer records an observed transfer, matching
// it against the most recent pending return intention of the sender. The
// relay transaction and the intention update are committed atomically; the
// unique transfer hash makes re-observation of the same event a no-op.
// Returns the created record, or nil when the hash was already present.
func (db *DatabaseAdapter) CreateRelayTransactionFromTransfer(transfer *ObservedTransfer, requiredConfirmations int64) (*models.RelayTransaction, error) {
	txHash := strings.ToLower(transfer.TxHash)
	relayTx := models.RelayTransaction{
		FromAddress:           transfer.FromAddress,
		ToAddress:             transfer.ToAddress,
		Amount:                transfer.Amount,
		PolygonTxHash:         txHash,
		BlockNumber:           transfer.BlockNumber,
		TargetCascoinAddress:  models.UnknownDestination,
		Status:                models.RelayStatusOnHoldNoIntention,
		RequiredConfirmations: requiredConfirmations,
	}
	created := false
	err := db.PostgresClient.Transaction(func(tx *gorm.DB) error {
		var intention models.ReturnIntention
		err := tx.Where("user_polygon_address = ? AND status = ?",
			transfer.FromAddress, models.IntentionStatusPending).
			Order("created_at desc").
			First(&intention).Error
		if err == nil {
			relayTx.TargetCascoinAddress = intention.TargetCascoinAddress
			relayTx.Status = models.RelayStatusPendingConfirmation
			relayTx.MatchedIntentionID = &intention.ID
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&relayTx)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// Already observed, e.g. the cursor was not advanced before a
			// crash. Leave the existing record and the intention untouched.
			return nil
		}
		created = true
		if relayTx.MatchedIntentionID != nil {
			return tx.Model(&models.ReturnIntention{}).
				Where("id = ?", *relayTx.MatchedIntentionID).
				Update("status", models.IntentionStatusDetected).Error
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create relay transaction for %s: %w", txHash, err)
	}
	if !created {
		log.Debug().Str("txHash", txHash).
			Msg("[DatabaseAdapter] [CreateRelayTransactionFromTransfer] transfer already recorded, skipping")
		return nil, nil
	}
	return &relayTx, nil
}

func (db *DatabaseAdapter) FindRelayTransactionById(id uint) (*models.RelayTransaction, error) {
	var relayTx models.RelayTransaction
	result := db.PostgresClient.First(&relayTx, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, result.Error
	}
	return &relayTx, nil
}

func (db *DatabaseAdapter) FindRelayTransactionByHash(txHash string) (*models.RelayTransaction, error) {
	var relayTx models.RelayTransaction
	result := db.PostgresClient.Where("polygon_tx_hash = ?", strings.ToLower(txHash)).First(&relayTx)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, result.Error
	}
	return &relayTx, nil
}

func (db *DatabaseAdapter) FindRelayTransactionsByStatus(status string) ([]models.RelayTransaction, error) {
	var relayTxs []models.RelayTransaction
	result := db.PostgresClient.Where("status = ?", status).Order("id asc").Find(&relayTxs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to find relay transactions by status %s: %w", status, result.Error)
	}
	return relayTxs, nil
}

func (db *DatabaseAdapter) UpdateRelayTransactionStatus(id uint, status string, casReleaseTxHash *string) error {
	updates := map[string]interface{}{"status": status}
	if casReleaseTxHash != nil {
		updates["cas_release_tx_hash"] = *casReleaseTxHash
	}
	result := db.PostgresClient.Model(&models.RelayTransaction{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update relay transaction %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TransitionRelayTransactionStatus is the guarded counterpart of
// UpdateRelayTransactionStatus; see TransitionCasDepositStatus.
func (db *DatabaseAdapter) TransitionRelayTransactionStatus(id uint, fromStatus, toStatus string, casReleaseTxHash *string) (bool, error) {
	updates := map[string]interface{}{"status": toStatus}
	if casReleaseTxHash != nil {
		updates["cas_release_tx_hash"] = *casReleaseTxHash
	}
	result := db.PostgresClient.Model(&models.RelayTransaction{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("failed to transition relay transaction %d: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (db *DatabaseAdapter) UpdateRelayTransactionConfirmations(id uint, confirmations int64) error {
	result := db.PostgresClient.Model(&models.RelayTransaction{}).
		Where("id = ?", id).
		Update("current_confirmations", confirmations)
	return result.Error
}

// ResolveRelayTransactionDestination attaches a destination to a transfer
// held with the unknown sentinel, re-entering it into the confirmation flow.
// Manual operator path; no other writer ever leaves the hold state.
func (db *DatabaseAdapter) ResolveRelayTransactionDestination(id uint, targetCascoinAddress string) error {
	if targetCascoinAddress == "" || targetCascoinAddress == models.UnknownDestination {
		return fmt.Errorf("invalid destination for relay transaction %d", id)
	}
	result := db.PostgresClient.Model(&models.RelayTransaction{}).
		Where("id = ? AND status = ?", id, models.RelayStatusOnHoldNoIntention).
		Updates(map[string]interface{}{
			"target_cascoin_address": targetCascoinAddress,
			"status":                 models.RelayStatusPendingConfirmation,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to resolve relay transaction %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
