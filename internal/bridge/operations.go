package bridge

import (
	"context"
	"fmt"

	"github.com/cascoin-org/wcas-bridge/internal/executor"
	"github.com/cascoin-org/wcas-bridge/pkg/db"
	"github.com/cascoin-org/wcas-bridge/pkg/db/models"
	"github.com/cascoin-org/wcas-bridge/pkg/events"
	"github.com/rs/zerolog/log"
)

var validDepositStatuses = map[string]bool{
	models.DepositStatusPending:           true,
	models.DepositStatusConfirmedPending:  true,
	models.DepositStatusMintTriggered:     true,
	models.DepositStatusMinted:            true,
	models.DepositStatusMintFailed:        true,
	models.DepositStatusMintTriggerFailed: true,
}

var validRelayStatuses = map[string]bool{
	models.RelayStatusPendingConfirmation:  true,
	models.RelayStatusOnHoldNoIntention:    true,
	models.RelayStatusConfirmed:            true,
	models.RelayStatusReleaseTriggered:     true,
	models.RelayStatusReleased:             true,
	models.RelayStatusReleaseFailed:        true,
	models.RelayStatusReleaseTriggerFailed: true,
}

func validFeeModel(feeModel string) bool {
	return feeModel == models.FeeModelDirectPayment || feeModel == models.FeeModelByoGas
}

// CreateDepositRecord provisions a fresh custodial Cascoin address for a
// user bridging toward the given Polygon address. The record starts pending
// and the source-chain watcher picks it up from there.
func (s *Service) CreateDepositRecord(polygonAddress, feeModel string) (*models.CasDeposit, error) {
	if err := s.validate.Var(polygonAddress, "required,eth_addr"); err != nil {
		return nil, fmt.Errorf("invalid polygon address %s: %w", polygonAddress, err)
	}
	if feeModel == "" {
		feeModel = models.FeeModelDirectPayment
	}
	if !validFeeModel(feeModel) {
		return nil, fmt.Errorf("unknown fee model %s", feeModel)
	}
	if feeModel == models.FeeModelByoGas && s.hdWallet == nil {
		return nil, fmt.Errorf("sponsored gas is not available, sponsor wallet is not configured")
	}

	depositAddress, err := s.cascoinNode.GetNewAddress(fmt.Sprintf("bridge:%s", polygonAddress))
	if err != nil {
		return nil, fmt.Errorf("failed to provision deposit address: %w", err)
	}
	deposit := &models.CasDeposit{
		PolygonAddress:        polygonAddress,
		CascoinDepositAddress: depositAddress,
		Status:                models.DepositStatusPending,
		FeeModel:              feeModel,
		RequiredConfirmations: s.config.Cascoin.RequiredConfirmations,
	}
	if err := s.dbAdapter.CreateCasDeposit(deposit); err != nil {
		return nil, fmt.Errorf("failed to create deposit record: %w", err)
	}
	log.Info().Uint("depositId", deposit.ID).
		Str("depositAddress", depositAddress).
		Str("polygonAddress", polygonAddress).
		Str("feeModel", feeModel).
		Msg("[BridgeService] [CreateDepositRecord] deposit record created")
	return deposit, nil
}

// RequestSponsorAddress returns the gas sponsor address for a sponsored
// deposit, allocating a fresh HD-derived address on first call. Repeated
// calls return the same record.
func (s *Service) RequestSponsorAddress(depositId uint) (*models.GasSponsorDeposit, error) {
	if s.hdWallet == nil {
		return nil, fmt.Errorf("sponsor wallet is not configured")
	}
	deposit, err := s.dbAdapter.FindCasDepositById(depositId)
	if err != nil {
		return nil, fmt.Errorf("failed to load deposit %d: %w", depositId, err)
	}
	if deposit.FeeModel != models.FeeModelByoGas {
		return nil, fmt.Errorf("deposit %d does not use sponsored gas", depositId)
	}
	if existing, err := s.dbAdapter.FindGasSponsorByDepositId(depositId); err == nil {
		return existing, nil
	}

	hdIndex, err := s.dbAdapter.AllocateHdIndex(db.HdPurposePolygonGas)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate sponsor index: %w", err)
	}
	address, err := s.hdWallet.DeriveAddress(hdIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to derive sponsor address at index %d: %w", hdIndex, err)
	}
	sponsor := &models.GasSponsorDeposit{
		CasDepositID:   depositId,
		PolygonAddress: address.Hex(),
		RequiredAmount: s.sponsorGasAmount(),
		HdIndex:        hdIndex,
		Status:         models.SponsorStatusPending,
	}
	if err := s.dbAdapter.CreateGasSponsorDeposit(sponsor); err != nil {
		return nil, fmt.Errorf("failed to create gas sponsor record: %w", err)
	}
	log.Info().Uint("depositId", depositId).Uint32("hdIndex", hdIndex).
		Str("sponsorAddress", sponsor.PolygonAddress).
		Msg("[BridgeService] [RequestSponsorAddress] gas sponsor address allocated")
	return sponsor, nil
}

// CreateReturnIntention registers a user's promise to send wCAS to the
// collection address, carrying the Cascoin payout destination.
func (s *Service) CreateReturnIntention(userPolygonAddress, targetCascoinAddress, feeModel string) (*models.ReturnIntention, error) {
	if err := s.validate.Var(userPolygonAddress, "required,eth_addr"); err != nil {
		return nil, fmt.Errorf("invalid polygon address %s: %w", userPolygonAddress, err)
	}
	if err := s.cascoinNode.ValidateAddress(targetCascoinAddress); err != nil {
		return nil, err
	}
	if feeModel == "" {
		feeModel = models.FeeModelDirectPayment
	}
	if !validFeeModel(feeModel) {
		return nil, fmt.Errorf("unknown fee model %s", feeModel)
	}
	intention := &models.ReturnIntention{
		UserPolygonAddress:   userPolygonAddress,
		TargetCascoinAddress: targetCascoinAddress,
		FeeModel:             feeModel,
		Status:               models.IntentionStatusPending,
	}
	if err := s.dbAdapter.CreateReturnIntention(intention); err != nil {
		return nil, fmt.Errorf("failed to create return intention: %w", err)
	}
	log.Info().Uint("intentionId", intention.ID).
		Str("polygonAddress", userPolygonAddress).
		Str("cascoinAddress", targetCascoinAddress).
		Msg("[BridgeService] [CreateReturnIntention] return intention registered")
	return intention, nil
}

func (s *Service) GetDepositById(id uint) (*models.CasDeposit, error) {
	return s.dbAdapter.FindCasDepositById(id)
}

func (s *Service) GetDepositByAddress(depositAddress string) (*models.CasDeposit, error) {
	return s.dbAdapter.FindCasDepositByAddress(depositAddress)
}

func (s *Service) GetRelayTransactionById(id uint) (*models.RelayTransaction, error) {
	return s.dbAdapter.FindRelayTransactionById(id)
}

func (s *Service) GetRelayTransactionByHash(txHash string) (*models.RelayTransaction, error) {
	return s.dbAdapter.FindRelayTransactionByHash(txHash)
}

// UpdateDepositStatus is an operator override. The status must come from
// the deposit vocabulary; arbitrary strings never enter the ledger.
func (s *Service) UpdateDepositStatus(id uint, status string) error {
	if !validDepositStatuses[status] {
		return fmt.Errorf("unknown deposit status %s", status)
	}
	if err := s.dbAdapter.UpdateCasDepositStatus(id, status, nil, nil); err != nil {
		return err
	}
	s.eventBus.Publish(events.StatusEvent{Entity: events.EntityCasDeposit, ID: id, Status: status})
	return nil
}

// UpdateRelayTransactionStatus is the relay-side operator override.
func (s *Service) UpdateRelayTransactionStatus(id uint, status string) error {
	if !validRelayStatuses[status] {
		return fmt.Errorf("unknown relay transaction status %s", status)
	}
	if err := s.dbAdapter.UpdateRelayTransactionStatus(id, status, nil); err != nil {
		return err
	}
	s.eventBus.Publish(events.StatusEvent{Entity: events.EntityRelayTransaction, ID: id, Status: status})
	return nil
}

// TriggerMint mints the full received amount of a deposit that is pending
// mint. Used by operators when the watcher-side trigger was skipped.
func (s *Service) TriggerMint(ctx context.Context, depositId uint) (string, error) {
	deposit, err := s.dbAdapter.FindCasDepositById(depositId)
	if err != nil {
		return "", err
	}
	return s.trigger.Mint(ctx, executor.MintRequestOf(deposit))
}

// RetryMint re-arms a failed deposit and mints its full received amount.
func (s *Service) RetryMint(ctx context.Context, depositId uint) (string, error) {
	deposit, err := s.dbAdapter.FindCasDepositById(depositId)
	if err != nil {
		return "", err
	}
	if deposit.Status != models.DepositStatusMintFailed && deposit.Status != models.DepositStatusMintTriggerFailed {
		return "", fmt.Errorf("deposit %d is %s, only failed deposits can be retried", depositId, deposit.Status)
	}
	moved, err := s.dbAdapter.TransitionCasDepositStatus(depositId, deposit.Status, models.DepositStatusConfirmedPending, nil)
	if err != nil {
		return "", err
	}
	if !moved {
		return "", fmt.Errorf("deposit %d changed state during retry", depositId)
	}
	log.Info().Uint("depositId", depositId).Msg("[BridgeService] [RetryMint] deposit re-armed for mint")
	return s.trigger.Mint(ctx, executor.MintRequestOf(deposit))
}

// TriggerRelease releases a confirmed relay transaction, re-arming a
// failed one first. Used by operators after fixing whatever made the
// release fail.
func (s *Service) TriggerRelease(ctx context.Context, relayTxId uint) (string, error) {
	relayTx, err := s.dbAdapter.FindRelayTransactionById(relayTxId)
	if err != nil {
		return "", err
	}
	if relayTx.Status == models.RelayStatusReleaseFailed || relayTx.Status == models.RelayStatusReleaseTriggerFailed {
		moved, err := s.dbAdapter.TransitionRelayTransactionStatus(relayTxId, relayTx.Status, models.RelayStatusConfirmed, nil)
		if err != nil {
			return "", err
		}
		if !moved {
			return "", fmt.Errorf("relay transaction %d changed state during retry", relayTxId)
		}
		log.Info().Uint("relayTxId", relayTxId).Msg("[BridgeService] [TriggerRelease] relay transaction re-armed for release")
	}
	return s.trigger.Release(ctx, executor.ReleaseRequestOf(relayTx))
}

// ResolveRelayTransaction attaches a payout destination to a transfer that
// arrived without a matching return intention. The record moves back into
// the confirmation flow and releases through the normal path.
func (s *Service) ResolveRelayTransaction(relayTxId uint, targetCascoinAddress string) error {
	if err := s.cascoinNode.ValidateAddress(targetCascoinAddress); err != nil {
		return err
	}
	if err := s.dbAdapter.ResolveRelayTransactionDestination(relayTxId, targetCascoinAddress); err != nil {
		return err
	}
	log.Info().Uint("relayTxId", relayTxId).Str("cascoinAddress", targetCascoinAddress).
		Msg("[BridgeService] [ResolveRelayTransaction] held transfer resolved")
	s.eventBus.Publish(events.StatusEvent{
		Entity: events.EntityRelayTransaction,
		ID:     relayTxId,
		Status: models.RelayStatusPendingConfirmation,
	})
	return nil
}
