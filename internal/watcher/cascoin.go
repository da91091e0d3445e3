package watcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/cascoin-org/wcas-bridge/internal/executor"
	"github.com/cascoin-org/wcas-bridge/pkg/db"
	"github.com/cascoin-org/wcas-bridge/pkg/db/models"
	"github.com/cascoin-org/wcas-bridge/pkg/events"
	"github.com/rs/zerolog/log"
)

// Deposit statuses whose addresses are still scanned for new outputs. An
// already minted deposit keeps its address, so later sends to it are picked
// up and re-arm the record.
var watchedDepositStatuses = []string{
	models.DepositStatusPending,
	models.DepositStatusConfirmedPending,
	models.DepositStatusMinted,
}

// CascoinWatcher polls the Cascoin node for confirmed outputs on tracked
// deposit addresses and hands newly confirmed deposits to the mint trigger.
type CascoinWatcher struct {
	dbAdapter             *db.DatabaseAdapter
	rpc                   CascoinRPC
	minter                MintTrigger
	eventBus              *events.EventBus
	requiredConfirmations int64
}

func NewCascoinWatcher(dbAdapter *db.DatabaseAdapter, rpc CascoinRPC, minter MintTrigger, eventBus *events.EventBus, requiredConfirmations int64) *CascoinWatcher {
	return &CascoinWatcher{
		dbAdapter:             dbAdapter,
		rpc:                   rpc,
		minter:                minter,
		eventBus:              eventBus,
		requiredConfirmations: requiredConfirmations,
	}
}

// RunCycle performs one poll: scan tracked addresses for confirmed outputs,
// then retry sponsored deposits whose gas account has since been funded.
// Failures on one deposit never block the others.
func (w *CascoinWatcher) RunCycle(ctx context.Context) (CycleResult, error) {
	result, err := w.scanDepositAddresses(ctx)
	if err != nil {
		return result, err
	}
	sponsored, err := w.retrySponsoredDeposits(ctx)
	if err != nil {
		return result, err
	}
	return result.merge(sponsored), nil
}

func (w *CascoinWatcher) scanDepositAddresses(ctx context.Context) (CycleResult, error) {
	var result CycleResult
	for _, status := range watchedDepositStatuses {
		deposits, err := w.dbAdapter.FindCasDepositsByStatus(status)
		if err != nil {
			return result, fmt.Errorf("failed to list %s deposits: %w", status, err)
		}
		for i := range deposits {
			deposit := &deposits[i]
			outcome := w.scanDeposit(ctx, deposit)
			result = result.merge(outcome)
		}
	}
	return result, nil
}

func (w *CascoinWatcher) scanDeposit(ctx context.Context, deposit *models.CasDeposit) CycleResult {
	var result CycleResult
	unspents, err := w.rpc.ListUnspent(deposit.CascoinDepositAddress, w.requiredConfirmations)
	if err != nil {
		log.Error().Err(err).Uint("depositId", deposit.ID).
			Str("address", deposit.CascoinDepositAddress).
			Msg("[CascoinWatcher] [ScanDeposit] failed to list unspent outputs")
		result.Failed++
		return result
	}
	for _, utxo := range unspents {
		recorded, err := w.dbAdapter.RecordDepositUtxo(deposit.ID, utxo.TxID, utxo.Vout, utxo.Amount, utxo.Confirmations)
		if err != nil {
			log.Error().Err(err).Uint("depositId", deposit.ID).
				Str("txid", utxo.TxID).Uint32("vout", utxo.Vout).
				Msg("[CascoinWatcher] [ScanDeposit] failed to record deposit output")
			result.Failed++
			continue
		}
		if !recorded {
			result.Skipped++
			continue
		}
		log.Info().Uint("depositId", deposit.ID).
			Str("txid", utxo.TxID).Uint32("vout", utxo.Vout).
			Str("amount", utxo.Amount.String()).
			Int64("confirmations", utxo.Confirmations).
			Msg("[CascoinWatcher] [ScanDeposit] confirmed deposit output recorded")
		w.publish(events.EntityCasDeposit, deposit.ID, models.DepositStatusConfirmedPending, utxo.TxID)
		if deposit.FeeModel == models.FeeModelByoGas {
			// Sponsored mints wait for the gas account; the retry pass
			// picks them up once the sponsor is funded.
			result.Skipped++
			continue
		}
		result = result.merge(w.triggerMint(ctx, deposit.ID, executor.MintRequest{
			DepositID:   deposit.ID,
			Destination: deposit.PolygonAddress,
			Amount:      utxo.Amount,
		}))
	}
	return result
}

// retrySponsoredDeposits triggers mints for sponsored deposits that already
// have confirmed funds and a funded gas account.
func (w *CascoinWatcher) retrySponsoredDeposits(ctx context.Context) (CycleResult, error) {
	var result CycleResult
	deposits, err := w.dbAdapter.FindCasDepositsByStatus(models.DepositStatusConfirmedPending)
	if err != nil {
		return result, fmt.Errorf("failed to list deposits pending mint: %w", err)
	}
	for i := range deposits {
		deposit := &deposits[i]
		if deposit.FeeModel != models.FeeModelByoGas {
			continue
		}
		sponsor, err := w.dbAdapter.FindGasSponsorByDepositId(deposit.ID)
		if err != nil {
			if !errors.Is(err, db.ErrNotFound) {
				log.Error().Err(err).Uint("depositId", deposit.ID).
					Msg("[CascoinWatcher] [RetrySponsored] failed to load gas sponsor")
				result.Failed++
			}
			continue
		}
		if sponsor.Status != models.SponsorStatusFunded {
			result.Skipped++
			continue
		}
		result = result.merge(w.triggerMint(ctx, deposit.ID, executor.MintRequest{
			DepositID:   deposit.ID,
			Destination: deposit.PolygonAddress,
			Amount:      deposit.ReceivedAmount,
		}))
	}
	return result, nil
}

func (w *CascoinWatcher) triggerMint(ctx context.Context, depositId uint, req executor.MintRequest) CycleResult {
	var result CycleResult
	txHash, err := w.minter.Mint(ctx, req)
	if err != nil {
		if errors.Is(err, executor.ErrInvalidState) {
			result.Skipped++
			return result
		}
		log.Error().Err(err).Uint("depositId", depositId).
			Msg("[CascoinWatcher] [TriggerMint] mint trigger failed")
		// Only reached when the trigger failed before recording any
		// outcome itself; validation and chain failures already moved
		// the deposit to mint_failed and the guard keeps that.
		if _, terr := w.dbAdapter.TransitionCasDepositStatus(depositId,
			models.DepositStatusConfirmedPending, models.DepositStatusMintTriggerFailed, nil); terr != nil {
			log.Error().Err(terr).Uint("depositId", depositId).
				Msg("[CascoinWatcher] [TriggerMint] failed to record trigger failure")
		}
		result.Failed++
		return result
	}
	// No-op when the trigger already advanced the record past triggering.
	if _, err := w.dbAdapter.TransitionCasDepositStatus(depositId,
		models.DepositStatusConfirmedPending, models.DepositStatusMintTriggered, &txHash); err != nil {
		log.Error().Err(err).Uint("depositId", depositId).
			Msg("[CascoinWatcher] [TriggerMint] failed to record triggered status")
	}
	result.Processed++
	return result
}

func (w *CascoinWatcher) publish(entity string, id uint, status string, txHash string) {
	if w.eventBus == nil {
		return
	}
	w.eventBus.Publish(events.StatusEvent{
		Entity: entity,
		ID:     id,
		Status: status,
		TxHash: txHash,
	})
}
