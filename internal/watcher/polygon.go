package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cascoin-org/wcas-bridge/internal/executor"
	"github.com/cascoin-org/wcas-bridge/pkg/db"
	"github.com/cascoin-org/wcas-bridge/pkg/db/models"
	"github.com/cascoin-org/wcas-bridge/pkg/events"
	"github.com/rs/zerolog/log"
)

const (
	ChainNamePolygon  = "polygon"
	EventNameTransfer = "wcas_transfer"

	// Upper bound on blocks scanned per cycle so a long outage does not
	// turn into one oversized eth_getLogs call.
	maxScanBlocks = 5000
)

// PolygonWatcher polls the Polygon chain for wCAS transfers into the bridge
// collection address, tracks their confirmation depth, and hands confirmed
// burns to the release trigger. It also detects gas sponsor funding and
// expires stale intentions and sponsor accounts.
type PolygonWatcher struct {
	dbAdapter             *db.DatabaseAdapter
	chain                 PolygonChain
	releaser              ReleaseTrigger
	eventBus              *events.EventBus
	requiredConfirmations int64
	startBlock            uint64
	intentionTTL          time.Duration
	sponsorTTL            time.Duration
}

func NewPolygonWatcher(dbAdapter *db.DatabaseAdapter, chain PolygonChain, releaser ReleaseTrigger, eventBus *events.EventBus,
	requiredConfirmations int64, startBlock uint64, intentionTTL, sponsorTTL time.Duration) *PolygonWatcher {
	return &PolygonWatcher{
		dbAdapter:             dbAdapter,
		chain:                 chain,
		releaser:              releaser,
		eventBus:              eventBus,
		requiredConfirmations: requiredConfirmations,
		startBlock:            startBlock,
		intentionTTL:          intentionTTL,
		sponsorTTL:            sponsorTTL,
	}
}

// RunCycle performs one poll: scan new blocks for transfers, advance
// confirmation counts and trigger releases, check sponsor funding, and
// expire stale records. The block cursor only advances when the scan pass
// recorded every observed transfer, so a partial failure is re-scanned.
func (w *PolygonWatcher) RunCycle(ctx context.Context) (CycleResult, error) {
	head, err := w.chain.BlockNumber(ctx)
	if err != nil {
		return CycleResult{}, fmt.Errorf("failed to fetch chain head: %w", err)
	}

	result, err := w.scanTransfers(ctx, head)
	if err != nil {
		return result, err
	}
	result = result.merge(w.advanceConfirmations(ctx, head))
	result = result.merge(w.checkSponsorFunding(ctx))
	w.expireStaleRecords()
	return result, nil
}

func (w *PolygonWatcher) scanTransfers(ctx context.Context, head uint64) (CycleResult, error) {
	var result CycleResult
	checkpoint, err := w.dbAdapter.GetLastEventCheckPoint(ChainNamePolygon, EventNameTransfer)
	if err != nil {
		return result, fmt.Errorf("failed to load block cursor: %w", err)
	}
	fromBlock := checkpoint.BlockNumber + 1
	if checkpoint.BlockNumber == 0 && w.startBlock > 0 {
		fromBlock = w.startBlock
	}
	if fromBlock > head {
		return result, nil
	}
	toBlock := head
	if toBlock-fromBlock+1 > maxScanBlocks {
		toBlock = fromBlock + maxScanBlocks - 1
	}

	transfers, err := w.chain.FilterTransfers(ctx, fromBlock, toBlock)
	if err != nil {
		return result, fmt.Errorf("failed to scan blocks %d-%d: %w", fromBlock, toBlock, err)
	}

	clean := true
	for i := range transfers {
		transfer := &transfers[i]
		relayTx, err := w.dbAdapter.CreateRelayTransactionFromTransfer(&db.ObservedTransfer{
			TxHash:      transfer.TxHash,
			FromAddress: transfer.From.Hex(),
			ToAddress:   transfer.To.Hex(),
			Amount:      w.chain.FromWei(transfer.Value),
			BlockNumber: transfer.BlockNumber,
		}, w.requiredConfirmations)
		if err != nil {
			log.Error().Err(err).Str("txHash", transfer.TxHash).
				Msg("[PolygonWatcher] [ScanTransfers] failed to record observed transfer")
			clean = false
			result.Failed++
			continue
		}
		if relayTx == nil {
			result.Skipped++
			continue
		}
		log.Info().Str("txHash", relayTx.PolygonTxHash).
			Str("from", relayTx.FromAddress).
			Str("amount", relayTx.Amount.String()).
			Str("status", relayTx.Status).
			Msg("[PolygonWatcher] [ScanTransfers] wcas transfer recorded")
		w.publish(events.EntityRelayTransaction, relayTx.ID, relayTx.Status, relayTx.PolygonTxHash)
		result.Processed++
	}

	if clean {
		checkpoint.BlockNumber = toBlock
		if err := w.dbAdapter.UpdateLastEventCheckPoint(checkpoint); err != nil {
			return result, fmt.Errorf("failed to advance block cursor: %w", err)
		}
	}
	return result, nil
}

// advanceConfirmations updates confirmation depth for transfers still
// waiting and triggers release for those that reached the threshold.
func (w *PolygonWatcher) advanceConfirmations(ctx context.Context, head uint64) CycleResult {
	var result CycleResult
	relayTxs, err := w.dbAdapter.FindRelayTransactionsByStatus(models.RelayStatusPendingConfirmation)
	if err != nil {
		log.Error().Err(err).Msg("[PolygonWatcher] [AdvanceConfirmations] failed to list pending relay transactions")
		result.Failed++
		return result
	}
	for i := range relayTxs {
		relayTx := &relayTxs[i]
		blockNumber, found, err := w.chain.TransactionBlock(ctx, relayTx.PolygonTxHash)
		if err != nil {
			log.Error().Err(err).Uint("relayTxId", relayTx.ID).
				Msg("[PolygonWatcher] [AdvanceConfirmations] failed to locate transaction")
			result.Failed++
			continue
		}
		if !found || blockNumber > head {
			result.Skipped++
			continue
		}
		confirmations := int64(head - blockNumber)
		if err := w.dbAdapter.UpdateRelayTransactionConfirmations(relayTx.ID, confirmations); err != nil {
			log.Error().Err(err).Uint("relayTxId", relayTx.ID).
				Msg("[PolygonWatcher] [AdvanceConfirmations] failed to update confirmations")
			result.Failed++
			continue
		}
		if confirmations < relayTx.RequiredConfirmations {
			result.Skipped++
			continue
		}
		moved, err := w.dbAdapter.TransitionRelayTransactionStatus(relayTx.ID,
			models.RelayStatusPendingConfirmation, models.RelayStatusConfirmed, nil)
		if err != nil {
			log.Error().Err(err).Uint("relayTxId", relayTx.ID).
				Msg("[PolygonWatcher] [AdvanceConfirmations] failed to mark transfer confirmed")
			result.Failed++
			continue
		}
		if !moved {
			result.Skipped++
			continue
		}
		log.Info().Uint("relayTxId", relayTx.ID).Int64("confirmations", confirmations).
			Msg("[PolygonWatcher] [AdvanceConfirmations] transfer confirmed")
		w.publish(events.EntityRelayTransaction, relayTx.ID, models.RelayStatusConfirmed, relayTx.PolygonTxHash)
		result = result.merge(w.triggerRelease(ctx, relayTx))
	}
	return result
}

func (w *PolygonWatcher) triggerRelease(ctx context.Context, relayTx *models.RelayTransaction) CycleResult {
	var result CycleResult
	if relayTx.TargetCascoinAddress == "" || relayTx.TargetCascoinAddress == models.UnknownDestination {
		// Should not happen for a confirmed record; refuse rather than
		// pay out to a sentinel.
		log.Warn().Uint("relayTxId", relayTx.ID).
			Msg("[PolygonWatcher] [TriggerRelease] confirmed transfer without resolved destination, holding")
		result.Skipped++
		return result
	}
	if !relayTx.Amount.IsPositive() {
		log.Warn().Uint("relayTxId", relayTx.ID).Str("amount", relayTx.Amount.String()).
			Msg("[PolygonWatcher] [TriggerRelease] non-positive transfer amount, holding")
		result.Skipped++
		return result
	}
	txHash, err := w.releaser.Release(ctx, executor.ReleaseRequest{
		RelayTxID:   relayTx.ID,
		Destination: relayTx.TargetCascoinAddress,
		Amount:      relayTx.Amount,
	})
	if err != nil {
		if errors.Is(err, executor.ErrInvalidState) {
			result.Skipped++
			return result
		}
		log.Error().Err(err).Uint("relayTxId", relayTx.ID).
			Msg("[PolygonWatcher] [TriggerRelease] release trigger failed")
		if _, terr := w.dbAdapter.TransitionRelayTransactionStatus(relayTx.ID,
			models.RelayStatusConfirmed, models.RelayStatusReleaseTriggerFailed, nil); terr != nil {
			log.Error().Err(terr).Uint("relayTxId", relayTx.ID).
				Msg("[PolygonWatcher] [TriggerRelease] failed to record trigger failure")
		}
		result.Failed++
		return result
	}
	// No-op when the trigger already advanced the record past triggering.
	if _, err := w.dbAdapter.TransitionRelayTransactionStatus(relayTx.ID,
		models.RelayStatusConfirmed, models.RelayStatusReleaseTriggered, &txHash); err != nil {
		log.Error().Err(err).Uint("relayTxId", relayTx.ID).
			Msg("[PolygonWatcher] [TriggerRelease] failed to record triggered status")
	}
	result.Processed++
	return result
}

// checkSponsorFunding polls the native balance of pending gas sponsor
// addresses and marks the funded ones.
func (w *PolygonWatcher) checkSponsorFunding(ctx context.Context) CycleResult {
	var result CycleResult
	sponsors, err := w.dbAdapter.FindGasSponsorsByStatus(models.SponsorStatusPending)
	if err != nil {
		log.Error().Err(err).Msg("[PolygonWatcher] [CheckSponsorFunding] failed to list pending sponsors")
		result.Failed++
		return result
	}
	for i := range sponsors {
		sponsor := &sponsors[i]
		balance, err := w.chain.NativeBalance(ctx, sponsor.PolygonAddress)
		if err != nil {
			log.Error().Err(err).Uint("sponsorId", sponsor.ID).
				Msg("[PolygonWatcher] [CheckSponsorFunding] failed to read sponsor balance")
			result.Failed++
			continue
		}
		if balance.LessThan(sponsor.RequiredAmount) {
			result.Skipped++
			continue
		}
		moved, err := w.dbAdapter.MarkGasSponsorFunded(sponsor.ID, balance)
		if err != nil {
			log.Error().Err(err).Uint("sponsorId", sponsor.ID).
				Msg("[PolygonWatcher] [CheckSponsorFunding] failed to mark sponsor funded")
			result.Failed++
			continue
		}
		if !moved {
			result.Skipped++
			continue
		}
		log.Info().Uint("sponsorId", sponsor.ID).Uint("depositId", sponsor.CasDepositID).
			Str("balance", balance.String()).
			Msg("[PolygonWatcher] [CheckSponsorFunding] gas sponsor funded")
		w.publish(events.EntityGasSponsorDeposit, sponsor.ID, models.SponsorStatusFunded, "")
		result.Processed++
	}
	return result
}

func (w *PolygonWatcher) expireStaleRecords() {
	now := time.Now()
	if w.intentionTTL > 0 {
		expired, err := w.dbAdapter.ExpireReturnIntentions(now.Add(-w.intentionTTL))
		if err != nil {
			log.Error().Err(err).Msg("[PolygonWatcher] [ExpireStale] failed to expire return intentions")
		} else if expired > 0 {
			log.Info().Int64("count", expired).Msg("[PolygonWatcher] [ExpireStale] expired stale return intentions")
		}
	}
	if w.sponsorTTL > 0 {
		expired, err := w.dbAdapter.ExpireGasSponsors(now.Add(-w.sponsorTTL))
		if err != nil {
			log.Error().Err(err).Msg("[PolygonWatcher] [ExpireStale] failed to expire gas sponsors")
		} else if expired > 0 {
			log.Info().Int64("count", expired).Msg("[PolygonWatcher] [ExpireStale] expired unfunded gas sponsors")
		}
	}
}

func (w *PolygonWatcher) publish(entity string, id uint, status string, txHash string) {
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
