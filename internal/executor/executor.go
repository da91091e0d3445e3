package executor

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/cascoin-org/wcas-bridge/pkg/db"
	"github.com/cascoin-org/wcas-bridge/pkg/db/models"
	"github.com/cascoin-org/wcas-bridge/pkg/events"
	"github.com/cascoin-org/wcas-bridge/pkg/wallet"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const COMPONENT_NAME = "Executor"

var (
	// ErrLedgerMismatch marks requests the ledger record contradicts. The
	// record is moved to its failed state without any chain call.
	ErrLedgerMismatch = errors.New("request disagrees with ledger record")
	// ErrInvalidState marks requests against records that are not in the
	// state the operation requires. The record is left untouched.
	ErrInvalidState = errors.New("record is not in an executable state")
)

// PolygonSubmitter is the slice of the Polygon client the executor needs.
type PolygonSubmitter interface {
	SubmitMint(ctx context.Context, destination string, amount decimal.Decimal, sponsorKey *ecdsa.PrivateKey) (string, error)
	SweepSponsorResidue(ctx context.Context, sponsorKey *ecdsa.PrivateKey, destination string) (bool, error)
}

// CascoinSubmitter is the slice of the Cascoin client the executor needs.
type CascoinSubmitter interface {
	SendToAddress(address string, amount decimal.Decimal) (string, error)
}

// MintRequest asks for wrapped tokens to be minted for a confirmed deposit.
// Amount is the newly confirmed deposit amount, not necessarily the record
// total.
type MintRequest struct {
	DepositID   uint
	Destination string
	Amount      decimal.Decimal
}

// ReleaseRequest asks for native coins to be released for a confirmed burn
// deposit on Polygon.
type ReleaseRequest struct {
	RelayTxID   uint
	Destination string
	Amount      decimal.Decimal
}

// MintRequestOf builds the request minting a deposit's full received
// amount.
func MintRequestOf(deposit *models.CasDeposit) MintRequest {
	return MintRequest{
		DepositID:   deposit.ID,
		Destination: deposit.PolygonAddress,
		Amount:      deposit.ReceivedAmount,
	}
}

// ReleaseRequestOf builds the request releasing a relay transaction's
// recorded amount to its recorded destination.
func ReleaseRequestOf(relayTx *models.RelayTransaction) ReleaseRequest {
	return ReleaseRequest{
		RelayTxID:   relayTx.ID,
		Destination: relayTx.TargetCascoinAddress,
		Amount:      relayTx.Amount,
	}
}

// Executor carries chain side effects for records the watchers confirmed.
// Every submission is gated on the record's current status so a duplicate
// invocation or a replayed event is a no-op.
type Executor struct {
	dbAdapter *db.DatabaseAdapter
	polygon   PolygonSubmitter
	cascoin   CascoinSubmitter
	hdWallet  *wallet.HDWallet
	eventBus  *events.EventBus
}

func NewExecutor(dbAdapter *db.DatabaseAdapter, polygon PolygonSubmitter, cascoin CascoinSubmitter, hdWallet *wallet.HDWallet, eventBus *events.EventBus) *Executor {
	return &Executor{
		dbAdapter: dbAdapter,
		polygon:   polygon,
		cascoin:   cascoin,
		hdWallet:  hdWallet,
		eventBus:  eventBus,
	}
}

// Mint validates a mint request against the stored deposit and submits the
// wrapped-token mint. Validation failures park the deposit in mint_failed
// without touching the chain; chain failures after submission do the same.
func (e *Executor) Mint(ctx context.Context, req MintRequest) (string, error) {
	deposit, err := e.dbAdapter.FindCasDepositById(req.DepositID)
	if err != nil {
		return "", fmt.Errorf("failed to load deposit %d: %w", req.DepositID, err)
	}
	if deposit.Status != models.DepositStatusConfirmedPending {
		log.Debug().Uint("depositId", deposit.ID).Str("status", deposit.Status).
			Msg("[Executor] [Mint] deposit not pending mint, skipping")
		return "", fmt.Errorf("%w: deposit %d is %s", ErrInvalidState, deposit.ID, deposit.Status)
	}
	if err := e.validateMint(deposit, req); err != nil {
		e.failDeposit(deposit.ID, models.DepositStatusMintFailed)
		return "", err
	}

	var sponsorKey *ecdsa.PrivateKey
	var sponsor *models.GasSponsorDeposit
	if deposit.FeeModel == models.FeeModelByoGas {
		sponsor, sponsorKey, err = e.sponsorKey(deposit.ID)
		if err != nil {
			return "", err
		}
	}

	// Claim the deposit before touching the chain. A concurrent invocation
	// that loses this transition backs off without submitting anything.
	claimed, err := e.dbAdapter.TransitionCasDepositStatus(deposit.ID, models.DepositStatusConfirmedPending, models.DepositStatusMintTriggered, nil)
	if err != nil {
		return "", fmt.Errorf("failed to claim deposit %d for minting: %w", deposit.ID, err)
	}
	if !claimed {
		return "", fmt.Errorf("%w: deposit %d was claimed by another mint", ErrInvalidState, deposit.ID)
	}
	e.publish(events.EntityCasDeposit, deposit.ID, models.DepositStatusMintTriggered, "")

	txHash, err := e.polygon.SubmitMint(ctx, deposit.PolygonAddress, req.Amount, sponsorKey)
	if err != nil {
		e.failDeposit(deposit.ID, models.DepositStatusMintFailed)
		return "", fmt.Errorf("mint submission for deposit %d failed: %w", deposit.ID, err)
	}

	moved, err := e.dbAdapter.TransitionCasDepositStatus(deposit.ID, models.DepositStatusMintTriggered, models.DepositStatusMinted, &txHash)
	if err != nil {
		return txHash, fmt.Errorf("failed to record minted status for deposit %d: %w", deposit.ID, err)
	}
	if moved {
		e.publish(events.EntityCasDeposit, deposit.ID, models.DepositStatusMinted, txHash)
	}
	log.Info().Uint("depositId", deposit.ID).Str("txHash", txHash).
		Str("amount", req.Amount.String()).
		Msg("[Executor] [Mint] wrapped tokens minted")

	if sponsorKey != nil {
		e.settleSponsor(ctx, deposit, sponsor, sponsorKey)
	}
	return txHash, nil
}

func (e *Executor) validateMint(deposit *models.CasDeposit, req MintRequest) error {
	if !strings.EqualFold(req.Destination, deposit.PolygonAddress) {
		return fmt.Errorf("%w: destination %s does not match deposit %d recipient %s",
			ErrLedgerMismatch, req.Destination, deposit.ID, deposit.PolygonAddress)
	}
	if !req.Amount.IsPositive() {
		return fmt.Errorf("%w: non-positive mint amount %s for deposit %d",
			ErrLedgerMismatch, req.Amount.String(), deposit.ID)
	}
	if req.Amount.GreaterThan(deposit.ReceivedAmount) {
		return fmt.Errorf("%w: mint amount %s exceeds received %s for deposit %d",
			ErrLedgerMismatch, req.Amount.String(), deposit.ReceivedAmount.String(), deposit.ID)
	}
	return nil
}

func (e *Executor) sponsorKey(depositId uint) (*models.GasSponsorDeposit, *ecdsa.PrivateKey, error) {
	if e.hdWallet == nil {
		return nil, nil, fmt.Errorf("sponsor wallet is not configured")
	}
	sponsor, err := e.dbAdapter.FindGasSponsorByDepositId(depositId)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load gas sponsor for deposit %d: %w", depositId, err)
	}
	if sponsor.Status != models.SponsorStatusFunded {
		return nil, nil, fmt.Errorf("%w: gas sponsor for deposit %d is %s", ErrInvalidState, depositId, sponsor.Status)
	}
	key, err := e.hdWallet.DeriveKey(sponsor.HdIndex)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to derive sponsor key at index %d: %w", sponsor.HdIndex, err)
	}
	return sponsor, key, nil
}

// settleSponsor closes out a sponsor account after a sponsored mint: any
// wrapped tokens that ended up on the sponsor are forwarded to the user and
// the sponsor row is marked spent. Failures here are logged, not fatal,
// since the mint itself already succeeded.
func (e *Executor) settleSponsor(ctx context.Context, deposit *models.CasDeposit, sponsor *models.GasSponsorDeposit, key *ecdsa.PrivateKey) {
	if swept, err := e.polygon.SweepSponsorResidue(ctx, key, deposit.PolygonAddress); err != nil {
		log.Error().Err(err).Uint("depositId", deposit.ID).
			Msg("[Executor] [Mint] failed to sweep sponsor residue")
	} else if swept {
		log.Info().Uint("depositId", deposit.ID).Uint32("hdIndex", sponsor.HdIndex).
			Msg("[Executor] [Mint] sponsor residue forwarded to recipient")
	}
	if _, err := e.dbAdapter.MarkGasSponsorSpent(sponsor.ID); err != nil {
		log.Error().Err(err).Uint("sponsorId", sponsor.ID).
			Msg("[Executor] [Mint] failed to mark gas sponsor spent")
	} else {
		e.publish(events.EntityGasSponsorDeposit, sponsor.ID, models.SponsorStatusSpent, "")
	}
}

// Release validates a release request against the stored relay transaction
// and pays out native coins through the Cascoin node.
func (e *Executor) Release(ctx context.Context, req ReleaseRequest) (string, error) {
	relayTx, err := e.dbAdapter.FindRelayTransactionById(req.RelayTxID)
	if err != nil {
		return "", fmt.Errorf("failed to load relay transaction %d: %w", req.RelayTxID, err)
	}
	if relayTx.Status != models.RelayStatusConfirmed {
		log.Debug().Uint("relayTxId", relayTx.ID).Str("status", relayTx.Status).
			Msg("[Executor] [Release] relay transaction not confirmed, skipping")
		return "", fmt.Errorf("%w: relay transaction %d is %s", ErrInvalidState, relayTx.ID, relayTx.Status)
	}
	if err := e.validateRelease(relayTx, req); err != nil {
		e.failRelayTx(relayTx.ID, models.RelayStatusReleaseFailed)
		return "", err
	}

	claimed, err := e.dbAdapter.TransitionRelayTransactionStatus(relayTx.ID, models.RelayStatusConfirmed, models.RelayStatusReleaseTriggered, nil)
	if err != nil {
		return "", fmt.Errorf("failed to claim relay transaction %d for release: %w", relayTx.ID, err)
	}
	if !claimed {
		return "", fmt.Errorf("%w: relay transaction %d was claimed by another release", ErrInvalidState, relayTx.ID)
	}
	e.publish(events.EntityRelayTransaction, relayTx.ID, models.RelayStatusReleaseTriggered, "")

	txHash, err := e.cascoin.SendToAddress(req.Destination, req.Amount)
	if err != nil {
		e.failRelayTx(relayTx.ID, models.RelayStatusReleaseFailed)
		return "", fmt.Errorf("release submission for relay transaction %d failed: %w", relayTx.ID, err)
	}

	moved, err := e.dbAdapter.TransitionRelayTransactionStatus(relayTx.ID, models.RelayStatusReleaseTriggered, models.RelayStatusReleased, &txHash)
	if err != nil {
		return txHash, fmt.Errorf("failed to record released status for relay transaction %d: %w", relayTx.ID, err)
	}
	if moved {
		e.publish(events.EntityRelayTransaction, relayTx.ID, models.RelayStatusReleased, txHash)
	}
	log.Info().Uint("relayTxId", relayTx.ID).Str("txHash", txHash).
		Str("amount", req.Amount.String()).
		Msg("[Executor] [Release] native coins released")

	if relayTx.MatchedIntentionID != nil {
		if err := e.dbAdapter.UpdateReturnIntentionStatus(*relayTx.MatchedIntentionID, models.IntentionStatusProcessed); err != nil {
			log.Error().Err(err).Uint("intentionId", *relayTx.MatchedIntentionID).
				Msg("[Executor] [Release] failed to mark return intention processed")
		} else {
			e.publish(events.EntityReturnIntention, *relayTx.MatchedIntentionID, models.IntentionStatusProcessed, "")
		}
	}
	return txHash, nil
}

func (e *Executor) validateRelease(relayTx *models.RelayTransaction, req ReleaseRequest) error {
	if req.Destination == "" || req.Destination == models.UnknownDestination {
		return fmt.Errorf("%w: relay transaction %d has no resolved destination",
			ErrLedgerMismatch, relayTx.ID)
	}
	if req.Destination != relayTx.TargetCascoinAddress {
		return fmt.Errorf("%w: destination %s does not match relay transaction %d target %s",
			ErrLedgerMismatch, req.Destination, relayTx.ID, relayTx.TargetCascoinAddress)
	}
	if !req.Amount.IsPositive() {
		return fmt.Errorf("%w: non-positive release amount %s for relay transaction %d",
			ErrLedgerMismatch, req.Amount.String(), relayTx.ID)
	}
	if !req.Amount.Equal(relayTx.Amount) {
		return fmt.Errorf("%w: release amount %s does not match relay transaction %d amount %s",
			ErrLedgerMismatch, req.Amount.String(), relayTx.ID, relayTx.Amount.String())
	}
	return nil
}

func (e *Executor) failDeposit(depositId uint, status string) {
	if err := e.dbAdapter.UpdateCasDepositStatus(depositId, status, nil, nil); err != nil {
		log.Error().Err(err).Uint("depositId", depositId).Str("status", status).
			Msg("[Executor] [Mint] failed to record failure status")
		return
	}
	e.publish(events.EntityCasDeposit, depositId, status, "")
}

func (e *Executor) failRelayTx(relayTxId uint, status string) {
	if err := e.dbAdapter.UpdateRelayTransactionStatus(relayTxId, status, nil); err != nil {
		log.Error().Err(err).Uint("relayTxId", relayTxId).Str("status", status).
			Msg("[Executor] [Release] failed to record failure status")
		return
	}
	e.publish(events.EntityRelayTransaction, relayTxId, status, "")
}

func (e *Executor) publish(entity string, id uint, status string, txHash string) {
	if e.eventBus == nil {
		return
	}
	e.eventBus.Publish(events.StatusEvent{
		Entity: entity,
		ID:     id,
		Status: status,
		TxHash: txHash,
	})
}
