package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Fee models selectable per bridging request.
const (
	FeeModelDirectPayment = "direct_payment"
	FeeModelByoGas        = "byo_gas"
)

// CasDeposit statuses.
const (
	DepositStatusPending           = "pending"
	DepositStatusConfirmedPending  = "confirmed_pending_mint"
	DepositStatusMintTriggered     = "mint_triggered"
	DepositStatusMinted            = "wcas_minted"
	DepositStatusMintFailed        = "mint_failed"
	DepositStatusMintTriggerFailed = "mint_trigger_failed"
)

// ReturnIntention statuses.
const (
	IntentionStatusPending   = "pending_deposit"
	IntentionStatusDetected  = "deposit_detected"
	IntentionStatusProcessed = "processed"
	IntentionStatusExpired   = "expired"
)

// RelayTransaction statuses.
const (
	RelayStatusPendingConfirmation  = "pending_confirmation"
	RelayStatusOnHoldNoIntention    = "on_hold_no_intention"
	RelayStatusConfirmed            = "wcas_confirmed"
	RelayStatusReleaseTriggered     = "cas_release_triggered"
	RelayStatusReleased             = "cas_released"
	RelayStatusReleaseFailed        = "release_failed"
	RelayStatusReleaseTriggerFailed = "cas_release_trigger_failed"
)

// GasSponsorDeposit statuses.
const (
	SponsorStatusPending = "pending"
	SponsorStatusFunded  = "funded"
	SponsorStatusSpent   = "spent"
	SponsorStatusExpired = "expired"
)

// UnknownDestination is the sentinel set on relay transactions observed
// without a matching return intention. Release is never triggered while this
// value is in place.
const UnknownDestination = "UNKNOWN_NO_INTENTION"

// CasDeposit is one bridging request on the Cascoin->Polygon direction: a
// custodial Cascoin address awaiting funds, destined for a Polygon address.
type CasDeposit struct {
	gorm.Model
	PolygonAddress        string          `gorm:"type:varchar(255);index"`
	CascoinDepositAddress string          `gorm:"type:varchar(255);uniqueIndex"`
	ReceivedAmount        decimal.Decimal `gorm:"type:numeric(30,8);default:0"`
	Status                string          `gorm:"type:varchar(64);default:'pending';index"`
	FeeModel              string          `gorm:"type:varchar(32);default:'direct_payment'"`
	CurrentConfirmations  int64           `gorm:"default:0"`
	RequiredConfirmations int64           `gorm:"default:6"`
	DepositTxHash         *string         `gorm:"type:varchar(255)"`
	MintTxHash            *string         `gorm:"type:varchar(255)"`
}

// ProcessedUtxo de-duplicates source chain outputs. The (txid, vout) unique
// index is the sole gate preventing double processing of the same UTXO
// across watcher restarts or overlapping poll windows.
type ProcessedUtxo struct {
	gorm.Model
	TxID         string          `gorm:"type:varchar(255);uniqueIndex:idx_txid_vout"`
	Vout         uint32          `gorm:"uniqueIndex:idx_txid_vout"`
	CasDepositID uint            `gorm:"index"`
	Amount       decimal.Decimal `gorm:"type:numeric(30,8)"`
}

// ReturnIntention is a user's pre-registered promise to send wCAS to the
// bridge collection address, carrying the Cascoin address the released coin
// should go to. Several intentions may exist per sender; only the most
// recent pending one is eligible for matching.
type ReturnIntention struct {
	gorm.Model
	UserPolygonAddress   string `gorm:"type:varchar(255);index"`
	TargetCascoinAddress string `gorm:"type:varchar(255)"`
	FeeModel             string `gorm:"type:varchar(32);default:'direct_payment'"`
	Status               string `gorm:"type:varchar(64);default:'pending_deposit';index"`
}

// RelayTransaction records one observed wCAS transfer into the bridge
// collection address. The transfer hash is the natural idempotence key.
type RelayTransaction struct {
	gorm.Model
	FromAddress           string          `gorm:"type:varchar(255);index"`
	ToAddress             string          `gorm:"type:varchar(255)"`
	Amount                decimal.Decimal `gorm:"type:numeric(30,8)"`
	PolygonTxHash         string          `gorm:"type:varchar(255);uniqueIndex"`
	BlockNumber           uint64          `gorm:"type:bigint;default:0"`
	TargetCascoinAddress  string          `gorm:"type:varchar(255)"`
	Status                string          `gorm:"type:varchar(64);index"`
	CurrentConfirmations  int64           `gorm:"default:0"`
	RequiredConfirmations int64           `gorm:"default:12"`
	MatchedIntentionID    *uint           `gorm:"index"`
	CasReleaseTxHash      *string         `gorm:"type:varchar(255)"`
}

// GasSponsorDeposit is a one-time HD-derived Polygon address funding the gas
// of a single mint. Only the derivation index is stored; the key is
// re-derived on demand.
type GasSponsorDeposit struct {
	gorm.Model
	CasDepositID   uint            `gorm:"uniqueIndex"`
	PolygonAddress string          `gorm:"type:varchar(255);uniqueIndex"`
	RequiredAmount decimal.Decimal `gorm:"type:numeric(30,18)"`
	ReceivedAmount decimal.Decimal `gorm:"type:numeric(30,18);default:0"`
	HdIndex        uint32          `gorm:"uniqueIndex"`
	Status         string          `gorm:"type:varchar(64);default:'pending';index"`
}

// EventCheckPoint stores the last processed block per (chain, event) so a
// watcher resumes where it stopped. Cursor advancement happens in the same
// store as the ledger writes it covers.
type EventCheckPoint struct {
	gorm.Model
	ChainName   string `gorm:"uniqueIndex:idx_chain_event;type:varchar(255)"`
	EventName   string `gorm:"uniqueIndex:idx_chain_event;type:varchar(255)"`
	BlockNumber uint64 `gorm:"type:bigint"`
	TxHash      string `gorm:"type:varchar(255)"`
	LogIndex    uint
}

// HdIndexCursor is the persisted high-water mark for HD derivation indices.
// Indices only move forward, even when an allocation is later unused.
type HdIndexCursor struct {
	gorm.Model
	Purpose   string `gorm:"type:varchar(64);uniqueIndex"`
	NextIndex uint32 `gorm:"default:0"`
}
