package watcher

import (
	"context"
	"math/big"
	"time"

	"github.com/cascoin-org/wcas-bridge/internal/executor"
	"github.com/cascoin-org/wcas-bridge/pkg/clients/cascoin"
	"github.com/cascoin-org/wcas-bridge/pkg/clients/polygon"
	"github.com/shopspring/decimal"
)

// CascoinRPC is the slice of the Cascoin node client the source-chain
// watcher needs.
type CascoinRPC interface {
	ListUnspent(address string, minConfirmations int64) ([]cascoin.Unspent, error)
}

// PolygonChain is the slice of the Polygon client the target-chain watcher
// needs.
type PolygonChain interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterTransfers(ctx context.Context, fromBlock, toBlock uint64) ([]polygon.TransferEvent, error)
	TransactionBlock(ctx context.Context, txHash string) (uint64, bool, error)
	NativeBalance(ctx context.Context, address string) (decimal.Decimal, error)
	FromWei(value *big.Int) decimal.Decimal
}

// MintTrigger starts a wrapped-token mint for a confirmed deposit.
type MintTrigger interface {
	Mint(ctx context.Context, req executor.MintRequest) (string, error)
}

// ReleaseTrigger starts a native-coin release for a confirmed relay
// transaction.
type ReleaseTrigger interface {
	Release(ctx context.Context, req executor.ReleaseRequest) (string, error)
}

// CycleResult summarizes one watcher pass for logging and tests.
type CycleResult struct {
	Processed int
	Skipped   int
	Failed    int
	Duration  time.Duration
}

func (r CycleResult) merge(other CycleResult) CycleResult {
	return CycleResult{
		Processed: r.Processed + other.Processed,
		Skipped:   r.Skipped + other.Skipped,
		Failed:    r.Failed + other.Failed,
	}
}
