package watcher

import (
	"context"
	"errors"
	"testing"

	"github.com/cascoin-org/wcas-bridge/pkg/clients/cascoin"
	"github.com/cascoin-org/wcas-bridge/pkg/db"
	"github.com/cascoin-org/wcas-bridge/pkg/db/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeCascoinRPC struct {
	unspents map[string][]cascoin.Unspent
	failFor  string
}

func (f *fakeCascoinRPC) ListUnspent(address string, minConfirmations int64) ([]cascoin.Unspent, error) {
	if f.failFor == address {
		return nil, errors.New("node unavailable")
	}
	var matched []cascoin.Unspent
	for _, utxo := range f.unspents[address] {
		if utxo.Confirmations >= minConfirmations {
			matched = append(matched, utxo)
		}
	}
	return matched, nil
}

func createWatchedDeposit(t *testing.T, adapter *db.DatabaseAdapter, feeModel string) *models.CasDeposit {
	t.Helper()
	deposit := &models.CasDeposit{
		PolygonAddress:        "0x1111111111111111111111111111111111111111",
		CascoinDepositAddress: "cas1qwatched",
		FeeModel:              feeModel,
		RequiredConfirmations: 6,
	}
	require.NoError(t, adapter.CreateCasDeposit(deposit))
	return deposit
}

func TestCascoinWatcherMintsConfirmedDeposit(t *testing.T) {
	adapter := newTestAdapter(t)
	deposit := createWatchedDeposit(t, adapter, models.FeeModelDirectPayment)
	rpc := &fakeCascoinRPC{unspents: map[string][]cascoin.Unspent{
		"cas1qwatched": {{TxID: "txid-a", Vout: 0, Amount: decimal.NewFromInt(100), Confirmations: 6}},
	}}
	minter := &fakeMinter{}
	w := NewCascoinWatcher(adapter, rpc, minter, nil, 6)

	result, err := w.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Processed)

	require.Len(t, minter.requests, 1)
	require.Equal(t, deposit.ID, minter.requests[0].DepositID)
	require.Equal(t, deposit.PolygonAddress, minter.requests[0].Destination)
	requireAmount(t, 100, minter.requests[0].Amount)

	updated, err := adapter.FindCasDepositById(deposit.ID)
	require.NoError(t, err)
	require.Equal(t, models.DepositStatusMintTriggered, updated.Status)
	requireAmount(t, 100, updated.ReceivedAmount)

	count, err := adapter.CountProcessedUtxos("txid-a", 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestCascoinWatcherIgnoresReplayedOutputs(t *testing.T) {
	adapter := newTestAdapter(t)
	deposit := createWatchedDeposit(t, adapter, models.FeeModelDirectPayment)
	rpc := &fakeCascoinRPC{unspents: map[string][]cascoin.Unspent{
		"cas1qwatched": {{TxID: "txid-a", Vout: 0, Amount: decimal.NewFromInt(100), Confirmations: 6}},
	}}
	minter := &fakeMinter{}
	w := NewCascoinWatcher(adapter, rpc, minter, nil, 6)

	_, err := w.RunCycle(context.Background())
	require.NoError(t, err)

	// The deposit re-enters the scan set; its only output was already
	// processed so nothing fires again.
	require.NoError(t, adapter.UpdateCasDepositStatus(deposit.ID, models.DepositStatusMinted, nil, nil))
	_, err = w.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, minter.requests, 1)
	requireAmount(t, 100, minter.requests[0].Amount)
}

func TestCascoinWatcherSkipsUnconfirmedOutputs(t *testing.T) {
	adapter := newTestAdapter(t)
	createWatchedDeposit(t, adapter, models.FeeModelDirectPayment)
	rpc := &fakeCascoinRPC{unspents: map[string][]cascoin.Unspent{
		"cas1qwatched": {{TxID: "txid-a", Vout: 0, Amount: decimal.NewFromInt(100), Confirmations: 5}},
	}}
	minter := &fakeMinter{}
	w := NewCascoinWatcher(adapter, rpc, minter, nil, 6)

	_, err := w.RunCycle(context.Background())
	require.NoError(t, err)
	require.Empty(t, minter.requests)
}

func TestCascoinWatcherHoldsSponsoredMintUntilFunded(t *testing.T) {
	adapter := newTestAdapter(t)
	deposit := createWatchedDeposit(t, adapter, models.FeeModelByoGas)
	rpc := &fakeCascoinRPC{unspents: map[string][]cascoin.Unspent{
		"cas1qwatched": {{TxID: "txid-a", Vout: 0, Amount: decimal.NewFromInt(100), Confirmations: 6}},
	}}
	minter := &fakeMinter{}
	w := NewCascoinWatcher(adapter, rpc, minter, nil, 6)

	_, err := w.RunCycle(context.Background())
	require.NoError(t, err)
	require.Empty(t, minter.requests)

	held, err := adapter.FindCasDepositById(deposit.ID)
	require.NoError(t, err)
	require.Equal(t, models.DepositStatusConfirmedPending, held.Status)

	sponsor := &models.GasSponsorDeposit{
		CasDepositID:   deposit.ID,
		PolygonAddress: "0x7777777777777777777777777777777777777777",
		HdIndex:        0,
	}
	require.NoError(t, adapter.CreateGasSponsorDeposit(sponsor))
	moved, err := adapter.MarkGasSponsorFunded(sponsor.ID, decimal.NewFromFloat(0.06))
	require.NoError(t, err)
	require.True(t, moved)

	_, err = w.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, minter.requests, 1)
	requireAmount(t, 100, minter.requests[0].Amount)
}

func TestCascoinWatcherRecordsTriggerFailure(t *testing.T) {
	adapter := newTestAdapter(t)
	deposit := createWatchedDeposit(t, adapter, models.FeeModelDirectPayment)
	rpc := &fakeCascoinRPC{unspents: map[string][]cascoin.Unspent{
		"cas1qwatched": {{TxID: "txid-a", Vout: 0, Amount: decimal.NewFromInt(100), Confirmations: 6}},
	}}
	minter := &fakeMinter{err: errors.New("trigger exploded")}
	w := NewCascoinWatcher(adapter, rpc, minter, nil, 6)

	result, err := w.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Failed)

	updated, err := adapter.FindCasDepositById(deposit.ID)
	require.NoError(t, err)
	require.Equal(t, models.DepositStatusMintTriggerFailed, updated.Status)
}

func TestCascoinWatcherIsolatesFailingAddress(t *testing.T) {
	adapter := newTestAdapter(t)
	createWatchedDeposit(t, adapter, models.FeeModelDirectPayment)

	other := &models.CasDeposit{
		PolygonAddress:        "0x1111111111111111111111111111111111111111",
		CascoinDepositAddress: "cas1qother",
		FeeModel:              models.FeeModelDirectPayment,
	}
	require.NoError(t, adapter.CreateCasDeposit(other))

	// First address errors at the node, second one still gets processed.
	rpc := &fakeCascoinRPC{
		failFor: "cas1qwatched",
		unspents: map[string][]cascoin.Unspent{
			"cas1qother": {{TxID: "txid-b", Vout: 0, Amount: decimal.NewFromInt(7), Confirmations: 6}},
		},
	}
	minter := &fakeMinter{}
	w := NewCascoinWatcher(adapter, rpc, minter, nil, 6)

	result, err := w.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Failed)
	require.Len(t, minter.requests, 1)
	require.Equal(t, other.ID, minter.requests[0].DepositID)
}
