package executor

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"testing"

	"github.com/cascoin-org/wcas-bridge/pkg/db"
	"github.com/cascoin-org/wcas-bridge/pkg/db/models"
	"github.com/cascoin-org/wcas-bridge/pkg/events"
	"github.com/cascoin-org/wcas-bridge/pkg/wallet"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

const (
	testMnemonic   = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	testDepositDst = "0x1111111111111111111111111111111111111111"
)

func newTestAdapter(t *testing.T) *db.DatabaseAdapter {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations(gormDB))
	return &db.DatabaseAdapter{PostgresClient: gormDB}
}

type fakePolygon struct {
	mintCalls int
	sponsored bool
	swept     bool
	mintErr   error
	onMint    func()
}

func (f *fakePolygon) SubmitMint(_ context.Context, _ string, _ decimal.Decimal, sponsorKey *ecdsa.PrivateKey) (string, error) {
	f.mintCalls++
	f.sponsored = sponsorKey != nil
	if f.onMint != nil {
		f.onMint()
	}
	if f.mintErr != nil {
		return "", f.mintErr
	}
	return "0xminthash", nil
}

func (f *fakePolygon) SweepSponsorResidue(_ context.Context, _ *ecdsa.PrivateKey, _ string) (bool, error) {
	f.swept = true
	return false, nil
}

type fakeCascoin struct {
	sendCalls int
	sendErr   error
	onSend    func()
}

func (f *fakeCascoin) SendToAddress(_ string, _ decimal.Decimal) (string, error) {
	f.sendCalls++
	if f.onSend != nil {
		f.onSend()
	}
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return "castxid", nil
}

func newTestExecutor(t *testing.T, adapter *db.DatabaseAdapter, polygonFake *fakePolygon, cascoinFake *fakeCascoin) *Executor {
	t.Helper()
	hdWallet, err := wallet.NewHDWallet(testMnemonic)
	require.NoError(t, err)
	return NewExecutor(adapter, polygonFake, cascoinFake, hdWallet, events.NewEventBus())
}

func createPendingMintDeposit(t *testing.T, adapter *db.DatabaseAdapter, feeModel string, amount int64) *models.CasDeposit {
	t.Helper()
	deposit := &models.CasDeposit{
		PolygonAddress:        testDepositDst,
		CascoinDepositAddress: "cas1qdeposit",
		FeeModel:              feeModel,
	}
	require.NoError(t, adapter.CreateCasDeposit(deposit))
	recorded, err := adapter.RecordDepositUtxo(deposit.ID, "txid-a", 0, decimal.NewFromInt(amount), 6)
	require.NoError(t, err)
	require.True(t, recorded)
	return deposit
}

func TestMintSuccess(t *testing.T) {
	adapter := newTestAdapter(t)
	polygonFake := &fakePolygon{}
	exec := newTestExecutor(t, adapter, polygonFake, &fakeCascoin{})
	deposit := createPendingMintDeposit(t, adapter, models.FeeModelDirectPayment, 100)

	txHash, err := exec.Mint(context.Background(), MintRequest{
		DepositID:   deposit.ID,
		Destination: testDepositDst,
		Amount:      decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	require.Equal(t, "0xminthash", txHash)
	require.Equal(t, 1, polygonFake.mintCalls)
	require.False(t, polygonFake.sponsored)

	final, err := adapter.FindCasDepositById(deposit.ID)
	require.NoError(t, err)
	require.Equal(t, models.DepositStatusMinted, final.Status)
	require.Equal(t, "0xminthash", *final.MintTxHash)
}

func TestMintClaimsDepositBeforeSubmission(t *testing.T) {
	adapter := newTestAdapter(t)
	polygonFake := &fakePolygon{}
	exec := newTestExecutor(t, adapter, polygonFake, &fakeCascoin{})
	deposit := createPendingMintDeposit(t, adapter, models.FeeModelDirectPayment, 100)

	var statusDuringSubmit string
	polygonFake.onMint = func() {
		inFlight, err := adapter.FindCasDepositById(deposit.ID)
		require.NoError(t, err)
		statusDuringSubmit = inFlight.Status
	}

	req := MintRequest{
		DepositID:   deposit.ID,
		Destination: testDepositDst,
		Amount:      decimal.NewFromInt(100),
	}
	_, err := exec.Mint(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, models.DepositStatusMintTriggered, statusDuringSubmit)

	// A repeated request finds the deposit already handled and submits nothing.
	_, err = exec.Mint(context.Background(), req)
	require.ErrorIs(t, err, ErrInvalidState)
	require.Equal(t, 1, polygonFake.mintCalls)
}

func TestMintRejectsMismatchedDestination(t *testing.T) {
	adapter := newTestAdapter(t)
	polygonFake := &fakePolygon{}
	exec := newTestExecutor(t, adapter, polygonFake, &fakeCascoin{})
	deposit := createPendingMintDeposit(t, adapter, models.FeeModelDirectPayment, 100)

	_, err := exec.Mint(context.Background(), MintRequest{
		DepositID:   deposit.ID,
		Destination: "0x9999999999999999999999999999999999999999",
		Amount:      decimal.NewFromInt(100),
	})
	require.ErrorIs(t, err, ErrLedgerMismatch)
	require.Zero(t, polygonFake.mintCalls)

	final, err := adapter.FindCasDepositById(deposit.ID)
	require.NoError(t, err)
	require.Equal(t, models.DepositStatusMintFailed, final.Status)
}

func TestMintRejectsExcessAmount(t *testing.T) {
	adapter := newTestAdapter(t)
	polygonFake := &fakePolygon{}
	exec := newTestExecutor(t, adapter, polygonFake, &fakeCascoin{})
	deposit := createPendingMintDeposit(t, adapter, models.FeeModelDirectPayment, 100)

	_, err := exec.Mint(context.Background(), MintRequest{
		DepositID:   deposit.ID,
		Destination: testDepositDst,
		Amount:      decimal.NewFromInt(101),
	})
	require.ErrorIs(t, err, ErrLedgerMismatch)
	require.Zero(t, polygonFake.mintCalls)
}

func TestMintSkipsNonPendingDeposit(t *testing.T) {
	adapter := newTestAdapter(t)
	polygonFake := &fakePolygon{}
	exec := newTestExecutor(t, adapter, polygonFake, &fakeCascoin{})

	deposit := &models.CasDeposit{
		PolygonAddress:        testDepositDst,
		CascoinDepositAddress: "cas1qdeposit",
	}
	require.NoError(t, adapter.CreateCasDeposit(deposit))

	_, err := exec.Mint(context.Background(), MintRequest{
		DepositID:   deposit.ID,
		Destination: testDepositDst,
		Amount:      decimal.NewFromInt(1),
	})
	require.ErrorIs(t, err, ErrInvalidState)
	require.Zero(t, polygonFake.mintCalls)

	final, err := adapter.FindCasDepositById(deposit.ID)
	require.NoError(t, err)
	require.Equal(t, models.DepositStatusPending, final.Status)
}

func TestMintChainFailureParksDeposit(t *testing.T) {
	adapter := newTestAdapter(t)
	polygonFake := &fakePolygon{mintErr: errors.New("rpc exploded")}
	exec := newTestExecutor(t, adapter, polygonFake, &fakeCascoin{})
	deposit := createPendingMintDeposit(t, adapter, models.FeeModelDirectPayment, 100)

	_, err := exec.Mint(context.Background(), MintRequest{
		DepositID:   deposit.ID,
		Destination: testDepositDst,
		Amount:      decimal.NewFromInt(100),
	})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrLedgerMismatch)

	final, err := adapter.FindCasDepositById(deposit.ID)
	require.NoError(t, err)
	require.Equal(t, models.DepositStatusMintFailed, final.Status)
}

func TestMintSponsoredUsesDerivedKeyAndSpendsSponsor(t *testing.T) {
	adapter := newTestAdapter(t)
	polygonFake := &fakePolygon{}
	exec := newTestExecutor(t, adapter, polygonFake, &fakeCascoin{})
	deposit := createPendingMintDeposit(t, adapter, models.FeeModelByoGas, 100)

	sponsor := &models.GasSponsorDeposit{
		CasDepositID:   deposit.ID,
		PolygonAddress: "0x7777777777777777777777777777777777777777",
		RequiredAmount: decimal.NewFromFloat(0.05),
		HdIndex:        0,
	}
	require.NoError(t, adapter.CreateGasSponsorDeposit(sponsor))
	moved, err := adapter.MarkGasSponsorFunded(sponsor.ID, decimal.NewFromFloat(0.06))
	require.NoError(t, err)
	require.True(t, moved)

	_, err = exec.Mint(context.Background(), MintRequest{
		DepositID:   deposit.ID,
		Destination: testDepositDst,
		Amount:      decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	require.True(t, polygonFake.sponsored)
	require.True(t, polygonFake.swept)

	finalSponsor, err := adapter.FindGasSponsorByDepositId(deposit.ID)
	require.NoError(t, err)
	require.Equal(t, models.SponsorStatusSpent, finalSponsor.Status)
}

func TestMintSponsoredRequiresFundedSponsor(t *testing.T) {
	adapter := newTestAdapter(t)
	polygonFake := &fakePolygon{}
	exec := newTestExecutor(t, adapter, polygonFake, &fakeCascoin{})
	deposit := createPendingMintDeposit(t, adapter, models.FeeModelByoGas, 100)

	sponsor := &models.GasSponsorDeposit{
		CasDepositID:   deposit.ID,
		PolygonAddress: "0x7777777777777777777777777777777777777777",
		HdIndex:        0,
	}
	require.NoError(t, adapter.CreateGasSponsorDeposit(sponsor))

	_, err := exec.Mint(context.Background(), MintRequest{
		DepositID:   deposit.ID,
		Destination: testDepositDst,
		Amount:      decimal.NewFromInt(100),
	})
	require.ErrorIs(t, err, ErrInvalidState)
	require.Zero(t, polygonFake.mintCalls)

	// The deposit stays armed for when the sponsor is funded.
	final, err := adapter.FindCasDepositById(deposit.ID)
	require.NoError(t, err)
	require.Equal(t, models.DepositStatusConfirmedPending, final.Status)
}

func createConfirmedRelayTx(t *testing.T, adapter *db.DatabaseAdapter, target string, amount int64) *models.RelayTransaction {
	t.Helper()
	intention := &models.ReturnIntention{
		UserPolygonAddress:   "0x2222222222222222222222222222222222222222",
		TargetCascoinAddress: target,
	}
	require.NoError(t, adapter.CreateReturnIntention(intention))
	relayTx, err := adapter.CreateRelayTransactionFromTransfer(&db.ObservedTransfer{
		TxHash:      "0xburn",
		FromAddress: intention.UserPolygonAddress,
		ToAddress:   "0x3333333333333333333333333333333333333333",
		Amount:      decimal.NewFromInt(amount),
		BlockNumber: 100,
	}, 12)
	require.NoError(t, err)
	moved, err := adapter.TransitionRelayTransactionStatus(relayTx.ID,
		models.RelayStatusPendingConfirmation, models.RelayStatusConfirmed, nil)
	require.NoError(t, err)
	require.True(t, moved)
	relayTx.Status = models.RelayStatusConfirmed
	return relayTx
}

func TestReleaseSuccessMarksIntentionProcessed(t *testing.T) {
	adapter := newTestAdapter(t)
	cascoinFake := &fakeCascoin{}
	exec := newTestExecutor(t, adapter, &fakePolygon{}, cascoinFake)
	relayTx := createConfirmedRelayTx(t, adapter, "cas1qtarget", 50)

	txHash, err := exec.Release(context.Background(), ReleaseRequest{
		RelayTxID:   relayTx.ID,
		Destination: "cas1qtarget",
		Amount:      decimal.NewFromInt(50),
	})
	require.NoError(t, err)
	require.Equal(t, "castxid", txHash)
	require.Equal(t, 1, cascoinFake.sendCalls)

	final, err := adapter.FindRelayTransactionById(relayTx.ID)
	require.NoError(t, err)
	require.Equal(t, models.RelayStatusReleased, final.Status)
	require.Equal(t, "castxid", *final.CasReleaseTxHash)

	require.NotNil(t, final.MatchedIntentionID)
	intention, err := adapter.FindReturnIntentionById(*final.MatchedIntentionID)
	require.NoError(t, err)
	require.Equal(t, models.IntentionStatusProcessed, intention.Status)
}

func TestReleaseClaimsRecordBeforeSubmission(t *testing.T) {
	adapter := newTestAdapter(t)
	cascoinFake := &fakeCascoin{}
	exec := newTestExecutor(t, adapter, &fakePolygon{}, cascoinFake)
	relayTx := createConfirmedRelayTx(t, adapter, "cas1qtarget", 50)

	var statusDuringSend string
	cascoinFake.onSend = func() {
		inFlight, err := adapter.FindRelayTransactionById(relayTx.ID)
		require.NoError(t, err)
		statusDuringSend = inFlight.Status
	}

	req := ReleaseRequest{
		RelayTxID:   relayTx.ID,
		Destination: "cas1qtarget",
		Amount:      decimal.NewFromInt(50),
	}
	_, err := exec.Release(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, models.RelayStatusReleaseTriggered, statusDuringSend)

	_, err = exec.Release(context.Background(), req)
	require.ErrorIs(t, err, ErrInvalidState)
	require.Equal(t, 1, cascoinFake.sendCalls)
}

func TestReleaseRejectsSentinelDestination(t *testing.T) {
	adapter := newTestAdapter(t)
	cascoinFake := &fakeCascoin{}
	exec := newTestExecutor(t, adapter, &fakePolygon{}, cascoinFake)
	relayTx := createConfirmedRelayTx(t, adapter, "cas1qtarget", 50)

	_, err := exec.Release(context.Background(), ReleaseRequest{
		RelayTxID:   relayTx.ID,
		Destination: models.UnknownDestination,
		Amount:      decimal.NewFromInt(50),
	})
	require.ErrorIs(t, err, ErrLedgerMismatch)
	require.Zero(t, cascoinFake.sendCalls)
}

func TestReleaseRejectsNonPositiveAmount(t *testing.T) {
	adapter := newTestAdapter(t)
	cascoinFake := &fakeCascoin{}
	exec := newTestExecutor(t, adapter, &fakePolygon{}, cascoinFake)
	relayTx := createConfirmedRelayTx(t, adapter, "cas1qtarget", 0)

	_, err := exec.Release(context.Background(), ReleaseRequest{
		RelayTxID:   relayTx.ID,
		Destination: "cas1qtarget",
		Amount:      decimal.Zero,
	})
	require.ErrorIs(t, err, ErrLedgerMismatch)
	require.Zero(t, cascoinFake.sendCalls)

	final, err := adapter.FindRelayTransactionById(relayTx.ID)
	require.NoError(t, err)
	require.Equal(t, models.RelayStatusReleaseFailed, final.Status)
}

func TestReleaseSkipsUnconfirmedRecord(t *testing.T) {
	adapter := newTestAdapter(t)
	cascoinFake := &fakeCascoin{}
	exec := newTestExecutor(t, adapter, &fakePolygon{}, cascoinFake)

	relayTx, err := adapter.CreateRelayTransactionFromTransfer(&db.ObservedTransfer{
		TxHash:      "0xheld",
		FromAddress: "0x2222222222222222222222222222222222222222",
		ToAddress:   "0x3333333333333333333333333333333333333333",
		Amount:      decimal.NewFromInt(50),
		BlockNumber: 100,
	}, 12)
	require.NoError(t, err)

	_, err = exec.Release(context.Background(), ReleaseRequest{
		RelayTxID:   relayTx.ID,
		Destination: "cas1qtarget",
		Amount:      decimal.NewFromInt(50),
	})
	require.ErrorIs(t, err, ErrInvalidState)
	require.Zero(t, cascoinFake.sendCalls)
}
