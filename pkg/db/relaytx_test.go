package db

import (
	"testing"
	"time"

	"github.com/cascoin-org/wcas-bridge/pkg/db/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const testSender = "0x2222222222222222222222222222222222222222"

func observedTransfer(txHash string) *ObservedTransfer {
	return &ObservedTransfer{
		TxHash:      txHash,
		FromAddress: testSender,
		ToAddress:   "0x3333333333333333333333333333333333333333",
		Amount:      decimal.NewFromInt(50),
		BlockNumber: 100,
	}
}

func TestCreateRelayTransactionMatchesLatestIntention(t *testing.T) {
	adapter := newTestAdapter(t)

	older := &models.ReturnIntention{
		UserPolygonAddress:   testSender,
		TargetCascoinAddress: "cas1qolder",
	}
	older.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, adapter.CreateReturnIntention(older))

	newer := &models.ReturnIntention{
		UserPolygonAddress:   testSender,
		TargetCascoinAddress: "cas1qnewer",
	}
	require.NoError(t, adapter.CreateReturnIntention(newer))

	relayTx, err := adapter.CreateRelayTransactionFromTransfer(observedTransfer("0xABC"), 12)
	require.NoError(t, err)
	require.NotNil(t, relayTx)
	require.Equal(t, models.RelayStatusPendingConfirmation, relayTx.Status)
	require.Equal(t, "cas1qnewer", relayTx.TargetCascoinAddress)
	require.NotNil(t, relayTx.MatchedIntentionID)
	require.Equal(t, newer.ID, *relayTx.MatchedIntentionID)
	require.Equal(t, int64(12), relayTx.RequiredConfirmations)

	matched, err := adapter.FindReturnIntentionById(newer.ID)
	require.NoError(t, err)
	require.Equal(t, models.IntentionStatusDetected, matched.Status)

	untouched, err := adapter.FindReturnIntentionById(older.ID)
	require.NoError(t, err)
	require.Equal(t, models.IntentionStatusPending, untouched.Status)
}

func TestCreateRelayTransactionWithoutIntentionHolds(t *testing.T) {
	adapter := newTestAdapter(t)

	relayTx, err := adapter.CreateRelayTransactionFromTransfer(observedTransfer("0xabc"), 12)
	require.NoError(t, err)
	require.NotNil(t, relayTx)
	require.Equal(t, models.RelayStatusOnHoldNoIntention, relayTx.Status)
	require.Equal(t, models.UnknownDestination, relayTx.TargetCascoinAddress)
	require.Nil(t, relayTx.MatchedIntentionID)
}

func TestCreateRelayTransactionDuplicateHash(t *testing.T) {
	adapter := newTestAdapter(t)

	first, err := adapter.CreateRelayTransactionFromTransfer(observedTransfer("0xAbC"), 12)
	require.NoError(t, err)
	require.NotNil(t, first)

	// Re-observation of the same event, case differences included.
	second, err := adapter.CreateRelayTransactionFromTransfer(observedTransfer("0xabc"), 12)
	require.NoError(t, err)
	require.Nil(t, second)

	found, err := adapter.FindRelayTransactionByHash("0xABC")
	require.NoError(t, err)
	require.Equal(t, first.ID, found.ID)
}

func TestResolveRelayTransactionDestination(t *testing.T) {
	adapter := newTestAdapter(t)

	relayTx, err := adapter.CreateRelayTransactionFromTransfer(observedTransfer("0xheld"), 12)
	require.NoError(t, err)
	require.Equal(t, models.RelayStatusOnHoldNoIntention, relayTx.Status)

	require.Error(t, adapter.ResolveRelayTransactionDestination(relayTx.ID, models.UnknownDestination))

	require.NoError(t, adapter.ResolveRelayTransactionDestination(relayTx.ID, "cas1qresolved"))

	resolved, err := adapter.FindRelayTransactionById(relayTx.ID)
	require.NoError(t, err)
	require.Equal(t, models.RelayStatusPendingConfirmation, resolved.Status)
	require.Equal(t, "cas1qresolved", resolved.TargetCascoinAddress)

	// Only held records can be resolved.
	require.ErrorIs(t, adapter.ResolveRelayTransactionDestination(relayTx.ID, "cas1qother"), ErrNotFound)
}

func TestTransitionRelayTransactionStatusGuard(t *testing.T) {
	adapter := newTestAdapter(t)

	intention := &models.ReturnIntention{
		UserPolygonAddress:   testSender,
		TargetCascoinAddress: "cas1qtarget",
	}
	require.NoError(t, adapter.CreateReturnIntention(intention))

	relayTx, err := adapter.CreateRelayTransactionFromTransfer(observedTransfer("0xdef"), 12)
	require.NoError(t, err)

	moved, err := adapter.TransitionRelayTransactionStatus(relayTx.ID,
		models.RelayStatusPendingConfirmation, models.RelayStatusConfirmed, nil)
	require.NoError(t, err)
	require.True(t, moved)

	hash := "castxid"
	moved, err = adapter.TransitionRelayTransactionStatus(relayTx.ID,
		models.RelayStatusConfirmed, models.RelayStatusReleased, &hash)
	require.NoError(t, err)
	require.True(t, moved)

	// Replayed confirmation must not regress a released record.
	moved, err = adapter.TransitionRelayTransactionStatus(relayTx.ID,
		models.RelayStatusPendingConfirmation, models.RelayStatusConfirmed, nil)
	require.NoError(t, err)
	require.False(t, moved)

	final, err := adapter.FindRelayTransactionById(relayTx.ID)
	require.NoError(t, err)
	require.Equal(t, models.RelayStatusReleased, final.Status)
	require.Equal(t, "castxid", *final.CasReleaseTxHash)
}
