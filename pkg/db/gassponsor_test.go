package db

import (
	"testing"
	"time"

	"github.com/cascoin-org/wcas-bridge/pkg/db/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestAllocateHdIndexMonotonic(t *testing.T) {
	adapter := newTestAdapter(t)

	for want := uint32(0); want < 3; want++ {
		got, err := adapter.AllocateHdIndex(HdPurposePolygonGas)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	// Separate purposes get separate counters.
	got, err := adapter.AllocateHdIndex("other")
	require.NoError(t, err)
	require.Equal(t, uint32(0), got)
}

func TestGasSponsorLifecycle(t *testing.T) {
	adapter := newTestAdapter(t)

	sponsor := &models.GasSponsorDeposit{
		CasDepositID:   1,
		PolygonAddress: "0x4444444444444444444444444444444444444444",
		RequiredAmount: decimal.NewFromFloat(0.05),
		HdIndex:        0,
	}
	require.NoError(t, adapter.CreateGasSponsorDeposit(sponsor))
	require.Equal(t, models.SponsorStatusPending, sponsor.Status)

	moved, err := adapter.MarkGasSponsorFunded(sponsor.ID, decimal.NewFromFloat(0.06))
	require.NoError(t, err)
	require.True(t, moved)

	// Replayed funding check is a no-op.
	moved, err = adapter.MarkGasSponsorFunded(sponsor.ID, decimal.NewFromFloat(0.07))
	require.NoError(t, err)
	require.False(t, moved)

	moved, err = adapter.MarkGasSponsorSpent(sponsor.ID)
	require.NoError(t, err)
	require.True(t, moved)

	moved, err = adapter.MarkGasSponsorSpent(sponsor.ID)
	require.NoError(t, err)
	require.False(t, moved)

	final, err := adapter.FindGasSponsorByDepositId(1)
	require.NoError(t, err)
	require.Equal(t, models.SponsorStatusSpent, final.Status)
	require.True(t, final.ReceivedAmount.Equal(decimal.NewFromFloat(0.06)))
}

func TestExpireGasSponsors(t *testing.T) {
	adapter := newTestAdapter(t)

	stale := &models.GasSponsorDeposit{
		CasDepositID:   1,
		PolygonAddress: "0x5555555555555555555555555555555555555555",
		HdIndex:        0,
	}
	stale.CreatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, adapter.CreateGasSponsorDeposit(stale))

	fresh := &models.GasSponsorDeposit{
		CasDepositID:   2,
		PolygonAddress: "0x6666666666666666666666666666666666666666",
		HdIndex:        1,
	}
	require.NoError(t, adapter.CreateGasSponsorDeposit(fresh))

	expired, err := adapter.ExpireGasSponsors(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), expired)

	staleAfter, err := adapter.FindGasSponsorByDepositId(1)
	require.NoError(t, err)
	require.Equal(t, models.SponsorStatusExpired, staleAfter.Status)

	freshAfter, err := adapter.FindGasSponsorByDepositId(2)
	require.NoError(t, err)
	require.Equal(t, models.SponsorStatusPending, freshAfter.Status)
}
