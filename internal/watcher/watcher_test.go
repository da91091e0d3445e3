package watcher

import (
	"context"
	"fmt"
	"testing"

	"github.com/cascoin-org/wcas-bridge/internal/executor"
	"github.com/cascoin-org/wcas-bridge/pkg/db"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
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

type fakeMinter struct {
	requests []executor.MintRequest
	err      error
}

func (f *fakeMinter) Mint(_ context.Context, req executor.MintRequest) (string, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	return "0xminthash", nil
}

type fakeReleaser struct {
	requests []executor.ReleaseRequest
	err      error
}

func (f *fakeReleaser) Release(_ context.Context, req executor.ReleaseRequest) (string, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	return "castxid", nil
}

func requireAmount(t *testing.T, want int64, got decimal.Decimal) {
	t.Helper()
	require.True(t, got.Equal(decimal.NewFromInt(want)), "want %d, got %s", want, got)
}
