package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/dalepay/wallet-movements/internal/domain"
	"github.com/dalepay/wallet-movements/internal/testutil/dblock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	release := dblock.Acquire()
	code := m.Run()
	release()
	os.Exit(code)
}

// setupTestDB connects to the local Postgres instance and empties the tables.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	connString := os.Getenv("DATABASE_URL")
	if connString == "" {
		t.Skip("DATABASE_URL not set")
	}
	db, err := pgxpool.New(context.Background(), connString)
	if err != nil {
		t.Fatalf("Failed to connect to DB: %v", err)
	}
	t.Cleanup(db.Close)

	require.NoError(t, EnsureSchema(context.Background(), db))
	if _, err := db.Exec(context.Background(), "TRUNCATE TABLE movements, accounts CASCADE"); err != nil {
		t.Fatalf("Failed to truncate tables: %v", err)
	}
	return db
}

func TestFetchSnapshot(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.CreateAccount(ctx, &Account{
		ID:        "acc-1",
		Email:     "ayo@example.com",
		Balance:   domain.Dollars(500),
		KYCStatus: "verified",
		KYCLevel:  "basic",
	}))

	settled := func(kind domain.OperationKind, amount domain.Money) domain.TransferRequest {
		return domain.TransferRequest{
			ID:             uuid.New(),
			AccountID:      "acc-1",
			Kind:           kind,
			Amount:         amount,
			Speed:          domain.SpeedStandard,
			Status:         domain.StatusSettled,
			IdempotencyKey: uuid.NewString(),
		}
	}
	require.NoError(t, repo.RecordOutcome(ctx, settled(domain.KindPeerTransfer, domain.Dollars(200)), "TX-1"))
	require.NoError(t, repo.RecordOutcome(ctx, settled(domain.KindBankCashOut, domain.Dollars(100)), "TX-2"))
	// card funding does not count against limits
	require.NoError(t, repo.RecordOutcome(ctx, settled(domain.KindCardFunding, domain.Dollars(900)), "TX-3"))

	failed := settled(domain.KindPeerTransfer, domain.Dollars(50))
	failed.Status = domain.StatusFailed
	require.NoError(t, repo.RecordOutcome(ctx, failed, ""))

	dup := settled(domain.KindPeerTransfer, domain.Dollars(10))
	require.NoError(t, repo.RecordOutcome(ctx, dup, "TX-4"))
	require.NoError(t, repo.RecordOutcome(ctx, dup, "TX-4"))

	snap, err := repo.FetchSnapshot(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50_000), snap.Balance.Cents)
	assert.True(t, snap.IdentityVerified)
	assert.Equal(t, int64(69_000), snap.DailyRemaining.Cents)
	assert.Equal(t, int64(469_000), snap.MonthlyRemaining.Cents)
	assert.WithinDuration(t, time.Now(), snap.FetchedAt, time.Minute)

	ids, err := repo.Identifiers(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ayo@example.com"}, ids)
}

func TestFetchSnapshot_UnverifiedAndMissing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.CreateAccount(ctx, &Account{ID: "acc-2", KYCStatus: "pending", KYCLevel: ""}))

	snap, err := repo.FetchSnapshot(ctx, "acc-2")
	require.NoError(t, err)
	assert.False(t, snap.IdentityVerified)
	assert.True(t, snap.DailyRemaining.IsZero())

	_, err = repo.FetchSnapshot(ctx, "nobody")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestRecordOutcome_SettlementReplacesUnknownFailure(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.CreateAccount(ctx, &Account{
		ID:        "acc-3",
		Balance:   domain.Dollars(500),
		KYCStatus: "verified",
		KYCLevel:  "basic",
	}))

	req := domain.TransferRequest{
		ID:             uuid.New(),
		AccountID:      "acc-3",
		Kind:           domain.KindPeerTransfer,
		Amount:         domain.Dollars(120),
		Speed:          domain.SpeedStandard,
		Status:         domain.StatusFailed,
		IdempotencyKey: uuid.NewString(),
	}
	require.NoError(t, repo.RecordOutcome(ctx, req, ""))

	snap, err := repo.FetchSnapshot(ctx, "acc-3")
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), snap.DailyRemaining.Cents)

	// the retry reuses the key and settles
	req.Status = domain.StatusSettled
	require.NoError(t, repo.RecordOutcome(ctx, req, "TX-9"))

	snap, err = repo.FetchSnapshot(ctx, "acc-3")
	require.NoError(t, err)
	assert.Equal(t, int64(88_000), snap.DailyRemaining.Cents)

	// a settled row is not overwritten by a late failure
	req.Status = domain.StatusFailed
	require.NoError(t, repo.RecordOutcome(ctx, req, ""))

	var status, reference string
	require.NoError(t, db.QueryRow(ctx,
		"SELECT status, COALESCE(reference, '') FROM movements WHERE idempotency_key = $1", req.IdempotencyKey).
		Scan(&status, &reference))
	assert.Equal(t, string(domain.StatusSettled), status)
	assert.Equal(t, "TX-9", reference)
}
