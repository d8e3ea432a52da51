package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dalepay/wallet-movements/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrAccountNotFound = errors.New("account not found")

//go:embed schema.sql
var schemaSQL string

// EnsureSchema creates the tables the repository reads if they are missing.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Account is the profile data the movement service needs about a sender.
type Account struct {
	ID        string
	Email     string
	Phone     string
	Balance   domain.Money
	KYCStatus string
	KYCLevel  string
	CreatedAt time.Time
}

type Repository struct {
	db  *pgxpool.Pool
	now func() time.Time
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db, now: time.Now}
}

func (r *Repository) CreateAccount(ctx context.Context, account *Account) error {
	query := `INSERT INTO accounts (id, email, phone, balance_cents, kyc_status, kyc_level, created_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, NOW()) RETURNING created_at`
	err := r.db.QueryRow(ctx, query, account.ID, account.Email, account.Phone, account.Balance.Cents, account.KYCStatus, account.KYCLevel).
		Scan(&account.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (r *Repository) GetAccount(ctx context.Context, id string) (*Account, error) {
	account := &Account{}
	var cents int64
	query := `SELECT id, COALESCE(email, ''), COALESCE(phone, ''), balance_cents, kyc_status, kyc_level, created_at
		FROM accounts WHERE id = $1`
	err := r.db.QueryRow(ctx, query, id).
		Scan(&account.ID, &account.Email, &account.Phone, &cents, &account.KYCStatus, &account.KYCLevel, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	account.Balance = domain.NewMoney(cents)
	return account, nil
}

// Identifiers returns the e-mail and phone of an account, used to block
// transfers to oneself.
func (r *Repository) Identifiers(ctx context.Context, accountID string) ([]string, error) {
	account, err := r.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, id := range []string{account.Email, account.Phone} {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// FetchSnapshot builds an account snapshot: balance and verification from
// accounts, remaining limits from the KYC tier minus settled volume.
func (r *Repository) FetchSnapshot(ctx context.Context, accountID string) (domain.AccountSnapshot, error) {
	account, err := r.GetAccount(ctx, accountID)
	if err != nil {
		return domain.AccountSnapshot{}, err
	}

	now := r.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	query := `
		SELECT
			COALESCE(SUM(amount_cents) FILTER (WHERE created_at >= $2), 0),
			COALESCE(SUM(amount_cents) FILTER (WHERE created_at >= $3), 0)
		FROM movements
		WHERE account_id = $1
		  AND status = $4
		  AND kind = ANY($5)
	`
	limited := []string{string(domain.KindPeerTransfer), string(domain.KindBankCashOut)}
	var daily, monthly int64
	if err := r.db.QueryRow(ctx, query, accountID, dayStart, monthStart, string(domain.StatusSettled), limited).
		Scan(&daily, &monthly); err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("failed to sum movement volume: %w", err)
	}

	tier := domain.TierFor(account.KYCLevel)
	return domain.AccountSnapshot{
		AccountID:        accountID,
		Balance:          account.Balance,
		DailyRemaining:   tier.DailyLimit.Sub(domain.NewMoney(daily)),
		MonthlyRemaining: tier.MonthlyLimit.Sub(domain.NewMoney(monthly)),
		IdentityVerified: strings.EqualFold(account.KYCStatus, "verified"),
		FetchedAt:        now,
	}, nil
}

// RecordOutcome journals a settled or failed movement so later snapshots
// count it against the daily and monthly limits. A later outcome for the same
// idempotency key replaces an earlier failure; a settled row is final.
func (r *Repository) RecordOutcome(ctx context.Context, req domain.TransferRequest, reference string) error {
	query := `
		INSERT INTO movements (id, account_id, kind, speed, amount_cents, fee_cents, status, reference, idempotency_key, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, NULLIF($8, ''), $9, $10)
		ON CONFLICT (idempotency_key) DO UPDATE SET
			status = EXCLUDED.status,
			reference = EXCLUDED.reference,
			amount_cents = EXCLUDED.amount_cents,
			fee_cents = EXCLUDED.fee_cents,
			created_at = EXCLUDED.created_at
		WHERE movements.status <> 'settled'
	`
	_, err := r.db.Exec(ctx, query,
		req.ID, req.AccountID, string(req.Kind), string(req.Speed),
		req.Amount.Cents, req.Fee.Cents, string(req.Status), reference, req.IdempotencyKey, r.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record movement: %w", err)
	}
	return nil
}

// Ping reports whether the database answers.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}
