package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mediavault/mediavault/pkg/config"
	"github.com/mediavault/mediavault/pkg/models"
)

// TxRef optionally ties a ledger row to the job or content it concerns.
type TxRef struct {
	JobID     string
	ContentID string
}

// CreditService is the authoritative source of truth for per-tenant
// credit balances, the append-only ledger, and tier-derived limits.
type CreditService struct {
	db      *sqlx.DB
	tiers   config.TierTable
	refunds prometheus.Counter
}

// SetRefundCounter attaches a counter incremented by the credits of each
// applied (non-suppressed) refund.
func (s *CreditService) SetRefundCounter(c prometheus.Counter) {
	s.refunds = c
}

// NewCreditService creates a new CreditService.
func NewCreditService(db *sqlx.DB, tiers config.TierTable) *CreditService {
	return &CreditService{db: db, tiers: tiers}
}

// EnsureSubscription lazily creates a default free-tier subscription for
// the tenant and returns it. The initial monthly allocation is recorded
// as a grant in the ledger.
func (s *CreditService) EnsureSubscription(ctx context.Context, tenantID string) (*models.Subscription, error) {
	if tenantID == "" {
		return nil, NewValidationError("tenant_id", "required")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tenants (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, tenantID); err != nil {
		return nil, fmt.Errorf("failed to ensure tenant: %w", err)
	}

	tier := s.tiers.Default()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO subscriptions (tenant_id, tier, monthly_remaining, topup_balance)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (tenant_id) DO NOTHING`,
		tenantID, tier.Name, tier.MonthlyCredits)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure subscription: %w", err)
	}

	if n, _ := res.RowsAffected(); n > 0 {
		if err := appendLedgerRow(ctx, tx, tenantID, models.TransactionGrant,
			tier.MonthlyCredits, "initial monthly allocation", TxRef{}); err != nil {
			return nil, err
		}
	}

	var sub models.Subscription
	if err := tx.GetContext(ctx, &sub,
		`SELECT tenant_id, tier, monthly_remaining, topup_balance, period_start, created_at, updated_at
		 FROM subscriptions WHERE tenant_id = $1`, tenantID); err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit subscription: %w", err)
	}
	return &sub, nil
}

// Balance returns monthly_remaining + topup_balance for the tenant.
func (s *CreditService) Balance(ctx context.Context, tenantID string) (int, error) {
	sub, err := s.EnsureSubscription(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	return sub.MonthlyRemaining + sub.TopupBalance, nil
}

// VideoCost returns the published credit cost for the given duration.
func (s *CreditService) VideoCost(durationMinutes float64, analyzeFrames bool) int {
	return s.tiers.VideoCost(durationMinutes, analyzeFrames)
}

// CheckDuration reports whether the tenant's tier permits media of the
// given duration, and names the cheapest tier that would.
func (s *CreditService) CheckDuration(ctx context.Context, tenantID string, minutes int) (models.DurationCheck, error) {
	sub, err := s.EnsureSubscription(ctx, tenantID)
	if err != nil {
		return models.DurationCheck{}, err
	}
	tier, ok := s.tiers.Find(sub.Tier)
	if !ok {
		return models.DurationCheck{}, fmt.Errorf("subscription references unknown tier %q", sub.Tier)
	}

	check := models.DurationCheck{
		Allowed:         minutes <= tier.MaxDurationMins,
		MaxDurationMins: tier.MaxDurationMins,
	}
	if !check.Allowed {
		if required, ok := s.tiers.TierForDuration(minutes); ok {
			check.RequiredTier = required.Name
		}
	}
	return check, nil
}

// CheckStorage reports whether persisting additionalBytes would exceed
// the tenant's tier storage limit.
func (s *CreditService) CheckStorage(ctx context.Context, tenantID string, additionalBytes int64) (models.StorageCheck, error) {
	sub, err := s.EnsureSubscription(ctx, tenantID)
	if err != nil {
		return models.StorageCheck{}, err
	}
	tier, ok := s.tiers.Find(sub.Tier)
	if !ok {
		return models.StorageCheck{}, fmt.Errorf("subscription references unknown tier %q", sub.Tier)
	}

	var used int64
	if err := s.db.GetContext(ctx, &used,
		`SELECT COALESCE(SUM(file_size_bytes), 0) FROM content_vectors WHERE tenant_id = $1`,
		tenantID); err != nil {
		return models.StorageCheck{}, fmt.Errorf("failed to sum storage usage: %w", err)
	}

	limitBytes := tier.StorageLimitMB * 1024 * 1024
	return models.StorageCheck{
		Allowed: used+additionalBytes <= limitBytes,
		UsedMB:  float64(used) / (1024 * 1024),
		LimitMB: float64(tier.StorageLimitMB),
	}, nil
}

// Deduct atomically removes amount credits, draining the monthly pool
// before the topup pool, and appends exactly one ledger row. Returns
// ErrInsufficientCredits when the combined balance is too small.
func (s *CreditService) Deduct(ctx context.Context, tenantID string, amount int, reason string, ref TxRef) error {
	if amount <= 0 {
		return NewValidationError("amount", "must be positive")
	}
	if _, err := s.EnsureSubscription(ctx, tenantID); err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.DeductInTx(ctx, tx, tenantID, amount, reason, ref); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deduction: %w", err)
	}
	return nil
}

// DeductInTx performs a deduction inside an existing transaction. Used
// by the job store so the charge commits together with the job row that
// records it.
func (s *CreditService) DeductInTx(ctx context.Context, tx *sqlx.Tx, tenantID string, amount int, reason string, ref TxRef) error {
	var monthly, topup int
	row := tx.QueryRowxContext(ctx,
		`SELECT monthly_remaining, topup_balance FROM subscriptions WHERE tenant_id = $1 FOR UPDATE`,
		tenantID)
	if err := row.Scan(&monthly, &topup); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to lock subscription: %w", err)
	}

	if monthly+topup < amount {
		return fmt.Errorf("%w: required %d, available %d", ErrInsufficientCredits, amount, monthly+topup)
	}

	fromMonthly := min(monthly, amount)
	fromTopup := amount - fromMonthly

	if _, err := tx.ExecContext(ctx,
		`UPDATE subscriptions
		 SET monthly_remaining = monthly_remaining - $2,
		     topup_balance = topup_balance - $3,
		     updated_at = now()
		 WHERE tenant_id = $1`,
		tenantID, fromMonthly, fromTopup); err != nil {
		return fmt.Errorf("failed to deduct credits: %w", err)
	}

	return appendLedgerRow(ctx, tx, tenantID, models.TransactionDeduct, -amount, reason, ref)
}

// Refund credits back after undelivered work, filling the monthly pool
// up to its tier cap before the topup pool. Refunds tied to a job are
// idempotent: a duplicate refund for the same (tenant, job) is silently
// suppressed.
func (s *CreditService) Refund(ctx context.Context, tenantID string, amount int, reason string, ref TxRef) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.RefundInTx(ctx, tx, tenantID, amount, reason, ref); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit refund: %w", err)
	}
	return nil
}

// RefundInTx performs a refund inside an existing transaction. Used by
// the job store so the refund row is committed together with the job's
// terminal state.
func (s *CreditService) RefundInTx(ctx context.Context, tx *sqlx.Tx, tenantID string, amount int, reason string, ref TxRef) error {
	if amount <= 0 {
		return NewValidationError("amount", "must be positive")
	}

	// The partial unique index makes the insert the idempotency gate:
	// a second refund for the same job inserts nothing.
	inserted, err := tryAppendLedgerRow(ctx, tx, tenantID, models.TransactionRefund, amount, reason, ref)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}

	var tierName string
	var monthly int
	row := tx.QueryRowxContext(ctx,
		`SELECT tier, monthly_remaining FROM subscriptions WHERE tenant_id = $1 FOR UPDATE`, tenantID)
	if err := row.Scan(&tierName, &monthly); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to lock subscription: %w", err)
	}

	monthlyCap := 0
	if tier, ok := s.tiers.Find(tierName); ok {
		monthlyCap = tier.MonthlyCredits
	}
	toMonthly := amount
	if room := monthlyCap - monthly; room < toMonthly {
		toMonthly = max(room, 0)
	}
	toTopup := amount - toMonthly

	if _, err := tx.ExecContext(ctx,
		`UPDATE subscriptions
		 SET monthly_remaining = monthly_remaining + $2,
		     topup_balance = topup_balance + $3,
		     updated_at = now()
		 WHERE tenant_id = $1`,
		tenantID, toMonthly, toTopup); err != nil {
		return fmt.Errorf("failed to refund credits: %w", err)
	}

	if s.refunds != nil {
		s.refunds.Add(float64(amount))
	}
	return nil
}

// Topup records a purchased credit pack: topup pool increase plus a
// ledger row and a purchase record.
func (s *CreditService) Topup(ctx context.Context, tenantID string, amount int, reference string) error {
	if amount <= 0 {
		return NewValidationError("amount", "must be positive")
	}
	if _, err := s.EnsureSubscription(ctx, tenantID); err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE subscriptions SET topup_balance = topup_balance + $2, updated_at = now() WHERE tenant_id = $1`,
		tenantID, amount); err != nil {
		return fmt.Errorf("failed to apply topup: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO credit_topups (tenant_id, amount, reference) VALUES ($1, $2, $3)`,
		tenantID, amount, reference); err != nil {
		return fmt.Errorf("failed to record topup: %w", err)
	}
	if err := appendLedgerRow(ctx, tx, tenantID, models.TransactionTopupPurchase, amount, "topup purchase", TxRef{}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit topup: %w", err)
	}
	return nil
}

// MonthlyReset restores the tenant's monthly pool to its tier allocation
// and records the granted difference. Driven by a periodic job, not by
// ingest.
func (s *CreditService) MonthlyReset(ctx context.Context, tenantID string) error {
	sub, err := s.EnsureSubscription(ctx, tenantID)
	if err != nil {
		return err
	}
	tier, ok := s.tiers.Find(sub.Tier)
	if !ok {
		return fmt.Errorf("subscription references unknown tier %q", sub.Tier)
	}

	granted := tier.MonthlyCredits - sub.MonthlyRemaining
	if granted <= 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE subscriptions
		 SET monthly_remaining = $2, period_start = now(), updated_at = now()
		 WHERE tenant_id = $1`,
		tenantID, tier.MonthlyCredits); err != nil {
		return fmt.Errorf("failed to reset monthly pool: %w", err)
	}
	if err := appendLedgerRow(ctx, tx, tenantID, models.TransactionGrant, granted, "monthly reset", TxRef{}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit monthly reset: %w", err)
	}
	return nil
}

// Ledger returns the most recent ledger rows for the tenant.
func (s *CreditService) Ledger(ctx context.Context, tenantID string, limit int) ([]models.CreditTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows := []models.CreditTransaction{}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, tenant_id, kind, delta, reason, job_id, content_id, created_at
		 FROM credit_transactions
		 WHERE tenant_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger: %w", err)
	}
	return rows, nil
}

func appendLedgerRow(ctx context.Context, tx *sqlx.Tx, tenantID string, kind models.TransactionKind, delta int, reason string, ref TxRef) error {
	inserted, err := tryAppendLedgerRow(ctx, tx, tenantID, kind, delta, reason, ref)
	if err != nil {
		return err
	}
	if !inserted {
		return fmt.Errorf("ledger row for %s/%s was suppressed unexpectedly", tenantID, kind)
	}
	return nil
}

func tryAppendLedgerRow(ctx context.Context, tx *sqlx.Tx, tenantID string, kind models.TransactionKind, delta int, reason string, ref TxRef) (bool, error) {
	var jobID, contentID *string
	if ref.JobID != "" {
		jobID = &ref.JobID
	}
	if ref.ContentID != "" {
		contentID = &ref.ContentID
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (tenant_id, kind, delta, reason, job_id, content_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, job_id, kind) WHERE kind = 'refund' AND job_id IS NOT NULL DO NOTHING`,
		tenantID, kind, delta, reason, jobID, contentID)
	if err != nil {
		return false, fmt.Errorf("failed to append ledger row: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read ledger insert result: %w", err)
	}
	return n > 0, nil
}
