package models

import "time"

// TransactionKind classifies a credit ledger row.
type TransactionKind string

// Ledger transaction kinds.
const (
	TransactionGrant         TransactionKind = "grant"
	TransactionDeduct        TransactionKind = "deduct"
	TransactionRefund        TransactionKind = "refund"
	TransactionTopupPurchase TransactionKind = "topup_purchase"
)

// CreditTransaction is one append-only ledger row. The balance is derived:
// sum(grants) + sum(topups) - sum(deducts) + sum(refunds), and is never
// negative at any observable moment.
type CreditTransaction struct {
	ID        int64           `db:"id" json:"id"`
	TenantID  string          `db:"tenant_id" json:"tenant_id"`
	Kind      TransactionKind `db:"kind" json:"kind"`
	Delta     int             `db:"delta" json:"delta"`
	Reason    string          `db:"reason" json:"reason"`
	JobID     *string         `db:"job_id" json:"job_id,omitempty"`
	ContentID *string         `db:"content_id" json:"content_id,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Subscription holds a tenant's tier and current credit pools. The
// monthly pool resets on a configured cadence; the topup pool only grows
// through purchases and shrinks through deductions.
type Subscription struct {
	TenantID         string    `db:"tenant_id" json:"tenant_id"`
	Tier             string    `db:"tier" json:"tier"`
	MonthlyRemaining int       `db:"monthly_remaining" json:"monthly_remaining"`
	TopupBalance     int       `db:"topup_balance" json:"topup_balance"`
	PeriodStart      time.Time `db:"period_start" json:"period_start"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// DurationCheck is the result of a tier duration gate.
type DurationCheck struct {
	Allowed         bool   `json:"allowed"`
	MaxDurationMins int    `json:"max_duration_minutes"`
	RequiredTier    string `json:"required_tier,omitempty"`
}

// StorageCheck is the result of a tier storage gate.
type StorageCheck struct {
	Allowed bool    `json:"allowed"`
	UsedMB  float64 `json:"used_mb"`
	LimitMB float64 `json:"limit_mb"`
}
