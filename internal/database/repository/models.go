// Package repository holds the entity-store tables: one repo per table
// family, each usable against a plain connection or inside a transaction.
package repository

import (
	"context"
	"database/sql"
	"time"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so every repo can be used
// standalone for reads or bound to a transaction by the mutation engine for
// multi-table atomic writes.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// All monetary amounts are int64 in the minor currency unit. The JSON tags
// are the wire shape shared by the change log, the sync protocol and the
// backup file.

// Account represents an account row. Balance is a cached aggregate
// maintained transactionally by the mutation engine; no other writer
// touches it.
type Account struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"ownerId"`
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	Balance    int64     `json:"balance"`
	Currency   string    `json:"currency"`
	IsArchived bool      `json:"isArchived"`
	SortOrder  int       `json:"sortOrder"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Category represents a category row. System categories are seeded and
// immutable.
type Category struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"ownerId"`
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	Icon       *string   `json:"icon,omitempty"`
	IsSystem   bool      `json:"isSystem"`
	IsArchived bool      `json:"isArchived"`
	SortOrder  int       `json:"sortOrder"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Transaction represents a transaction row. A transfer carries its
// equal-and-opposite effect on ToAccountID.
type Transaction struct {
	ID            string     `json:"id"`
	OwnerID       string     `json:"ownerId"`
	AccountID     string     `json:"accountId"`
	ToAccountID   *string    `json:"toAccountId,omitempty"`
	CategoryID    *string    `json:"categoryId,omitempty"`
	Type          string     `json:"type"`
	Amount        int64      `json:"amount"`
	Date          time.Time  `json:"date"`
	Description   string     `json:"description"`
	IsRecurring   bool       `json:"isRecurring"`
	RecurringID   *string    `json:"recurringId,omitempty"`
	LoanID        *string    `json:"loanId,omitempty"`
	EMIScheduleID *string    `json:"emiScheduleId,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	Tags          []Tag      `json:"tags,omitempty"`
}

// Budget represents a budget row. Spent is derived on read, never stored.
type Budget struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"ownerId"`
	CategoryID *string    `json:"categoryId,omitempty"`
	Amount     int64      `json:"amount"`
	Period     string     `json:"period"`
	StartDate  time.Time  `json:"startDate"`
	EndDate    *time.Time `json:"endDate,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Goal represents a savings goal. CurrentAmount always equals the sum of
// its contribution rows.
type Goal struct {
	ID            string     `json:"id"`
	OwnerID       string     `json:"ownerId"`
	Name          string     `json:"name"`
	TargetAmount  int64      `json:"targetAmount"`
	CurrentAmount int64      `json:"currentAmount"`
	TargetDate    *time.Time `json:"targetDate,omitempty"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// GoalContribution is one posting against a goal. Amount may be negative
// (withdrawal).
type GoalContribution struct {
	ID        string    `json:"id"`
	GoalID    string    `json:"goalId"`
	Amount    int64     `json:"amount"`
	Note      *string   `json:"note,omitempty"`
	Date      time.Time `json:"date"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Loan represents a loan row with its running outstanding aggregates.
type Loan struct {
	ID                   string    `json:"id"`
	OwnerID              string    `json:"ownerId"`
	Name                 string    `json:"name"`
	Lender               string    `json:"lender"`
	PrincipalAmount      int64     `json:"principalAmount"`
	InterestRate         float64   `json:"interestRate"` // annual percent, not a monetary amount
	TenureMonths         int       `json:"tenureMonths"`
	EMIAmount            int64     `json:"emiAmount"`
	StartDate            time.Time `json:"startDate"`
	OutstandingPrincipal int64     `json:"outstandingPrincipal"`
	OutstandingInterest  int64     `json:"outstandingInterest"`
	RemainingTenure      int       `json:"remainingTenure"`
	Status               string    `json:"status"`
	AccountID            *string   `json:"accountId,omitempty"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// EMISchedule is one precomputed amortization row.
type EMISchedule struct {
	ID        string    `json:"id"`
	LoanID    string    `json:"loanId"`
	EMINumber int       `json:"emiNumber"`
	DueDate   time.Time `json:"dueDate"`
	Principal int64     `json:"principal"`
	Interest  int64     `json:"interest"`
	Total     int64     `json:"total"`
	Balance   int64     `json:"balance"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// EMIPayment is the payment event against a schedule row.
type EMIPayment struct {
	ID            string    `json:"id"`
	LoanID        string    `json:"loanId"`
	EMIScheduleID string    `json:"emiScheduleId"`
	Amount        int64     `json:"amount"`
	Principal     int64     `json:"principal"`
	Interest      int64     `json:"interest"`
	PaymentDate   time.Time `json:"paymentDate"`
	TransactionID *string   `json:"transactionId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Investment is a holding with cached aggregates maintained by the engine.
type Investment struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"ownerId"`
	Name           string    `json:"name"`
	Symbol         string    `json:"symbol"`
	Type           string    `json:"type"`
	Quantity       float64   `json:"quantity"`
	AvgBuyPrice    int64     `json:"avgBuyPrice"`
	InvestedAmount int64     `json:"investedAmount"`
	CurrentPrice   int64     `json:"currentPrice"`
	CurrentValue   int64     `json:"currentValue"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// InvestmentTransaction is one buy/sip/sell event.
type InvestmentTransaction struct {
	ID           string    `json:"id"`
	InvestmentID string    `json:"investmentId"`
	Type         string    `json:"type"`
	Quantity     float64   `json:"quantity"`
	Price        int64     `json:"price"`
	Amount       int64     `json:"amount"`
	Date         time.Time `json:"date"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// RecurringTransaction is a materialization rule. NextOccurrence only
// advances as a side effect of successful materialization.
type RecurringTransaction struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"ownerId"`
	AccountID       string     `json:"accountId"`
	ToAccountID     *string    `json:"toAccountId,omitempty"`
	CategoryID      *string    `json:"categoryId,omitempty"`
	Type            string     `json:"type"`
	Amount          int64      `json:"amount"`
	Description     string     `json:"description"`
	Frequency       string     `json:"frequency"`
	StartDate       time.Time  `json:"startDate"`
	NextOccurrence  time.Time  `json:"nextOccurrence"`
	EndDate         *time.Time `json:"endDate,omitempty"`
	LastCreatedDate *time.Time `json:"lastCreatedDate,omitempty"`
	TotalCreated    int        `json:"totalCreated"`
	IsActive        bool       `json:"isActive"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Tag represents a tag row.
type Tag struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Settings is the per-owner settings row; Data is an opaque JSON blob.
type Settings struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Currency  string    `json:"currency"`
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Notification is a row surfaced to the UI; delivery is out of scope here.
type Notification struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Insight is a precomputed analytics blob.
type Insight struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Kind      string    `json:"kind"`
	Period    string    `json:"period"`
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SyncChange is one row of the append-only local change log.
type SyncChange struct {
	Seq             int64      `json:"-"`
	ID              string     `json:"id"`
	EntityType      string     `json:"entityType"`
	EntityID        string     `json:"entityId"`
	Operation       string     `json:"operation"`
	Data            string     `json:"-"`
	ClientTimestamp time.Time  `json:"clientTimestamp"`
	ServerTimestamp *time.Time `json:"serverTimestamp,omitempty"`
	Pushed          bool       `json:"-"`
}

// SyncConflict records a divergence detected during push. It persists until
// explicitly resolved.
type SyncConflict struct {
	ID           string     `json:"id"`
	EntityType   string     `json:"entityType"`
	EntityID     string     `json:"entityId"`
	LocalChange  string     `json:"-"`
	ServerChange string     `json:"-"`
	Resolution   *string    `json:"resolution,omitempty"`
	Resolved     bool       `json:"resolved"`
	CreatedAt    time.Time  `json:"createdAt"`
	ResolvedAt   *time.Time `json:"resolvedAt,omitempty"`
}

// scanner handles nullable fields for both Row and Rows.
type scanner interface {
	Scan(dest ...any) error
}

func strPtr(ns sql.NullString) *string {
	if ns.Valid {
		return &ns.String
	}
	return nil
}

func timePtr(nt sql.NullTime) *time.Time {
	if nt.Valid {
		return &nt.Time
	}
	return nil
}
