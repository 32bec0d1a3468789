// Package engine is the mutation engine: the only code path allowed to
// write transactions, EMI payments, goal contributions, investment
// transactions and the derived aggregates they drive. Every operation runs
// as one atomic multi-table transaction and appends one change-log row per
// committed mutation, so the sync engine can observe local history without
// hooks into the write path.
package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/finledger/finledger/internal/database"
	"github.com/finledger/finledger/internal/database/repository"
)

// Entity type names used in the change log and on the sync wire.
const (
	EntityAccount               = "account"
	EntityCategory              = "category"
	EntityTransaction           = "transaction"
	EntityBudget                = "budget"
	EntityGoal                  = "goal"
	EntityGoalContribution      = "goal_contribution"
	EntityLoan                  = "loan"
	EntityEMISchedule           = "emi_schedule"
	EntityEMIPayment            = "emi_payment"
	EntityInvestment            = "investment"
	EntityInvestmentTransaction = "investment_transaction"
	EntityRecurringTransaction  = "recurring_transaction"
	EntityTag                   = "tag"
	EntitySettings              = "settings"
)

// Change-log operations.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Engine executes all financial mutations against the entity store.
type Engine struct {
	DB  *sql.DB
	Log zerolog.Logger
}

func New(db *sql.DB, log zerolog.Logger) *Engine {
	return &Engine{DB: db, Log: log}
}

// repos is the transaction-bound repo set every operation works through.
// Binding all repos to one *sql.Tx is what makes multi-table writes atomic.
type repos struct {
	accounts    *repository.AccountRepo
	categories  *repository.CategoryRepo
	txns        *repository.TransactionRepo
	budgets     *repository.BudgetRepo
	goals       *repository.GoalRepo
	loans       *repository.LoanRepo
	investments *repository.InvestmentRepo
	recurring   *repository.RecurringRepo
	tags        *repository.TagRepo
	settings    *repository.SettingsRepo
	sync        *repository.SyncRepo

	now time.Time
}

func bindRepos(q repository.DBTX) *repos {
	return &repos{
		accounts:    repository.NewAccountRepo(q),
		categories:  repository.NewCategoryRepo(q),
		txns:        repository.NewTransactionRepo(q),
		budgets:     repository.NewBudgetRepo(q),
		goals:       repository.NewGoalRepo(q),
		loans:       repository.NewLoanRepo(q),
		investments: repository.NewInvestmentRepo(q),
		recurring:   repository.NewRecurringRepo(q),
		tags:        repository.NewTagRepo(q),
		settings:    repository.NewSettingsRepo(q),
		sync:        repository.NewSyncRepo(q),
		now:         database.Now(),
	}
}

// withTx runs fn against a transaction-bound repo set. Each logical engine
// operation makes exactly one withTx call.
func (e *Engine) withTx(fn func(r *repos) error) error {
	return database.WithTx(e.DB, func(tx *sql.Tx) error {
		return fn(bindRepos(tx))
	})
}

// read binds repos to the plain connection for query-only operations.
func (e *Engine) read() *repos {
	return bindRepos(e.DB)
}

// recordChange appends one change-log row for a committed local mutation.
// It runs inside the mutation's transaction: a rollback discards the log
// entry along with the writes it described.
func (r *repos) recordChange(ctx context.Context, entityType, entityID, op string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return r.sync.AppendChange(ctx, repository.SyncChange{
		ID:              uuid.NewString(),
		EntityType:      entityType,
		EntityID:        entityID,
		Operation:       op,
		Data:            string(data),
		ClientTimestamp: r.now,
	})
}
