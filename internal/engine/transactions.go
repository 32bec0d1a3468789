package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/finledger/finledger/internal/apperr"
	"github.com/finledger/finledger/internal/database/repository"
)

// TransactionInput describes a new transaction.
type TransactionInput struct {
	AccountID     string
	ToAccountID   *string
	CategoryID    *string
	Type          string
	Amount        int64
	Date          time.Time
	Description   string
	IsRecurring   bool
	RecurringID   *string
	LoanID        *string
	EMIScheduleID *string
}

// TransactionPatch carries the fields of an update; nil means unchanged.
// Clear flags null out the corresponding optional field.
type TransactionPatch struct {
	AccountID      *string
	ToAccountID    *string
	ClearToAccount bool
	CategoryID     *string
	ClearCategory  bool
	Type           *string
	Amount         *int64
	Date           *time.Time
	Description    *string
}

// effect is one signed balance delta against one account.
type effect struct {
	accountID string
	delta     int64
}

// balanceEffects derives the account deltas a transaction owns: −amount on
// the source for expenses and transfer-sources, +amount for income, and the
// equal-and-opposite +amount on the destination for transfers.
func balanceEffects(t repository.Transaction) []effect {
	switch t.Type {
	case "income":
		return []effect{{t.AccountID, t.Amount}}
	case "expense":
		return []effect{{t.AccountID, -t.Amount}}
	case "transfer":
		return []effect{{t.AccountID, -t.Amount}, {*t.ToAccountID, t.Amount}}
	}
	return nil
}

func reversed(effects []effect) []effect {
	out := make([]effect, len(effects))
	for i, ef := range effects {
		out[i] = effect{ef.accountID, -ef.delta}
	}
	return out
}

// CreateTransaction validates the input, persists the transaction and
// applies its balance effects, all in one atomic unit. It fails before any
// write when a precondition does not hold.
func (e *Engine) CreateTransaction(ctx context.Context, ownerID string, in TransactionInput) (*repository.Transaction, error) {
	var txn repository.Transaction
	err := e.withTx(func(r *repos) error {
		var err error
		txn, err = createTransactionTx(ctx, r, ownerID, in, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// createTransactionTx is the shared in-transaction create path, also used
// by the recurring materializer and EMI payment recording.
func createTransactionTx(ctx context.Context, r *repos, ownerID string, in TransactionInput, logChange bool) (repository.Transaction, error) {
	txn := repository.Transaction{
		ID:            uuid.NewString(),
		OwnerID:       ownerID,
		AccountID:     in.AccountID,
		ToAccountID:   in.ToAccountID,
		CategoryID:    in.CategoryID,
		Type:          in.Type,
		Amount:        in.Amount,
		Date:          in.Date,
		Description:   in.Description,
		IsRecurring:   in.IsRecurring,
		RecurringID:   in.RecurringID,
		LoanID:        in.LoanID,
		EMIScheduleID: in.EMIScheduleID,
		CreatedAt:     r.now,
		UpdatedAt:     r.now,
	}
	if err := validateTransaction(ctx, r, txn); err != nil {
		return repository.Transaction{}, err
	}
	if err := r.txns.Insert(ctx, txn); err != nil {
		return repository.Transaction{}, err
	}
	for _, ef := range balanceEffects(txn) {
		if err := r.accounts.AdjustBalance(ctx, ef.accountID, ef.delta, r.now); err != nil {
			return repository.Transaction{}, err
		}
	}
	if logChange {
		if err := r.recordChange(ctx, EntityTransaction, txn.ID, OpCreate, txn); err != nil {
			return repository.Transaction{}, err
		}
	}
	return txn, nil
}

func validateTransaction(ctx context.Context, r *repos, t repository.Transaction) error {
	if t.Amount <= 0 {
		return apperr.NewValidationError("amount must be positive")
	}
	if !categoryTypes[t.Type] {
		return apperr.NewValidationError("unknown transaction type %q", t.Type)
	}
	if t.Type == "transfer" {
		if t.ToAccountID == nil {
			return apperr.NewValidationError("transfer requires a destination account")
		}
		if *t.ToAccountID == t.AccountID {
			return apperr.NewValidationError("transfer source and destination must differ")
		}
	} else if t.ToAccountID != nil {
		return apperr.NewValidationError("destination account is only valid for transfers")
	}

	acct, err := r.accounts.Get(ctx, t.AccountID)
	if err != nil {
		return err
	}
	if acct == nil || acct.OwnerID != t.OwnerID {
		return apperr.NewNotFoundError("account", t.AccountID)
	}
	if acct.IsArchived {
		return apperr.NewValidationError("account %q is archived", t.AccountID)
	}
	if t.ToAccountID != nil {
		dest, err := r.accounts.Get(ctx, *t.ToAccountID)
		if err != nil {
			return err
		}
		if dest == nil || dest.OwnerID != t.OwnerID {
			return apperr.NewNotFoundError("account", *t.ToAccountID)
		}
		if dest.IsArchived {
			return apperr.NewValidationError("account %q is archived", *t.ToAccountID)
		}
	}
	if t.CategoryID != nil {
		cat, err := r.categories.Get(ctx, *t.CategoryID)
		if err != nil {
			return err
		}
		if cat == nil || cat.OwnerID != t.OwnerID {
			return apperr.NewNotFoundError("category", *t.CategoryID)
		}
	}
	return nil
}

// UpdateTransaction reverses the old transaction's balance effects and
// applies the merged transaction's forward effects in the same atomic unit,
// so no intermediate state is ever observable.
func (e *Engine) UpdateTransaction(ctx context.Context, ownerID, id string, patch TransactionPatch) (*repository.Transaction, error) {
	var merged repository.Transaction
	err := e.withTx(func(r *repos) error {
		old, err := r.txns.Get(ctx, id)
		if err != nil {
			return err
		}
		if old == nil || old.OwnerID != ownerID {
			return apperr.NewNotFoundError("transaction", id)
		}

		merged = mergePatch(*old, patch)
		merged.UpdatedAt = r.now
		if err := validateTransaction(ctx, r, merged); err != nil {
			return err
		}

		for _, ef := range reversed(balanceEffects(*old)) {
			if err := r.accounts.AdjustBalance(ctx, ef.accountID, ef.delta, r.now); err != nil {
				return err
			}
		}
		if err := r.txns.Update(ctx, merged); err != nil {
			return err
		}
		for _, ef := range balanceEffects(merged) {
			if err := r.accounts.AdjustBalance(ctx, ef.accountID, ef.delta, r.now); err != nil {
				return err
			}
		}
		return r.recordChange(ctx, EntityTransaction, id, OpUpdate, merged)
	})
	if err != nil {
		return nil, err
	}
	return &merged, nil
}

func mergePatch(old repository.Transaction, p TransactionPatch) repository.Transaction {
	t := old
	if p.AccountID != nil {
		t.AccountID = *p.AccountID
	}
	if p.ClearToAccount {
		t.ToAccountID = nil
	} else if p.ToAccountID != nil {
		t.ToAccountID = p.ToAccountID
	}
	if p.ClearCategory {
		t.CategoryID = nil
	} else if p.CategoryID != nil {
		t.CategoryID = p.CategoryID
	}
	if p.Type != nil {
		t.Type = *p.Type
	}
	if p.Amount != nil {
		t.Amount = *p.Amount
	}
	if p.Date != nil {
		t.Date = *p.Date
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	return t
}

// DeleteTransaction reverses the balance effects and removes the row.
func (e *Engine) DeleteTransaction(ctx context.Context, ownerID, id string) error {
	return e.withTx(func(r *repos) error {
		old, err := r.txns.Get(ctx, id)
		if err != nil {
			return err
		}
		if old == nil || old.OwnerID != ownerID {
			return apperr.NewNotFoundError("transaction", id)
		}
		return deleteTransactionTx(ctx, r, *old, true)
	})
}

func deleteTransactionTx(ctx context.Context, r *repos, old repository.Transaction, logChange bool) error {
	for _, ef := range reversed(balanceEffects(old)) {
		if err := r.accounts.AdjustBalance(ctx, ef.accountID, ef.delta, r.now); err != nil {
			return err
		}
	}
	if err := r.txns.Delete(ctx, old.ID); err != nil {
		return err
	}
	if logChange {
		return r.recordChange(ctx, EntityTransaction, old.ID, OpDelete, old)
	}
	return nil
}

// GetTransaction returns the transaction or a NotFoundError.
func (e *Engine) GetTransaction(ctx context.Context, ownerID, id string) (*repository.Transaction, error) {
	t, err := e.read().txns.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil || t.OwnerID != ownerID {
		return nil, apperr.NewNotFoundError("transaction", id)
	}
	return t, nil
}

// ListTransactions returns the owner's transactions matching the filters.
func (e *Engine) ListTransactions(ctx context.Context, ownerID string, f repository.TransactionFilters) ([]repository.Transaction, error) {
	return e.read().txns.List(ctx, ownerID, f)
}
