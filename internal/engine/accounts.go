package engine

import (
	"context"
	"strings"

	money "github.com/Rhymond/go-money"
	"github.com/google/uuid"

	"github.com/finledger/finledger/internal/apperr"
	"github.com/finledger/finledger/internal/database/repository"
)

// AccountInput describes a new account.
type AccountInput struct {
	Name      string
	Type      string
	Currency  string
	SortOrder int
}

var accountTypes = map[string]bool{
	"bank": true, "cash": true, "credit_card": true,
	"wallet": true, "investment": true, "loan": true, "other": true,
}

// CreateAccount creates an account with zero balance. Its balance is only
// ever moved by transaction mutations from this point on.
func (e *Engine) CreateAccount(ctx context.Context, ownerID string, in AccountInput) (*repository.Account, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperr.NewValidationError("account name is required")
	}
	if !accountTypes[in.Type] {
		return nil, apperr.NewValidationError("unknown account type %q", in.Type)
	}
	code := strings.ToUpper(strings.TrimSpace(in.Currency))
	if code == "" {
		code = "USD"
	}
	if money.GetCurrency(code) == nil {
		return nil, apperr.NewValidationError("unknown currency code %q", code)
	}

	var acct repository.Account
	err := e.withTx(func(r *repos) error {
		acct = repository.Account{
			ID:        uuid.NewString(),
			OwnerID:   ownerID,
			Name:      strings.TrimSpace(in.Name),
			Type:      in.Type,
			Balance:   0,
			Currency:  code,
			SortOrder: in.SortOrder,
			CreatedAt: r.now,
			UpdatedAt: r.now,
		}
		if err := r.accounts.Insert(ctx, acct); err != nil {
			return err
		}
		return r.recordChange(ctx, EntityAccount, acct.ID, OpCreate, acct)
	})
	if err != nil {
		return nil, err
	}
	e.Log.Debug().Str("account", acct.ID).Str("owner", ownerID).Msg("account created")
	return &acct, nil
}

// ArchiveAccount soft-deletes an account that has history. Archived
// accounts refuse new transactions but keep their rows and balance.
func (e *Engine) ArchiveAccount(ctx context.Context, ownerID, id string) error {
	return e.withTx(func(r *repos) error {
		acct, err := r.accounts.Get(ctx, id)
		if err != nil {
			return err
		}
		if acct == nil || acct.OwnerID != ownerID {
			return apperr.NewNotFoundError("account", id)
		}
		if err := r.accounts.SetArchived(ctx, id, true, r.now); err != nil {
			return err
		}
		acct.IsArchived = true
		acct.UpdatedAt = r.now
		return r.recordChange(ctx, EntityAccount, id, OpUpdate, acct)
	})
}

// DeleteAccount removes an account with no transaction history. Accounts
// with history must be archived instead.
func (e *Engine) DeleteAccount(ctx context.Context, ownerID, id string) error {
	return e.withTx(func(r *repos) error {
		acct, err := r.accounts.Get(ctx, id)
		if err != nil {
			return err
		}
		if acct == nil || acct.OwnerID != ownerID {
			return apperr.NewNotFoundError("account", id)
		}
		n, err := r.accounts.TransactionCount(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperr.NewConflictError("account %q has %d transactions; archive it instead", id, n)
		}
		if err := r.accounts.Delete(ctx, id); err != nil {
			return err
		}
		return r.recordChange(ctx, EntityAccount, id, OpDelete, acct)
	})
}

// GetAccount returns the account or a NotFoundError.
func (e *Engine) GetAccount(ctx context.Context, ownerID, id string) (*repository.Account, error) {
	acct, err := e.read().accounts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if acct == nil || acct.OwnerID != ownerID {
		return nil, apperr.NewNotFoundError("account", id)
	}
	return acct, nil
}

// ListAccounts returns the owner's accounts.
func (e *Engine) ListAccounts(ctx context.Context, ownerID string) ([]repository.Account, error) {
	return e.read().accounts.List(ctx, ownerID)
}
