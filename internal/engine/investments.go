package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finledger/finledger/internal/apperr"
	"github.com/finledger/finledger/internal/database/repository"
)

// InvestmentInput describes a new holding.
type InvestmentInput struct {
	Name         string
	Symbol       string
	Type         string
	CurrentPrice int64
}

// InvestmentTxInput describes one buy/sip/sell event.
type InvestmentTxInput struct {
	InvestmentID string
	Type         string
	Quantity     float64
	Price        int64
	Date         time.Time
}

var investmentTxTypes = map[string]bool{"buy": true, "sip": true, "sell": true}

// CreateInvestment persists a flat holding.
func (e *Engine) CreateInvestment(ctx context.Context, ownerID string, in InvestmentInput) (*repository.Investment, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperr.NewValidationError("investment name is required")
	}
	if in.CurrentPrice < 0 {
		return nil, apperr.NewValidationError("price may not be negative")
	}
	invType := in.Type
	if invType == "" {
		invType = "stock"
	}

	var inv repository.Investment
	err := e.withTx(func(r *repos) error {
		inv = repository.Investment{
			ID:           uuid.NewString(),
			OwnerID:      ownerID,
			Name:         strings.TrimSpace(in.Name),
			Symbol:       strings.ToUpper(strings.TrimSpace(in.Symbol)),
			Type:         invType,
			CurrentPrice: in.CurrentPrice,
			CreatedAt:    r.now,
			UpdatedAt:    r.now,
		}
		if err := r.investments.Insert(ctx, inv); err != nil {
			return err
		}
		return r.recordChange(ctx, EntityInvestment, inv.ID, OpCreate, inv)
	})
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// AddInvestmentTransaction records a buy/sip/sell and recomputes the
// holding's aggregates from the transaction delta: average buy price is
// invested/quantity under the average-cost method, and current value tracks
// quantity × current price. A sell that would drive quantity negative is
// rejected before any write.
func (e *Engine) AddInvestmentTransaction(ctx context.Context, ownerID string, in InvestmentTxInput) (*repository.InvestmentTransaction, error) {
	if !investmentTxTypes[in.Type] {
		return nil, apperr.NewValidationError("unknown investment transaction type %q", in.Type)
	}
	if in.Quantity <= 0 {
		return nil, apperr.NewValidationError("quantity must be positive")
	}
	if in.Price < 0 {
		return nil, apperr.NewValidationError("price may not be negative")
	}

	var txn repository.InvestmentTransaction
	err := e.withTx(func(r *repos) error {
		inv, err := r.investments.Get(ctx, in.InvestmentID)
		if err != nil {
			return err
		}
		if inv == nil || inv.OwnerID != ownerID {
			return apperr.NewNotFoundError("investment", in.InvestmentID)
		}

		quantity := decimal.NewFromFloat(in.Quantity)
		price := decimal.NewFromInt(in.Price)
		amount := quantity.Mul(price).Round(0).IntPart()

		next, err := applyInvestmentDelta(*inv, in.Type, quantity, amount)
		if err != nil {
			return err
		}
		next.CurrentPrice = in.Price
		next.CurrentValue = decimal.NewFromFloat(next.Quantity).
			Mul(decimal.NewFromInt(next.CurrentPrice)).Round(0).IntPart()

		txn = repository.InvestmentTransaction{
			ID:           uuid.NewString(),
			InvestmentID: inv.ID,
			Type:         in.Type,
			Quantity:     in.Quantity,
			Price:        in.Price,
			Amount:       amount,
			Date:         in.Date,
			CreatedAt:    r.now,
			UpdatedAt:    r.now,
		}
		if err := r.investments.InsertTransaction(ctx, txn); err != nil {
			return err
		}
		if err := r.investments.SetAggregates(ctx, inv.ID, next.Quantity, next.AvgBuyPrice,
			next.InvestedAmount, next.CurrentPrice, next.CurrentValue, r.now); err != nil {
			return err
		}

		next.UpdatedAt = r.now
		if err := r.recordChange(ctx, EntityInvestmentTransaction, txn.ID, OpCreate, txn); err != nil {
			return err
		}
		return r.recordChange(ctx, EntityInvestment, inv.ID, OpUpdate, next)
	})
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// applyInvestmentDelta folds one transaction into the holding aggregates.
func applyInvestmentDelta(inv repository.Investment, txType string, quantity decimal.Decimal, amount int64) (repository.Investment, error) {
	held := decimal.NewFromFloat(inv.Quantity)
	switch txType {
	case "buy", "sip":
		newQty := held.Add(quantity)
		inv.Quantity, _ = newQty.Float64()
		inv.InvestedAmount += amount
	case "sell":
		if quantity.GreaterThan(held) {
			return repository.Investment{}, apperr.NewValidationError(
				"sell quantity %s exceeds held quantity %s", quantity.String(), held.String())
		}
		// reduce invested at average cost so the remaining position keeps
		// its average buy price
		avg := decimal.Zero
		if !held.IsZero() {
			avg = decimal.NewFromInt(inv.InvestedAmount).Div(held)
		}
		sold := avg.Mul(quantity).Round(0).IntPart()
		newQty := held.Sub(quantity)
		inv.Quantity, _ = newQty.Float64()
		inv.InvestedAmount -= sold
		if newQty.IsZero() {
			inv.InvestedAmount = 0
		}
	}

	if inv.Quantity == 0 {
		inv.AvgBuyPrice = 0
	} else {
		inv.AvgBuyPrice = decimal.NewFromInt(inv.InvestedAmount).
			Div(decimal.NewFromFloat(inv.Quantity)).Round(0).IntPart()
	}
	return inv, nil
}

// UpdateInvestmentPrice refreshes the market price and the derived current
// value.
func (e *Engine) UpdateInvestmentPrice(ctx context.Context, ownerID, id string, price int64) (*repository.Investment, error) {
	if price < 0 {
		return nil, apperr.NewValidationError("price may not be negative")
	}
	var updated repository.Investment
	err := e.withTx(func(r *repos) error {
		inv, err := r.investments.Get(ctx, id)
		if err != nil {
			return err
		}
		if inv == nil || inv.OwnerID != ownerID {
			return apperr.NewNotFoundError("investment", id)
		}
		value := decimal.NewFromFloat(inv.Quantity).Mul(decimal.NewFromInt(price)).Round(0).IntPart()
		if err := r.investments.SetAggregates(ctx, id, inv.Quantity, inv.AvgBuyPrice,
			inv.InvestedAmount, price, value, r.now); err != nil {
			return err
		}
		updated = *inv
		updated.CurrentPrice = price
		updated.CurrentValue = value
		updated.UpdatedAt = r.now
		return r.recordChange(ctx, EntityInvestment, id, OpUpdate, updated)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteInvestment refuses while transaction rows exist.
func (e *Engine) DeleteInvestment(ctx context.Context, ownerID, id string) error {
	return e.withTx(func(r *repos) error {
		inv, err := r.investments.Get(ctx, id)
		if err != nil {
			return err
		}
		if inv == nil || inv.OwnerID != ownerID {
			return apperr.NewNotFoundError("investment", id)
		}
		n, err := r.investments.TransactionCount(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperr.NewConflictError("investment %q has %d transactions", id, n)
		}
		if err := r.investments.Delete(ctx, id); err != nil {
			return err
		}
		return r.recordChange(ctx, EntityInvestment, id, OpDelete, inv)
	})
}

// GetInvestment returns the holding or a NotFoundError.
func (e *Engine) GetInvestment(ctx context.Context, ownerID, id string) (*repository.Investment, error) {
	inv, err := e.read().investments.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv == nil || inv.OwnerID != ownerID {
		return nil, apperr.NewNotFoundError("investment", id)
	}
	return inv, nil
}
