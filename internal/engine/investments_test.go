package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/finledger/finledger/internal/apperr"
	"github.com/finledger/finledger/internal/database"
)

func TestInvestmentAverageCost(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)

	inv, err := e.CreateInvestment(ctx, testOwner, InvestmentInput{
		Name: "Index Fund", Symbol: "IDX", Type: "mutual_fund", CurrentPrice: 500,
	})
	require.NoError(t, err)

	_, err = e.AddInvestmentTransaction(ctx, testOwner, InvestmentTxInput{
		InvestmentID: inv.ID, Type: "buy", Quantity: 10, Price: 500, Date: database.Now(),
	})
	require.NoError(t, err)
	_, err = e.AddInvestmentTransaction(ctx, testOwner, InvestmentTxInput{
		InvestmentID: inv.ID, Type: "buy", Quantity: 10, Price: 700, Date: database.Now(),
	})
	require.NoError(t, err)

	got, err := e.GetInvestment(ctx, testOwner, inv.ID)
	require.NoError(t, err)
	require.InDelta(t, 20, got.Quantity, 1e-9)
	require.Equal(t, int64(12000), got.InvestedAmount)
	require.Equal(t, int64(600), got.AvgBuyPrice)
	require.Equal(t, int64(700), got.CurrentPrice)
	require.Equal(t, int64(14000), got.CurrentValue)
}

func TestInvestmentSellReducesAtAverageCost(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)

	inv, err := e.CreateInvestment(ctx, testOwner, InvestmentInput{
		Name: "Stock", Symbol: "STK", Type: "stock", CurrentPrice: 500,
	})
	require.NoError(t, err)

	for _, price := range []int64{500, 700} {
		_, err = e.AddInvestmentTransaction(ctx, testOwner, InvestmentTxInput{
			InvestmentID: inv.ID, Type: "buy", Quantity: 10, Price: price, Date: database.Now(),
		})
		require.NoError(t, err)
	}

	// Selling 5 at 800 releases 5 units of invested capital at the 600
	// average, regardless of the sale price.
	_, err = e.AddInvestmentTransaction(ctx, testOwner, InvestmentTxInput{
		InvestmentID: inv.ID, Type: "sell", Quantity: 5, Price: 800, Date: database.Now(),
	})
	require.NoError(t, err)

	got, err := e.GetInvestment(ctx, testOwner, inv.ID)
	require.NoError(t, err)
	require.InDelta(t, 15, got.Quantity, 1e-9)
	require.Equal(t, int64(9000), got.InvestedAmount)
	require.Equal(t, int64(600), got.AvgBuyPrice)
	require.Equal(t, int64(800), got.CurrentPrice)
	require.Equal(t, int64(12000), got.CurrentValue)
}

func TestInvestmentSellGuard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)

	inv, err := e.CreateInvestment(ctx, testOwner, InvestmentInput{
		Name: "Thin", Symbol: "THN", Type: "stock", CurrentPrice: 100,
	})
	require.NoError(t, err)
	_, err = e.AddInvestmentTransaction(ctx, testOwner, InvestmentTxInput{
		InvestmentID: inv.ID, Type: "buy", Quantity: 3, Price: 100, Date: database.Now(),
	})
	require.NoError(t, err)

	_, err = e.AddInvestmentTransaction(ctx, testOwner, InvestmentTxInput{
		InvestmentID: inv.ID, Type: "sell", Quantity: 5, Price: 100, Date: database.Now(),
	})
	require.True(t, apperr.IsValidationError(err))

	// The rejected sell left the holding untouched.
	got, err := e.GetInvestment(ctx, testOwner, inv.ID)
	require.NoError(t, err)
	require.InDelta(t, 3, got.Quantity, 1e-9)
	require.Equal(t, int64(300), got.InvestedAmount)
}

func TestUpdateInvestmentPrice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)

	inv, err := e.CreateInvestment(ctx, testOwner, InvestmentInput{
		Name: "Fund", Symbol: "FND", Type: "mutual_fund", CurrentPrice: 100,
	})
	require.NoError(t, err)
	_, err = e.AddInvestmentTransaction(ctx, testOwner, InvestmentTxInput{
		InvestmentID: inv.ID, Type: "sip", Quantity: 4, Price: 100, Date: database.Now(),
	})
	require.NoError(t, err)

	got, err := e.UpdateInvestmentPrice(ctx, testOwner, inv.ID, 150)
	require.NoError(t, err)
	require.Equal(t, int64(150), got.CurrentPrice)
	require.Equal(t, int64(600), got.CurrentValue)
	// Invested amount never moves on a price refresh.
	require.Equal(t, int64(400), got.InvestedAmount)
}

func TestDeleteInvestmentGuarded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)

	inv, err := e.CreateInvestment(ctx, testOwner, InvestmentInput{
		Name: "Held", Symbol: "HLD", Type: "stock", CurrentPrice: 100,
	})
	require.NoError(t, err)
	_, err = e.AddInvestmentTransaction(ctx, testOwner, InvestmentTxInput{
		InvestmentID: inv.ID, Type: "buy", Quantity: 1, Price: 100, Date: database.Now(),
	})
	require.NoError(t, err)

	err = e.DeleteInvestment(ctx, testOwner, inv.ID)
	require.True(t, apperr.IsConflictError(err))
}
