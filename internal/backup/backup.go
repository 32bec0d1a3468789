// Package backup serializes an owner's complete dataset to a single JSON
// document and restores it. The document carries source rows only; the sync
// change log and checkpoint are deliberately excluded, so a restored store
// starts with a clean slate toward the server.
package backup

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/finledger/finledger/internal/apperr"
	"github.com/finledger/finledger/internal/database"
	"github.com/finledger/finledger/internal/database/repository"
)

// Version is the current backup document version.
const Version = 1

// TagLink joins a transaction to a tag.
type TagLink struct {
	TransactionID string `json:"transactionId"`
	TagID         string `json:"tagId"`
}

// Data holds every exported table.
type Data struct {
	Accounts               []repository.Account               `json:"accounts"`
	Categories             []repository.Category              `json:"categories"`
	Tags                   []repository.Tag                   `json:"tags"`
	Transactions           []repository.Transaction           `json:"transactions"`
	TagLinks               []TagLink                          `json:"transactionTags"`
	Budgets                []repository.Budget                `json:"budgets"`
	Goals                  []repository.Goal                  `json:"goals"`
	GoalContributions      []repository.GoalContribution      `json:"goalContributions"`
	Loans                  []repository.Loan                  `json:"loans"`
	EMISchedules           []repository.EMISchedule           `json:"emiSchedules"`
	EMIPayments            []repository.EMIPayment            `json:"emiPayments"`
	Investments            []repository.Investment            `json:"investments"`
	InvestmentTransactions []repository.InvestmentTransaction `json:"investmentTransactions"`
	Recurring              []repository.RecurringTransaction  `json:"recurringTransactions"`
	Settings               []repository.Settings              `json:"settings"`
	Notifications          []repository.Notification          `json:"notifications"`
	Insights               []repository.Insight               `json:"insights"`
}

// Document is the backup file layout.
type Document struct {
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exportedAt"`
	OwnerID    string    `json:"ownerId"`
	Data       Data      `json:"data"`
}

// Export writes the owner's dataset as JSON to w.
func Export(ctx context.Context, db *sql.DB, ownerID string, w io.Writer) error {
	doc := Document{
		Version:    Version,
		ExportedAt: database.Now(),
		OwnerID:    ownerID,
	}

	accounts := repository.NewAccountRepo(db)
	categories := repository.NewCategoryRepo(db)
	tags := repository.NewTagRepo(db)
	txns := repository.NewTransactionRepo(db)
	budgets := repository.NewBudgetRepo(db)
	goals := repository.NewGoalRepo(db)
	loans := repository.NewLoanRepo(db)
	investments := repository.NewInvestmentRepo(db)
	recurring := repository.NewRecurringRepo(db)
	settings := repository.NewSettingsRepo(db)
	notifications := repository.NewNotificationRepo(db)
	insights := repository.NewInsightRepo(db)

	var err error
	if doc.Data.Accounts, err = accounts.List(ctx, ownerID); err != nil {
		return fmt.Errorf("export accounts: %w", err)
	}
	if doc.Data.Categories, err = categories.List(ctx, ownerID); err != nil {
		return fmt.Errorf("export categories: %w", err)
	}
	if doc.Data.Tags, err = tags.List(ctx, ownerID); err != nil {
		return fmt.Errorf("export tags: %w", err)
	}
	if doc.Data.Transactions, err = txns.List(ctx, ownerID, repository.TransactionFilters{}); err != nil {
		return fmt.Errorf("export transactions: %w", err)
	}
	for _, t := range doc.Data.Transactions {
		linked, err := txns.FetchTags(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("export transaction tags: %w", err)
		}
		for _, tag := range linked {
			doc.Data.TagLinks = append(doc.Data.TagLinks, TagLink{TransactionID: t.ID, TagID: tag.ID})
		}
	}
	if doc.Data.Budgets, err = budgets.List(ctx, ownerID); err != nil {
		return fmt.Errorf("export budgets: %w", err)
	}
	if doc.Data.Goals, err = goals.List(ctx, ownerID); err != nil {
		return fmt.Errorf("export goals: %w", err)
	}
	for _, g := range doc.Data.Goals {
		rows, err := goals.ListContributions(ctx, g.ID)
		if err != nil {
			return fmt.Errorf("export goal contributions: %w", err)
		}
		doc.Data.GoalContributions = append(doc.Data.GoalContributions, rows...)
	}
	if doc.Data.Loans, err = loans.List(ctx, ownerID); err != nil {
		return fmt.Errorf("export loans: %w", err)
	}
	for _, l := range doc.Data.Loans {
		schedules, err := loans.ListSchedules(ctx, l.ID)
		if err != nil {
			return fmt.Errorf("export emi schedules: %w", err)
		}
		doc.Data.EMISchedules = append(doc.Data.EMISchedules, schedules...)
		payments, err := loans.ListPayments(ctx, l.ID)
		if err != nil {
			return fmt.Errorf("export emi payments: %w", err)
		}
		doc.Data.EMIPayments = append(doc.Data.EMIPayments, payments...)
	}
	if doc.Data.Investments, err = investments.List(ctx, ownerID); err != nil {
		return fmt.Errorf("export investments: %w", err)
	}
	for _, inv := range doc.Data.Investments {
		rows, err := investments.ListTransactions(ctx, inv.ID)
		if err != nil {
			return fmt.Errorf("export investment transactions: %w", err)
		}
		doc.Data.InvestmentTransactions = append(doc.Data.InvestmentTransactions, rows...)
	}
	if doc.Data.Recurring, err = recurring.List(ctx, ownerID); err != nil {
		return fmt.Errorf("export recurring transactions: %w", err)
	}
	all, err := settings.List(ctx)
	if err != nil {
		return fmt.Errorf("export settings: %w", err)
	}
	for _, s := range all {
		if s.OwnerID == ownerID {
			doc.Data.Settings = append(doc.Data.Settings, s)
		}
	}
	if doc.Data.Notifications, err = notifications.List(ctx, ownerID); err != nil {
		return fmt.Errorf("export notifications: %w", err)
	}
	if doc.Data.Insights, err = insights.List(ctx, ownerID); err != nil {
		return fmt.Errorf("export insights: %w", err)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// Import restores a backup document into the store. Rows are upserted by id
// inside one transaction, so re-importing the same document is a no-op and a
// failed import leaves the store untouched. Imported rows are not appended to
// the change log; a restored store re-converges with the server through a
// full sync, not by replaying its own restore.
func Import(ctx context.Context, db *sql.DB, r io.Reader) (*Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, apperr.NewValidationError("invalid backup document: %v", err)
	}
	if doc.Version != Version {
		return nil, apperr.NewValidationError("unsupported backup version %d", doc.Version)
	}

	err := database.WithTx(db, func(tx *sql.Tx) error {
		accounts := repository.NewAccountRepo(tx)
		categories := repository.NewCategoryRepo(tx)
		tags := repository.NewTagRepo(tx)
		txns := repository.NewTransactionRepo(tx)
		budgets := repository.NewBudgetRepo(tx)
		goals := repository.NewGoalRepo(tx)
		loans := repository.NewLoanRepo(tx)
		investments := repository.NewInvestmentRepo(tx)
		recurring := repository.NewRecurringRepo(tx)
		settings := repository.NewSettingsRepo(tx)
		notifications := repository.NewNotificationRepo(tx)
		insights := repository.NewInsightRepo(tx)

		// Parents before children, matching the schema's foreign keys.
		for _, row := range doc.Data.Accounts {
			if err := accounts.Upsert(ctx, row); err != nil {
				return fmt.Errorf("import account %s: %w", row.ID, err)
			}
		}
		for _, row := range doc.Data.Categories {
			if err := categories.Upsert(ctx, row); err != nil {
				return fmt.Errorf("import category %s: %w", row.ID, err)
			}
		}
		for _, row := range doc.Data.Tags {
			if err := tags.Upsert(ctx, row); err != nil {
				return fmt.Errorf("import tag %s: %w", row.ID, err)
			}
		}
		for _, row := range doc.Data.Recurring {
			if err := recurring.Upsert(ctx, row); err != nil {
				return fmt.Errorf("import recurring %s: %w", row.ID, err)
			}
		}
		for _, row := range doc.Data.Loans {
			if err := loans.Upsert(ctx, row); err != nil {
				return fmt.Errorf("import loan %s: %w", row.ID, err)
			}
		}
		for _, row := range doc.Data.EMISchedules {
			if err := loans.UpsertSchedule(ctx, row); err != nil {
				return fmt.Errorf("import emi schedule %s: %w", row.ID, err)
			}
		}
		for _, row := range doc.Data.Transactions {
			if err := txns.Upsert(ctx, row); err != nil {
				return fmt.Errorf("import transaction %s: %w", row.ID, err)
			}
		}
		for _, link := range doc.Data.TagLinks {
			if err := txns.AttachTag(ctx, link.TransactionID, link.TagID); err != nil {
				return fmt.Errorf("import tag link %s/%s: %w", link.TransactionID, link.TagID, err)
			}
		}
		for _, row := range doc.Data.EMIPayments {
			if err := loans.UpsertPayment(ctx, row); err != nil {
				return fmt.Errorf("import emi payment %s: %w", row.ID, err)
			}
		}
		for _, row := range doc.Data.Budgets {
			if err := budgets.Upsert(ctx, row); err != nil {
				return fmt.Errorf("import budget %s: %w", row.ID, err)
			}
		}
		for _, row := range doc.Data.Goals {
			if err := goals.Upsert(ctx, row); err != nil {
				return fmt.Errorf("import goal %s: %w", row.ID, err)
			}
		}
		for _, row := range doc.Data.GoalContributions {
			if err := goals.UpsertContribution(ctx, row); err != nil {
				return fmt.Errorf("import goal contribution %s: %w", row.ID, err)
			}
		}
		for _, row := range doc.Data.Investments {
			if err := investments.Upsert(ctx, row); err != nil {
				return fmt.Errorf("import investment %s: %w", row.ID, err)
			}
		}
		for _, row := range doc.Data.InvestmentTransactions {
			if err := investments.UpsertTransaction(ctx, row); err != nil {
				return fmt.Errorf("import investment transaction %s: %w", row.ID, err)
			}
		}
		for _, row := range doc.Data.Settings {
			if err := settings.Upsert(ctx, row); err != nil {
				return fmt.Errorf("import settings %s: %w", row.ID, err)
			}
		}
		for _, row := range doc.Data.Notifications {
			if err := notifications.Upsert(ctx, row); err != nil {
				return fmt.Errorf("import notification %s: %w", row.ID, err)
			}
		}
		for _, row := range doc.Data.Insights {
			if err := insights.Upsert(ctx, row); err != nil {
				return fmt.Errorf("import insight %s: %w", row.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}
