// Package draft turns loosely structured transaction candidates, such as
// rows parsed from a bank statement, into real transactions. A draft carries
// a free-text category hint which is matched against the owner's categories
// by fuzzy name comparison; an unmatched hint leaves the transaction
// uncategorized rather than guessing.
package draft

import (
	"context"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/finledger/finledger/internal/apperr"
	"github.com/finledger/finledger/internal/database/repository"
	"github.com/finledger/finledger/internal/engine"
)

// Draft is a transaction candidate awaiting promotion.
type Draft struct {
	Amount       int64
	Type         string
	Date         time.Time
	Merchant     string
	Description  string
	CategoryHint string
	Confidence   float64
}

// MinConfidence is the lowest draft confidence promoted without review.
const MinConfidence = 0.5

// MatchCategory finds the category whose name best matches the hint.
// Matching is case-insensitive: an exact or substring match wins outright,
// otherwise the smallest edit distance within a length-relative threshold.
// Returns nil when nothing is close enough.
func MatchCategory(hint string, categories []repository.Category) *repository.Category {
	needle := strings.ToLower(strings.TrimSpace(hint))
	if needle == "" {
		return nil
	}

	var best *repository.Category
	bestDist := -1
	for i := range categories {
		name := strings.ToLower(categories[i].Name)
		if name == needle {
			return &categories[i]
		}
		if strings.Contains(name, needle) || strings.Contains(needle, name) {
			return &categories[i]
		}
		dist := levenshtein.ComputeDistance(needle, name)
		if dist <= editThreshold(needle) && (bestDist < 0 || dist < bestDist) {
			best = &categories[i]
			bestDist = dist
		}
	}
	return best
}

// editThreshold scales the tolerated edit distance with hint length, so
// "Grocieres" still matches "Groceries" while short hints stay strict.
func editThreshold(s string) int {
	t := len(s) / 4
	if t < 2 {
		t = 2
	}
	return t
}

// Promote validates a draft and creates the transaction through the mutation
// engine, resolving the category hint against the owner's categories.
func Promote(ctx context.Context, eng *engine.Engine, ownerID, accountID string, d Draft) (*repository.Transaction, error) {
	if d.Confidence < MinConfidence {
		return nil, apperr.NewValidationError("draft confidence %.2f below minimum %.2f", d.Confidence, MinConfidence)
	}

	in := engine.TransactionInput{
		AccountID:   accountID,
		Type:        d.Type,
		Amount:      d.Amount,
		Date:        d.Date,
		Description: d.Description,
	}
	if in.Description == "" {
		in.Description = d.Merchant
	}

	if d.CategoryHint != "" {
		categories, err := eng.ListCategories(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		if match := MatchCategory(d.CategoryHint, categories); match != nil {
			in.CategoryID = &match.ID
		}
	}

	return eng.CreateTransaction(ctx, ownerID, in)
}
