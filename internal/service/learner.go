package service

import (
	"context"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"

	"github.com/tobyv/ledgerline/internal/database/repository"
)

// suggestSimilarity is the minimum normalized similarity for a fuzzy
// payee-name match to count.
const suggestSimilarity = 0.85

// Learner records which category a payee usually gets and suggests one
// back for new transactions.
type Learner struct {
	DB repository.DBTX
}

// LearnFromTransactions records one rule per categorized transaction.
// Uncategorized rows, rows without a payee and transfer payees are
// skipped.
func (l *Learner) LearnFromTransactions(ctx context.Context, txs []repository.Transaction) error {
	rules := repository.NewCategoryRuleRepo(l.DB)
	payees := repository.NewPayeeRepo(l.DB)
	for _, t := range txs {
		if t.Payee == nil || t.Category == nil {
			continue
		}
		p, err := payees.Get(ctx, *t.Payee)
		if err != nil {
			return err
		}
		if p == nil || p.TransferAcct != nil || p.Name == "" {
			continue
		}
		if err := rules.Upsert(ctx, uuid.NewString(), normalizePayeeName(p.Name), *t.Category); err != nil {
			return err
		}
	}
	return nil
}

// Suggest returns the learned category for a payee name, or nil when
// nothing matches. An exact match wins; otherwise the closest rule by
// edit distance is used if it is similar enough.
func (l *Learner) Suggest(ctx context.Context, payeeName string) (*string, error) {
	rules := repository.NewCategoryRuleRepo(l.DB)
	norm := normalizePayeeName(payeeName)
	if norm == "" {
		return nil, nil
	}

	if cr, err := rules.FindExact(ctx, norm); err != nil {
		return nil, err
	} else if cr != nil {
		return &cr.Category, nil
	}

	all, err := rules.All(ctx)
	if err != nil {
		return nil, err
	}
	var best *repository.CategoryRule
	bestScore := 0.0
	for i := range all {
		score := similarity(norm, all[i].PayeeName)
		if score >= suggestSimilarity && score > bestScore {
			best = &all[i]
			bestScore = score
		}
	}
	if best == nil {
		return nil, nil
	}
	return &best.Category, nil
}

// normalizePayeeName collapses whitespace and case so "  trader joes"
// and "Trader Joes" learn the same rule.
func normalizePayeeName(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

// similarity is 1 - editDistance/maxLen, in [0, 1].
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len([]rune(a)), len([]rune(b))
	max := la
	if lb > max {
		max = lb
	}
	if max == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(max)
}
