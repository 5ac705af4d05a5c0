package core

import (
	"context"
	"fmt"

	"lexgraph/pkg/domain"
)

const ownershipIntegrityRuleName = "ownership_integrity"

// OwnershipIntegrityRule verifies that every entity touched by a unit of
// work sits exactly once in its owner's field at a contiguous ordinal.
func OwnershipIntegrityRule() domain.Rule {
	return ownershipIntegrityRule{}
}

type ownershipIntegrityRule struct{}

func (ownershipIntegrityRule) Name() string { return ownershipIntegrityRuleName }

func (ownershipIntegrityRule) Evaluate(_ context.Context, view domain.RuleView, deltas []domain.Delta) (domain.Result, error) {
	res := domain.Result{}
	for _, h := range touchedHandles(deltas) {
		if err := view.CheckIntegrity(h); err != nil {
			class, _ := view.ClassOf(h)
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     ownershipIntegrityRuleName,
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("entity %s: %v", h, err),
				Entity:   h,
				Class:    class,
			})
		}
	}
	return res, nil
}

// touchedHandles lists the entities named by deltas, first occurrence first.
func touchedHandles(deltas []domain.Delta) []domain.Handle {
	seen := make(map[domain.Handle]bool)
	var out []domain.Handle
	add := func(h domain.Handle) {
		if h.Valid() && !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}
	for _, d := range deltas {
		add(d.Entity)
		for _, h := range d.Inserted {
			add(h)
		}
		for _, h := range d.Deleted {
			add(h)
		}
	}
	return out
}
