package credits

import (
	"context"
	"errors"
	"fmt"

	"github.com/benefitpress/scribe/pkg/models"
)

// ErrInsufficientCredits is returned when no owner in the chain can cover
// the requested amount at the moment of the atomic decrement.
var ErrInsufficientCredits = errors.New("insufficient credits")

// Guard answers affordability questions over an ordered owner-fallback
// chain and performs the binding consumption.
type Guard struct {
	store BalanceStore
}

// NewGuard creates a Guard over the given balance store.
func NewGuard(store BalanceStore) *Guard {
	return &Guard{store: store}
}

// Decision is the outcome of a pre-flight affordability check.
type Decision struct {
	Sufficient bool
	// Owner is the first chain member whose balance covered the amount.
	// Nil when Sufficient is false.
	Owner *models.Owner
}

// CheckAvailable walks the chain in order and returns the first owner whose
// balance covers amount. It is advisory only: balances can change between
// this check and Consume, so callers must treat Consume as the binding
// guarantee.
func (g *Guard) CheckAvailable(ctx context.Context, chain []models.Owner, kind models.CreditKind, amount int64) (Decision, error) {
	if !kind.Valid() {
		return Decision{}, fmt.Errorf("invalid credit kind %q", kind)
	}
	for _, owner := range chain {
		balance, err := g.store.Get(ctx, owner, kind)
		if err != nil {
			return Decision{}, fmt.Errorf("check %s: %w", owner, err)
		}
		if balance >= amount {
			o := owner
			return Decision{Sufficient: true, Owner: &o}, nil
		}
	}
	return Decision{Sufficient: false}, nil
}

// Consume atomically deducts amount from one owner. It fails with
// ErrInsufficientCredits, applying nothing, if the balance no longer covers
// the amount, even if an earlier CheckAvailable passed.
func (g *Guard) Consume(ctx context.Context, owner models.Owner, kind models.CreditKind, amount int64) (int64, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("invalid credit kind %q", kind)
	}
	balance, ok, err := g.store.ConditionalDecrement(ctx, owner, kind, amount)
	if err != nil {
		return 0, fmt.Errorf("consume %d %s from %s: %w", amount, kind, owner, err)
	}
	if !ok {
		return 0, fmt.Errorf("consume %d %s from %s: %w", amount, kind, owner, ErrInsufficientCredits)
	}
	return balance, nil
}

// ConsumeFirst walks the chain and deducts from the first owner whose
// atomic decrement succeeds. Each attempt is all-or-nothing, so a race that
// drains one balance mid-chain simply falls through to the next owner.
func (g *Guard) ConsumeFirst(ctx context.Context, chain []models.Owner, kind models.CreditKind, amount int64) (models.Owner, int64, error) {
	if !kind.Valid() {
		return models.Owner{}, 0, fmt.Errorf("invalid credit kind %q", kind)
	}
	for _, owner := range chain {
		balance, ok, err := g.store.ConditionalDecrement(ctx, owner, kind, amount)
		if err != nil {
			return models.Owner{}, 0, fmt.Errorf("consume %d %s from %s: %w", amount, kind, owner, err)
		}
		if ok {
			return owner, balance, nil
		}
	}
	return models.Owner{}, 0, fmt.Errorf("consume %d %s: %w", amount, kind, ErrInsufficientCredits)
}
