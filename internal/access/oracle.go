package access

import (
	"context"
	"sort"
	"time"
)

// OrderOracle decides which subscription order currently applies to an
// institution or an individual account.
//
// Candidate selection is deterministic: among currently valid orders the
// soonest-expiring one wins (created-at, then id, break remaining ties).
// When no order is currently valid the most-recently-ended one is returned
// so callers can report an expired subscription.
type OrderOracle struct {
	orders OrderStore
}

func NewOrderOracle(orders OrderStore) *OrderOracle {
	return &OrderOracle{orders: orders}
}

// ActiveForAccount returns the account's currently valid individual order,
// or nil when there is none.
func (o *OrderOracle) ActiveForAccount(ctx context.Context, accountID string, now time.Time) (*Order, error) {
	list, err := o.orders.ForAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	current := filterOrders(list, func(ord Order) bool { return ord.Covers(now) })
	if len(current) == 0 {
		return nil, nil
	}
	sortSoonestExpiring(current)
	return &current[0], nil
}

// ApplicableForInstitution returns the order governing institutional access
// for the given viewer: the currently valid one when it exists, otherwise
// the most recently ended one. Returns nil when the institution has no
// started, non-deleted order admitting the viewer.
func (o *OrderOracle) ApplicableForInstitution(ctx context.Context, institutionID string, viewer ViewerAttrs, now time.Time) (*Order, error) {
	list, err := o.orders.ForInstitution(ctx, institutionID)
	if err != nil {
		return nil, err
	}
	started := filterOrders(list, func(ord Order) bool {
		return !ord.StartsAt.After(now) && ord.AllowsViewer(viewer)
	})
	if len(started) == 0 {
		return nil, nil
	}
	current := filterOrders(started, func(ord Order) bool { return now.Before(ord.EndsAt) })
	if len(current) > 0 {
		sortSoonestExpiring(current)
		return &current[0], nil
	}
	sort.Slice(started, func(i, j int) bool {
		if !started[i].EndsAt.Equal(started[j].EndsAt) {
			return started[i].EndsAt.After(started[j].EndsAt)
		}
		return started[i].ID < started[j].ID
	})
	return &started[0], nil
}

func filterOrders(list []Order, keep func(Order) bool) []Order {
	var out []Order
	for _, ord := range list {
		if ord.Deleted {
			continue
		}
		if keep(ord) {
			out = append(out, ord)
		}
	}
	return out
}

func sortSoonestExpiring(list []Order) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].EndsAt.Equal(list[j].EndsAt) {
			return list[i].EndsAt.Before(list[j].EndsAt)
		}
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}
