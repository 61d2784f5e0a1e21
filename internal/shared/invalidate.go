package shared

import "context"

// OutstandingInvalidator drops cached per-farmer outstanding views.
// Obligation writers call it after a successful commit so readers do
// not serve a stale bucket for the full cache TTL.
type OutstandingInvalidator interface {
	InvalidateFarmer(ctx context.Context, companyID, farmerID int64)
}
