// Package store defines the read projection and event journal of the escrow
// engine. The in-process engine stays the source of truth; implementations
// include PostgreSQL (durable projection), Redis (read-through cache), and
// in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/model"
)

// ErrNotFound is returned when a projected record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the projection interface. PostgreSQL keeps it durable; Redis
// provides a read-through cache layer.
type Store interface {
	// --- Agreement projection ---

	// UpsertAgreement writes the latest view of an agreement.
	UpsertAgreement(ctx context.Context, a *model.Agreement) error

	// GetAgreement retrieves an agreement by id.
	GetAgreement(ctx context.Context, id uint64) (*model.Agreement, error)

	// ListAgreements returns all agreements ordered by id.
	ListAgreements(ctx context.Context) ([]model.Agreement, error)

	// --- Mandate projection ---

	// UpsertMandate writes the latest view of a mandate.
	UpsertMandate(ctx context.Context, m *model.Mandate) error

	// ListMandatesByAgreement returns an agreement's mandates ordered by id.
	ListMandatesByAgreement(ctx context.Context, agreementID uint64) ([]model.Mandate, error)

	// --- Immutable journal ---

	// InsertEvent appends an immutable notification record.
	InsertEvent(ctx context.Context, rec *model.EventRecord) error

	// ListEventsByAgreement returns an agreement's notifications in
	// emission order.
	ListEventsByAgreement(ctx context.Context, agreementID uint64) ([]model.EventRecord, error)
}
