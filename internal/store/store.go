// Package store provides session persistence behind a single interface.
// The in-memory implementation is the default for a single-instance bot;
// the DynamoDB and Redis implementations back multi-instance deployments
// without changing any orchestrator code.
//
// Expiry is owned by the store: each implementation evicts sessions idle
// longer than its configured TTL (a background sweeper for the in-memory
// store, native TTLs for DynamoDB and Redis). Reads of an expired
// session behave exactly like reads of an unknown one.
package store

import (
	"context"
	"time"

	"github.com/crowdmagic/platebot/internal/session"
)

// DefaultTTL is the inactivity window after which a session is evicted.
const DefaultTTL = 30 * time.Minute

// Store is the session persistence interface. Each method is safe for
// concurrent use and atomic per session id.
//
// Get returns (nil, nil) when the session does not exist or has expired;
// callers translate that into session.ErrSessionNotFound.
type Store interface {
	// Create persists a new session. Fails if the id already exists.
	Create(ctx context.Context, s *session.Session) error

	// Get retrieves a session by id. Returns nil, nil if absent or expired.
	Get(ctx context.Context, id string) (*session.Session, error)

	// Update replaces an existing session record and refreshes its
	// expiry window.
	Update(ctx context.Context, s *session.Session) error

	// Delete removes a session. Deleting an absent session is a no-op.
	Delete(ctx context.Context, id string) error

	// FindCollecting returns the user's session currently in the
	// CollectingReferences state, or nil, nil if there is none. Used to
	// enforce the one-collecting-session-per-user rule.
	FindCollecting(ctx context.Context, userID string) (*session.Session, error)
}
