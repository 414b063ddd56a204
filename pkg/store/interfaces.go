package store

import (
	"context"
	"time"

	"github.com/memovia/callkeeper/pkg/model"
)

// Interface is implemented by the session store backends. A session's
// authoritative state is the most recent Save; concurrent writers are not
// coordinated here (callers serialize through the protocol handler).
type Interface interface {
	// Create generates a fresh session key, initializes the record in
	// callflow.StateInitializing and persists it with the full TTL.
	Create(ctx context.Context, contactName, subjectID, callerID, deviceKind, deviceID string) (*model.Session, error)

	// Get is a read-only lookup; it does not renew the TTL.
	Get(ctx context.Context, sessionKey string) (*model.Session, error)

	// Save overwrites the stored record and resets its TTL to the full
	// duration. Every mutation must be followed by a Save.
	Save(ctx context.Context, sess *model.Session) error

	// ExtendTTL renews the TTL of the session and its connection mapping.
	// Returns false if the session no longer exists.
	ExtendTTL(ctx context.Context, sessionKey string) (bool, error)

	// MapConnection records the connection->session association with the
	// same TTL discipline as the session and sets the session's
	// ConnectionID. A prior mapping for the session is discarded.
	MapConnection(ctx context.Context, connectionID, sessionKey string) error

	// ConnectionToSession resolves a connection id to its session key.
	ConnectionToSession(ctx context.Context, connectionID string) (string, error)

	// UnmapConnection removes the index entry and clears the session's
	// ConnectionID if it still points at connectionID. The session itself
	// is retained.
	UnmapConnection(ctx context.Context, connectionID string) error

	// Delete removes the session and any associated connection mapping.
	Delete(ctx context.Context, sessionKey string) error

	// ListActive returns all non-expired sessions.
	ListActive(ctx context.Context) ([]model.Session, error)

	// SweepExpired deletes sessions that outlived the TTL window together
	// with their connection mappings and returns the number removed.
	SweepExpired(ctx context.Context) (int, error)

	// TTL is the configured session lifetime.
	TTL() time.Duration
}
