package postgres

import (
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/memovia/callkeeper/pkg/store"
)

// Store is the PostgreSQL-backed session store. Postgres has no native key
// expiry, so the TTL window is enforced entirely by read filters and the
// periodic sweep.
type Store struct {
	db  *sqlx.DB
	ttl time.Duration
}

// NewStore creates a PostgreSQL-backed session store.
func NewStore(db *sqlx.DB, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = store.DefaultTTL
	}
	return &Store{
		db:  db,
		ttl: ttl,
	}
}

func (s *Store) TTL() time.Duration {
	return s.ttl
}
