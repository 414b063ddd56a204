package redis

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/memovia/callkeeper/pkg/model"
	"github.com/memovia/callkeeper/pkg/store"
)

const (
	sessionKeyPrefix    = "callkeeper:session:"
	connectionKeyPrefix = "callkeeper:connection:"
)

// Store is the redis-backed session store used in production. Sessions are
// stored as JSON values with a native TTL; the connection index lives under
// its own key prefix with the same TTL discipline.
type Store struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewStore creates a redis-backed session store on top of an established
// client.
func NewStore(client *goredis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = store.DefaultTTL
	}
	return &Store{
		client: client,
		ttl:    ttl,
	}
}

func (s *Store) TTL() time.Duration {
	return s.ttl
}

func (s *Store) Create(ctx context.Context, contactName, subjectID, callerID, deviceKind, deviceID string) (*model.Session, error) {
	sess := store.NewSession(contactName, subjectID, callerID, deviceKind, deviceID)

	if err := s.write(ctx, sess); err != nil {
		return nil, err
	}

	return sess, nil
}

func (s *Store) Get(ctx context.Context, sessionKey string) (*model.Session, error) {
	data, err := s.client.Get(ctx, sessionKeyPrefix+sessionKey).Bytes()
	if err == goredis.Nil {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, err
	}

	sess := &model.Session{}
	if err := json.Unmarshal(data, sess); err != nil {
		return nil, err
	}

	return sess, nil
}

func (s *Store) Save(ctx context.Context, sess *model.Session) error {
	sess.Touch()
	return s.write(ctx, sess)
}

func (s *Store) ExtendTTL(ctx context.Context, sessionKey string) (bool, error) {
	sess, err := s.Get(ctx, sessionKey)
	if err == store.ErrNotFound {
		return false, nil
	} else if err != nil {
		return false, err
	}

	// The activity timestamp has to move as well, otherwise the defensive
	// sweep would treat a heartbeat-only session as abandoned.
	sess.Touch()
	if err := s.write(ctx, sess); err != nil {
		return false, err
	}

	if sess.ConnectionID != "" {
		if err := s.client.Expire(ctx, connectionKeyPrefix+sess.ConnectionID, s.ttl).Err(); err != nil {
			return false, err
		}
	}

	return true, nil
}

func (s *Store) MapConnection(ctx context.Context, connectionID, sessionKey string) error {
	sess, err := s.Get(ctx, sessionKey)
	if err != nil {
		return err
	}

	// Last writer wins: discard the prior connection's association.
	if prev := sess.ConnectionID; prev != "" && prev != connectionID {
		if err := s.client.Del(ctx, connectionKeyPrefix+prev).Err(); err != nil {
			return err
		}
	}

	sess.ConnectionID = connectionID
	if err := s.Save(ctx, sess); err != nil {
		return err
	}

	return s.client.Set(ctx, connectionKeyPrefix+connectionID, sessionKey, s.ttl).Err()
}

func (s *Store) ConnectionToSession(ctx context.Context, connectionID string) (string, error) {
	sessionKey, err := s.client.Get(ctx, connectionKeyPrefix+connectionID).Result()
	if err == goredis.Nil {
		return "", store.ErrNotFound
	} else if err != nil {
		return "", err
	}

	return sessionKey, nil
}

func (s *Store) UnmapConnection(ctx context.Context, connectionID string) error {
	sessionKey, err := s.ConnectionToSession(ctx, connectionID)
	if err == store.ErrNotFound {
		return nil
	} else if err != nil {
		return err
	}

	if err := s.client.Del(ctx, connectionKeyPrefix+connectionID).Err(); err != nil {
		return err
	}

	sess, err := s.Get(ctx, sessionKey)
	if err == store.ErrNotFound {
		return nil
	} else if err != nil {
		return err
	}

	// A superseding connection may already own the session; only clear the
	// field when it still points at this connection.
	if sess.ConnectionID == connectionID {
		sess.ConnectionID = ""
		if err := s.Save(ctx, sess); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) Delete(ctx context.Context, sessionKey string) error {
	sess, err := s.Get(ctx, sessionKey)
	if err != nil {
		return err
	}

	if sess.ConnectionID != "" {
		if err := s.client.Del(ctx, connectionKeyPrefix+sess.ConnectionID).Err(); err != nil {
			return err
		}
	}

	return s.client.Del(ctx, sessionKeyPrefix+sessionKey).Err()
}

func (s *Store) ListActive(ctx context.Context) ([]model.Session, error) {
	sessions := make([]model.Session, 0)

	iter := s.client.Scan(ctx, 0, sessionKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err == goredis.Nil {
			continue // expired between scan and get
		} else if err != nil {
			return nil, err
		}

		sess := model.Session{}
		if err := json.Unmarshal(data, &sess); err != nil {
			continue // skip corrupt records, the sweep removes them
		}
		sessions = append(sessions, sess)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

// SweepExpired is a defensive cleanup for records whose native TTL got lost
// (e.g. written without expiry) or whose activity timestamp outlived the
// window anyway.
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	count := 0

	iter := s.client.Scan(ctx, 0, sessionKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err == goredis.Nil {
			continue
		} else if err != nil {
			return count, err
		}

		sess := model.Session{}
		if err := json.Unmarshal(data, &sess); err != nil {
			if err := s.client.Del(ctx, iter.Val()).Err(); err == nil {
				count++
			}
			continue
		}

		if !sess.Expired(s.ttl) {
			continue
		}

		if err := s.Delete(ctx, sess.SessionKey); err == nil {
			count++
		}
	}
	if err := iter.Err(); err != nil {
		return count, err
	}

	return count, nil
}

func (s *Store) write(ctx context.Context, sess *model.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, sessionKeyPrefix+sess.SessionKey, data, s.ttl).Err()
}
