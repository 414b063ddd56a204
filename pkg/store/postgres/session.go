package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/memovia/callkeeper/pkg/callflow"
	"github.com/memovia/callkeeper/pkg/model"
	"github.com/memovia/callkeeper/pkg/store"
)

type sqlDataSession struct {
	SessionKey        string    `db:"session_key"`
	ContactName       string    `db:"contact_name"`
	SubjectID         string    `db:"subject_id"`
	CallerID          string    `db:"caller_id"`
	FlowState         string    `db:"flow_state"`
	ConnectionID      string    `db:"connection_id"`
	ReconnectCount    int       `db:"reconnect_count"`
	DeviceKind        string    `db:"device_kind"`
	DeviceID          string    `db:"device_id"`
	PrimaryDevice     bool      `db:"primary_device"`
	RecordedMediaPath string    `db:"recorded_media_path"`
	ResponseMediaURL  string    `db:"response_media_url"`
	Metadata          []byte    `db:"metadata"`
	CreatedAt         time.Time `db:"created_at"`
	LastActivityAt    time.Time `db:"last_activity_at"`
	LastStateChangeAt time.Time `db:"last_state_change_at"`
}

var sqlParamsSession = []string{
	"session_key",
	"contact_name",
	"subject_id",
	"caller_id",
	"flow_state",
	"connection_id",
	"reconnect_count",
	"device_kind",
	"device_id",
	"primary_device",
	"recorded_media_path",
	"response_media_url",
	"metadata",
	"created_at",
	"last_activity_at",
	"last_state_change_at",
}

func (d *sqlDataSession) Scan(m *model.Session) error {
	metadata, err := json.Marshal(m.Metadata)
	if err != nil {
		return errors.Wrap(err, "postgres: marshal session metadata")
	}

	d.SessionKey = m.SessionKey
	d.ContactName = m.ContactName
	d.SubjectID = m.SubjectID
	d.CallerID = m.CallerID
	d.FlowState = string(m.FlowState)
	d.ConnectionID = m.ConnectionID
	d.ReconnectCount = m.ReconnectCount
	d.DeviceKind = m.DeviceKind
	d.DeviceID = m.DeviceID
	d.PrimaryDevice = m.PrimaryDevice
	d.RecordedMediaPath = m.RecordedMediaPath
	d.ResponseMediaURL = m.ResponseMediaURL
	d.Metadata = metadata
	d.CreatedAt = m.CreatedAt
	d.LastActivityAt = m.LastActivityAt
	d.LastStateChangeAt = m.LastStateChangeAt

	return nil
}

func (d *sqlDataSession) Model() (*model.Session, error) {
	metadata := make(map[string]string)
	if len(d.Metadata) > 0 {
		if err := json.Unmarshal(d.Metadata, &metadata); err != nil {
			return nil, errors.Wrap(err, "postgres: unmarshal session metadata")
		}
	}

	return &model.Session{
		SessionKey:        d.SessionKey,
		ContactName:       d.ContactName,
		SubjectID:         d.SubjectID,
		CallerID:          d.CallerID,
		FlowState:         callflow.State(d.FlowState),
		ConnectionID:      d.ConnectionID,
		ReconnectCount:    d.ReconnectCount,
		DeviceKind:        d.DeviceKind,
		DeviceID:          d.DeviceID,
		PrimaryDevice:     d.PrimaryDevice,
		RecordedMediaPath: d.RecordedMediaPath,
		ResponseMediaURL:  d.ResponseMediaURL,
		Metadata:          metadata,
		CreatedAt:         d.CreatedAt,
		LastActivityAt:    d.LastActivityAt,
		LastStateChangeAt: d.LastStateChangeAt,
	}, nil
}

func (s *Store) Create(ctx context.Context, contactName, subjectID, callerID, deviceKind, deviceID string) (*model.Session, error) {
	sess := store.NewSession(contactName, subjectID, callerID, deviceKind, deviceID)

	if err := s.upsert(ctx, sess); err != nil {
		return nil, err
	}

	return sess, nil
}

func (s *Store) Get(ctx context.Context, sessionKey string) (*model.Session, error) {
	d := sqlDataSession{}
	query := "SELECT * FROM call_sessions WHERE session_key = $1 AND last_activity_at > $2"
	if err := s.db.GetContext(ctx, &d, query, sessionKey, s.windowStart()); err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, errors.Wrap(err, "postgres: get session")
	}

	return d.Model()
}

func (s *Store) Save(ctx context.Context, sess *model.Session) error {
	sess.Touch()
	return s.upsert(ctx, sess)
}

func (s *Store) ExtendTTL(ctx context.Context, sessionKey string) (bool, error) {
	query := "UPDATE call_sessions SET last_activity_at = $1 WHERE session_key = $2 AND last_activity_at > $3"
	res, err := s.db.ExecContext(ctx, query, model.Now(), sessionKey, s.windowStart())
	if err != nil {
		return false, errors.Wrap(err, "postgres: extend session ttl")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "postgres: extend session ttl")
	}

	return n > 0, nil
}

func (s *Store) MapConnection(ctx context.Context, connectionID, sessionKey string) error {
	sess, err := s.Get(ctx, sessionKey)
	if err != nil {
		return err
	}

	sess.ConnectionID = connectionID
	return s.Save(ctx, sess)
}

func (s *Store) ConnectionToSession(ctx context.Context, connectionID string) (string, error) {
	var sessionKey string
	query := "SELECT session_key FROM call_sessions WHERE connection_id = $1 AND last_activity_at > $2"
	if err := s.db.GetContext(ctx, &sessionKey, query, connectionID, s.windowStart()); err == sql.ErrNoRows {
		return "", store.ErrNotFound
	} else if err != nil {
		return "", errors.Wrap(err, "postgres: resolve connection")
	}

	return sessionKey, nil
}

func (s *Store) UnmapConnection(ctx context.Context, connectionID string) error {
	query := "UPDATE call_sessions SET connection_id = '', last_activity_at = $1 WHERE connection_id = $2"
	if _, err := s.db.ExecContext(ctx, query, model.Now(), connectionID); err != nil {
		return errors.Wrap(err, "postgres: unmap connection")
	}

	return nil
}

func (s *Store) Delete(ctx context.Context, sessionKey string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM call_sessions WHERE session_key = $1", sessionKey)
	if err != nil {
		return errors.Wrap(err, "postgres: delete session")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "postgres: delete session")
	}
	if n == 0 {
		return store.ErrNotFound
	}

	return nil
}

func (s *Store) ListActive(ctx context.Context) ([]model.Session, error) {
	data := []sqlDataSession{}
	query := "SELECT * FROM call_sessions WHERE last_activity_at > $1 ORDER BY created_at"
	if err := s.db.SelectContext(ctx, &data, query, s.windowStart()); err != nil {
		return nil, errors.Wrap(err, "postgres: list sessions")
	}

	sessions := make([]model.Session, 0, len(data))
	for i := range data {
		m, err := data[i].Model()
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *m)
	}

	return sessions, nil
}

func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM call_sessions WHERE last_activity_at <= $1", s.windowStart())
	if err != nil {
		return 0, errors.Wrap(err, "postgres: sweep sessions")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "postgres: sweep sessions")
	}

	return int(n), nil
}

func (s *Store) windowStart() time.Time {
	return model.Now().Add(-s.ttl)
}

func (s *Store) upsert(ctx context.Context, sess *model.Session) error {
	d := sqlDataSession{}
	if err := d.Scan(sess); err != nil {
		return err
	}

	query := "INSERT INTO call_sessions (" + strings.Join(sqlParamsSession, ", ") + ") VALUES (" +
		":" + strings.Join(sqlParamsSession, ", :") + ") " +
		"ON CONFLICT (session_key) DO UPDATE SET " + sqlUpdateSetSession()
	if _, err := s.db.NamedExecContext(ctx, query, &d); err != nil {
		return errors.Wrap(err, "postgres: save session")
	}

	return nil
}

func sqlUpdateSetSession() string {
	assignments := make([]string, 0, len(sqlParamsSession))
	for _, param := range sqlParamsSession {
		if param == "session_key" || param == "created_at" {
			continue
		}
		assignments = append(assignments, param+" = :"+param)
	}
	return strings.Join(assignments, ", ")
}
