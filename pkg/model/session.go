package model

import (
	"time"

	"github.com/memovia/callkeeper/pkg/callflow"
)

// Session is the serializable unit of state for one live call. It is stored
// as a whole by the session store; there is no field-level update.
type Session struct {
	SessionKey        string            `json:"sessionKey" db:"session_key"`
	ContactName       string            `json:"contactName" db:"contact_name"`
	SubjectID         string            `json:"subjectId,omitempty" db:"subject_id"`
	CallerID          string            `json:"callerId,omitempty" db:"caller_id"`
	FlowState         callflow.State    `json:"flowState" db:"flow_state"`
	ConnectionID      string            `json:"connectionId,omitempty" db:"connection_id"`
	ReconnectCount    int               `json:"reconnectCount" db:"reconnect_count"`
	DeviceKind        string            `json:"deviceKind,omitempty" db:"device_kind"`
	DeviceID          string            `json:"deviceId,omitempty" db:"device_id"`
	PrimaryDevice     bool              `json:"primaryDevice" db:"primary_device"`
	RecordedMediaPath string            `json:"recordedMediaPath,omitempty" db:"recorded_media_path"`
	ResponseMediaURL  string            `json:"responseMediaUrl,omitempty" db:"response_media_url"`
	Metadata          map[string]string `json:"metadata,omitempty" db:"-"`

	CreatedAt         time.Time `json:"createdAt" db:"created_at"`
	LastActivityAt    time.Time `json:"lastActivityAt" db:"last_activity_at"`
	LastStateChangeAt time.Time `json:"lastStateChangeAt" db:"last_state_change_at"`
}

// Now returns the timestamp granularity used throughout the session model.
func Now() time.Time {
	return time.Now().Round(time.Second).UTC()
}

// Touch refreshes LastActivityAt. Every handled protocol message and every
// TTL renewal goes through here.
func (s *Session) Touch() {
	s.LastActivityAt = Now()
}

// SetState moves the session along the call flow. On an illegal edge the
// current state is left untouched and the callflow error is returned.
func (s *Session) SetState(next callflow.State) error {
	state, err := callflow.Transition(s.FlowState, next)
	if err != nil {
		return err
	}
	s.FlowState = state
	s.LastStateChangeAt = Now()
	return nil
}

// Connected reports whether a live connection is currently attached.
func (s *Session) Connected() bool {
	return s.ConnectionID != ""
}

// Age is the time elapsed since the session was created.
func (s *Session) Age() time.Duration {
	return time.Since(s.CreatedAt)
}

// AgeMinutes is the session age as reported to clients.
func (s *Session) AgeMinutes() int {
	return int(s.Age() / time.Minute)
}

// TTLRemaining is the time left before the session expires, given the store
// TTL window. Never negative.
func (s *Session) TTLRemaining(ttl time.Duration) time.Duration {
	remaining := ttl - time.Since(s.LastActivityAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Expired reports whether the session has outlived the TTL window.
func (s *Session) Expired(ttl time.Duration) bool {
	return time.Since(s.LastActivityAt) > ttl
}
