package resource

import (
	"sort"
	"time"

	"github.com/memovia/callkeeper/pkg/model"
)

type SessionResource struct {
	SessionKey          string    `json:"sessionKey"`
	ContactName         string    `json:"contactName"`
	SubjectID           string    `json:"subjectId,omitempty"`
	CallerID            string    `json:"callerId,omitempty"`
	FlowState           string    `json:"flowState"`
	FlowStateLabel      string    `json:"flowStateLabel"`
	Connected           bool      `json:"connected"`
	ReconnectCount      int       `json:"reconnectCount"`
	DeviceKind          string    `json:"deviceKind,omitempty"`
	SessionAgeMinutes   int       `json:"sessionAgeMinutes"`
	TTLRemainingSeconds int       `json:"ttlRemainingSeconds"`
	CreatedAt           time.Time `json:"createdAt"`
	LastActivityAt      time.Time `json:"lastActivityAt"`
}

type SessionListResource struct {
	Members []*SessionResource `json:"members"`
}

func NewSession(m *model.Session, ttl time.Duration) (out *SessionResource) {
	out = &SessionResource{
		SessionKey:          m.SessionKey,
		ContactName:         m.ContactName,
		SubjectID:           m.SubjectID,
		CallerID:            m.CallerID,
		FlowState:           m.FlowState.String(),
		FlowStateLabel:      m.FlowState.Label(),
		Connected:           m.Connected(),
		ReconnectCount:      m.ReconnectCount,
		DeviceKind:          m.DeviceKind,
		SessionAgeMinutes:   m.AgeMinutes(),
		TTLRemainingSeconds: int(m.TTLRemaining(ttl) / time.Second),
		CreatedAt:           m.CreatedAt,
		LastActivityAt:      m.LastActivityAt,
	}

	return // out
}

func NewSessionList(sessions []model.Session, ttl time.Duration) (out *SessionListResource) {
	out = &SessionListResource{
		Members: make([]*SessionResource, 0),
	}

	for i := range sessions {
		out.Members = append(out.Members, NewSession(&sessions[i], ttl))
	}

	// Default sort by creation time
	sort.Slice(out.Members, func(i, j int) bool {
		return out.Members[i].CreatedAt.Before(out.Members[j].CreatedAt)
	})

	return // out
}
