package store

import (
	"github.com/memovia/callkeeper/pkg/callflow"
	"github.com/memovia/callkeeper/pkg/model"
)

// NewSession builds a fresh session record shared by all backends. The first
// device driving a call is the primary one until another claims the role.
func NewSession(contactName, subjectID, callerID, deviceKind, deviceID string) *model.Session {
	now := model.Now()
	return &model.Session{
		SessionKey:        NewSessionKey(),
		ContactName:       contactName,
		SubjectID:         subjectID,
		CallerID:          callerID,
		FlowState:         callflow.StateInitializing,
		ReconnectCount:    0,
		DeviceKind:        deviceKind,
		DeviceID:          deviceID,
		PrimaryDevice:     true,
		Metadata:          make(map[string]string),
		CreatedAt:         now,
		LastActivityAt:    now,
		LastStateChangeAt: now,
	}
}
