package proto

import (
	"encoding/json"
	"time"

	"github.com/memovia/callkeeper/pkg/model"
)

func MarshalNewConnectedMessage(sess *model.Session, reconnected bool, ttl time.Duration) ([]byte, error) {
	return json.Marshal(&ConnectedMessage{
		Type:                MessageTypeConnected,
		SessionKey:          sess.SessionKey,
		ContactName:         sess.ContactName,
		Reconnected:         reconnected,
		SessionAgeMinutes:   sess.AgeMinutes(),
		TTLRemainingSeconds: int(sess.TTLRemaining(ttl) / time.Second),
		ReconnectCount:      sess.ReconnectCount,
	})
}

func MarshalNewHeartbeatMessage(sess *model.Session, ttl time.Duration) ([]byte, error) {
	return json.Marshal(&HeartbeatMessage{
		Type:                MessageTypeHeartbeat,
		Timestamp:           model.Now(),
		SessionKey:          sess.SessionKey,
		SessionAgeMinutes:   sess.AgeMinutes(),
		TTLRemainingSeconds: int(sess.TTLRemaining(ttl) / time.Second),
	})
}

func MarshalNewStateChangedMessage(sessionKey, state string) ([]byte, error) {
	return json.Marshal(&StateChangedMessage{
		Type:       MessageTypeStateChanged,
		SessionKey: sessionKey,
		State:      state,
		Timestamp:  model.Now(),
	})
}

func MarshalNewResponseVideoMessage(sessionKey, videoURL, contactName string) ([]byte, error) {
	return json.Marshal(&ResponseVideoMessage{
		Type:        MessageTypeResponseVideo,
		SessionKey:  sessionKey,
		VideoURL:    videoURL,
		ContactName: contactName,
		Timestamp:   model.Now(),
	})
}

func MarshalNewErrorMessage(code, message string) ([]byte, error) {
	return json.Marshal(&ErrorMessage{
		Type:      MessageTypeError,
		Code:      code,
		Message:   message,
		Timestamp: model.Now(),
	})
}
