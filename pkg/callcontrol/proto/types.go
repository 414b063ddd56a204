package proto

import "time"

// MessageType is the `type` discriminator carried by every protocol message.
type MessageType string

const (
	MessageTypeInvalid MessageType = ""

	// Client to server
	MessageTypeConnect             MessageType = "CONNECT"
	MessageTypeHeartbeatResponse   MessageType = "HEARTBEAT_RESPONSE"
	MessageTypeStateChange         MessageType = "STATE_CHANGE"
	MessageTypeVideoUploadComplete MessageType = "VIDEO_UPLOAD_COMPLETE"
	MessageTypeDisconnect          MessageType = "DISCONNECT"

	// Server to client
	MessageTypeConnected     MessageType = "CONNECTED"
	MessageTypeHeartbeat     MessageType = "HEARTBEAT"
	MessageTypeStateChanged  MessageType = "STATE_CHANGED"
	MessageTypeResponseVideo MessageType = "RESPONSE_VIDEO"
	MessageTypeError         MessageType = "ERROR"
)

func (msgType MessageType) String() string {
	return string(msgType)
}

// DisconnectReasonUserAction marks an explicit, user-initiated hang-up. Any
// other reason detaches the connection but leaves the session alive.
const DisconnectReasonUserAction = "USER_ACTION"

type ConnectMessage struct {
	Type        MessageType `json:"type"`
	ContactName string      `json:"contactName"`
	Reconnect   bool        `json:"reconnect"`
	SubjectID   string      `json:"subjectId,omitempty"`
	CallerID    string      `json:"callerId,omitempty"`
	DeviceKind  string      `json:"deviceKind,omitempty"`
	DeviceID    string      `json:"deviceId,omitempty"`
}

type HeartbeatResponseMessage struct {
	Type MessageType `json:"type"`
}

type StateChangeMessage struct {
	Type  MessageType `json:"type"`
	State string      `json:"state"`
}

type VideoUploadCompleteMessage struct {
	Type     MessageType `json:"type"`
	FilePath string      `json:"filePath"`
}

type DisconnectMessage struct {
	Type   MessageType `json:"type"`
	Reason string      `json:"reason,omitempty"`
}

type ConnectedMessage struct {
	Type                MessageType `json:"type"`
	SessionKey          string      `json:"sessionKey"`
	ContactName         string      `json:"contactName"`
	Reconnected         bool        `json:"reconnected"`
	SessionAgeMinutes   int         `json:"sessionAgeMinutes"`
	TTLRemainingSeconds int         `json:"ttlRemainingSeconds"`
	ReconnectCount      int         `json:"reconnectCount"`
}

type HeartbeatMessage struct {
	Type                MessageType `json:"type"`
	Timestamp           time.Time   `json:"timestamp"`
	SessionKey          string      `json:"sessionKey"`
	SessionAgeMinutes   int         `json:"sessionAgeMinutes"`
	TTLRemainingSeconds int         `json:"ttlRemainingSeconds"`
}

type StateChangedMessage struct {
	Type       MessageType `json:"type"`
	SessionKey string      `json:"sessionKey"`
	State      string      `json:"state"`
	Timestamp  time.Time   `json:"timestamp"`
}

type ResponseVideoMessage struct {
	Type        MessageType `json:"type"`
	SessionKey  string      `json:"sessionKey"`
	VideoURL    string      `json:"videoUrl"`
	ContactName string      `json:"contactName"`
	Timestamp   time.Time   `json:"timestamp"`
}

type ErrorMessage struct {
	Type      MessageType `json:"type"`
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Timestamp time.Time   `json:"timestamp"`
}
