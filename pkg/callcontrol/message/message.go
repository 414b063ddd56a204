package message

import "time"

type ReplyStatus int

const (
	ReplyStatusSuccess ReplyStatus = iota
	ReplyStatusError
)

// ProcessRequest is published to the AI/media pipeline when a recorded clip
// is ready for processing.
type ProcessRequest struct {
	SessionKey  string `json:"session_key"`
	SubjectID   string `json:"subject_id,omitempty"`
	ContactName string `json:"contact_name"`
	FilePath    string `json:"file_path"`
}

// ProcessResult is published by the pipeline once a response video has been
// rendered (or the attempt failed).
type ProcessResult struct {
	Status       ReplyStatus `json:"status"`
	SessionKey   string      `json:"session_key"`
	VideoURL     string      `json:"video_url,omitempty"`
	ErrorReason  string      `json:"error_reason,omitempty"`
	ErrorDetails interface{} `json:"error_details,omitempty"`
}

// CallStatusEvent announces session lifecycle changes to interested
// services (admin console, notifications).
type CallStatusEvent struct {
	SessionKey     string    `json:"session_key"`
	SubjectID      string    `json:"subject_id,omitempty"`
	Status         string    `json:"status"`
	FlowState      string    `json:"flow_state"`
	ReconnectCount int       `json:"reconnect_count"`
	Timestamp      time.Time `json:"timestamp"`
}

// Call status values carried by CallStatusEvent.
const (
	CallStatusConnected    = "CONNECTED"
	CallStatusReconnected  = "RECONNECTED"
	CallStatusDisconnected = "DISCONNECTED"
	CallStatusEnded        = "ENDED"
	CallStatusExpired      = "EXPIRED"
)
