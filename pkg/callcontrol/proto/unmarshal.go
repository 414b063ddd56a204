package proto

import (
	"encoding/json"
	"fmt"
)

type envelope struct {
	Type MessageType `json:"type"`
}

// UnmarshalMessage decodes a client message into its concrete type. The
// returned MessageType lets the caller dispatch without a type switch over
// every message struct.
func UnmarshalMessage(data []byte) (MessageType, interface{}, error) {
	env := envelope{}
	if err := json.Unmarshal(data, &env); err != nil {
		return MessageTypeInvalid, nil, fmt.Errorf("callcontrol: invalid message data: %s", err.Error())
	}

	switch env.Type {
	case MessageTypeConnect:
		msg := &ConnectMessage{}
		if err := json.Unmarshal(data, msg); err != nil {
			return MessageTypeInvalid, nil, fmt.Errorf("callcontrol: invalid connect message: %s", err.Error())
		}
		return env.Type, msg, nil
	case MessageTypeHeartbeatResponse:
		msg := &HeartbeatResponseMessage{}
		if err := json.Unmarshal(data, msg); err != nil {
			return MessageTypeInvalid, nil, fmt.Errorf("callcontrol: invalid heartbeat response message: %s", err.Error())
		}
		return env.Type, msg, nil
	case MessageTypeStateChange:
		msg := &StateChangeMessage{}
		if err := json.Unmarshal(data, msg); err != nil {
			return MessageTypeInvalid, nil, fmt.Errorf("callcontrol: invalid state change message: %s", err.Error())
		}
		return env.Type, msg, nil
	case MessageTypeVideoUploadComplete:
		msg := &VideoUploadCompleteMessage{}
		if err := json.Unmarshal(data, msg); err != nil {
			return MessageTypeInvalid, nil, fmt.Errorf("callcontrol: invalid video upload complete message: %s", err.Error())
		}
		return env.Type, msg, nil
	case MessageTypeDisconnect:
		msg := &DisconnectMessage{}
		if err := json.Unmarshal(data, msg); err != nil {
			return MessageTypeInvalid, nil, fmt.Errorf("callcontrol: invalid disconnect message: %s", err.Error())
		}
		return env.Type, msg, nil
	case MessageTypeInvalid:
		return MessageTypeInvalid, nil, fmt.Errorf("callcontrol: message does not contain a message type")
	}

	return MessageTypeInvalid, nil, &UnknownMessageTypeError{Type: string(env.Type)}
}

func MustConnectMessage(msg interface{}) (*ConnectMessage, error) {
	m, ok := msg.(*ConnectMessage)
	if !ok {
		return nil, fmt.Errorf("callcontrol: connect message expected")
	}
	return m, nil
}

func MustStateChangeMessage(msg interface{}) (*StateChangeMessage, error) {
	m, ok := msg.(*StateChangeMessage)
	if !ok {
		return nil, fmt.Errorf("callcontrol: state change message expected")
	}
	return m, nil
}

func MustVideoUploadCompleteMessage(msg interface{}) (*VideoUploadCompleteMessage, error) {
	m, ok := msg.(*VideoUploadCompleteMessage)
	if !ok {
		return nil, fmt.Errorf("callcontrol: video upload complete message expected")
	}
	return m, nil
}

func MustDisconnectMessage(msg interface{}) (*DisconnectMessage, error) {
	m, ok := msg.(*DisconnectMessage)
	if !ok {
		return nil, fmt.Errorf("callcontrol: disconnect message expected")
	}
	return m, nil
}
