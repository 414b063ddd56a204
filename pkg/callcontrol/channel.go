package callcontrol

import (
	"context"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/memovia/callkeeper/pkg/callcontrol/message"
	"github.com/memovia/callkeeper/pkg/callcontrol/proto"
	"github.com/memovia/callkeeper/pkg/callcontrol/websocket"
	"github.com/memovia/callkeeper/pkg/callflow"
	"github.com/memovia/callkeeper/pkg/model"
	"github.com/memovia/callkeeper/pkg/store"
)

type Status int

const (
	// StatusEstablished: transport is up, no CONNECT handled yet.
	StatusEstablished Status = iota
	// StatusAttached: a session is mapped to this connection.
	StatusAttached
	// StatusDetached: the session was released by a DISCONNECT message or
	// a superseding connection; transport teardown must not touch it.
	StatusDetached
)

// connectGracePeriod is how long a fresh connection may stay silent before
// it is closed again.
const connectGracePeriod = 10 * time.Second

// CallChannel handles the protocol for one websocket connection. All
// inbound messages for a connection are processed sequentially by the inbox
// worker; state the channel shares with other goroutines sits behind the
// embedded mutex.
type CallChannel struct {
	sync.RWMutex
	ctrl          *Controller
	conn          net.Conn
	driver        *websocket.Driver
	status        Status
	connectionID  string
	sessionKey    string
	lastMessageAt time.Time
	stopCh        chan struct{}
	connectedCh   chan bool
	stopOnce      sync.Once
}

// ConnectionID returns the transport-level identifier of this channel.
func (cc *CallChannel) ConnectionID() string {
	return cc.connectionID
}

// SessionKey returns the session currently attached, or the key requested
// by the connection path before CONNECT was handled.
func (cc *CallChannel) SessionKey() string {
	cc.RLock()
	defer cc.RUnlock()
	return cc.sessionKey
}

// Close is called when the websocket handler method is exiting, e.g. the
// connection is closed.
func (cc *CallChannel) Close() {
	cc.stopOnce.Do(func() {
		close(cc.stopCh)
	})
}

// Supersede is invoked when a newer connection claims this channel's
// session. The session stays with the new connection; this one is closed.
func (cc *CallChannel) Supersede() {
	cc.Lock()
	cc.status = StatusDetached
	cc.Unlock()

	cc.pushBackMessage(FlagCloseGracefully, nil)
}

// Send delivers a marshaled protocol message over this connection. It never
// blocks; a full or dying outbox fails the send.
func (cc *CallChannel) Send(data []byte) bool {
	return cc.pushBackMessage(FlagContinue, data)
}

func (cc *CallChannel) inboxWorker() {
	for {
		select {
		case msg := <-cc.driver.Inbox:
			data, flag, err := cc.HandleMessage(msg.Data)
			if err != nil {
				log.Errorf("callchannel failed to handle message: %v", err)
			}
			if data != nil || flag != FlagContinue {
				cc.pushBackMessage(flag, data)
			}
		case <-cc.stopCh:
			return
		}
	}
}

func (cc *CallChannel) waitForConnectOrClose() {
	for {
		select {
		case <-cc.connectedCh:
			return
		case <-cc.stopCh:
			return
		case <-time.After(connectGracePeriod):
			cc.enforceConnectGrace()
			return
		}
	}
}

// enforceConnectGrace closes the connection unless a session got attached in
// the meantime. The CONNECT notification is a non-blocking send and can be
// missed; the channel status is authoritative, not the signal.
func (cc *CallChannel) enforceConnectGrace() {
	cc.RLock()
	attached := cc.status == StatusAttached
	cc.RUnlock()
	if attached {
		return
	}

	log.Warn("callchannel received no CONNECT within grace period and closes the connection")
	cc.pushBackMessage(FlagCloseGracefully, nil)
}

// HandleMessage dispatches one inbound protocol message. Malformed and
// unknown messages produce an ERROR reply; the connection stays open.
func (cc *CallChannel) HandleMessage(data []byte) ([]byte, Flag, error) {
	log.Debugf("callchannel handles message '%s'", string(data))

	msgType, msg, err := proto.UnmarshalMessage(data)
	if err != nil {
		if proto.IsUnknownMessageTypeError(err) {
			return cc.errorMessage(proto.ErrCodeUnknownMessageType, err.Error())
		}
		return cc.errorMessage(proto.ErrCodeProtocolViolation, err.Error())
	}

	switch msgType {
	case proto.MessageTypeConnect:
		return cc.handleMessage(msg, cc.connectHandler())
	case proto.MessageTypeHeartbeatResponse:
		return cc.handleMessage(msg, cc.ensureAttached(cc.heartbeatResponseHandler()))
	case proto.MessageTypeStateChange:
		return cc.handleMessage(msg, cc.ensureAttached(cc.stateChangeHandler()))
	case proto.MessageTypeVideoUploadComplete:
		return cc.handleMessage(msg, cc.ensureAttached(cc.videoUploadCompleteHandler()))
	case proto.MessageTypeDisconnect:
		return cc.handleMessage(msg, cc.ensureAttached(cc.disconnectHandler()))
	}

	return cc.errorMessage(proto.ErrCodeUnknownMessageType, "unhandled message type "+msgType.String())
}

func (cc *CallChannel) handleMessage(msg interface{}, h messageHandler) ([]byte, Flag, error) {
	cc.Lock()
	cc.lastMessageAt = time.Now().Round(time.Second).UTC()
	cc.Unlock()

	return h.Handle(msg)
}

func (cc *CallChannel) ensureAttached(next messageHandler) messageHandler {
	return messageHandlerFunc(func(msg interface{}) ([]byte, Flag, error) {
		cc.RLock()
		attached := cc.status == StatusAttached
		cc.RUnlock()
		if !attached {
			return cc.errorMessage(proto.ErrCodeInvalidSession, "no session attached, send CONNECT first")
		}
		return next.Handle(msg)
	})
}

func (cc *CallChannel) connectHandler() messageHandlerFunc {
	return messageHandlerFunc(func(msg interface{}) ([]byte, Flag, error) {
		connectMsg, err := proto.MustConnectMessage(msg)
		if err != nil {
			return cc.errorMessage(proto.ErrCodeProtocolViolation, err.Error())
		}

		// Notify the waitForConnectOrClose routine, otherwise the
		// connection is closed during session setup. Non-blocking: a
		// repeated CONNECT has nobody listening anymore.
		select {
		case cc.connectedCh <- true:
		default:
		}

		ctx := context.Background()
		st := cc.ctrl.store

		var sess *model.Session
		reconnected := false

		cc.RLock()
		requestedKey := cc.sessionKey
		cc.RUnlock()

		if requestedKey != "" && connectMsg.Reconnect {
			sess, err = st.Get(ctx, requestedKey)
			if err == nil {
				reconnected = true
				sess.ReconnectCount++
				if err := st.Save(ctx, sess); err != nil {
					return cc.errorMessage(proto.ErrCodeTechnicalException, "could not save session")
				}
			} else if err != store.ErrNotFound {
				return cc.errorMessage(proto.ErrCodeTechnicalException, "session store unavailable")
			}
			// An expired key falls through to a brand-new session.
		}

		if sess == nil {
			sess, err = st.Create(ctx, connectMsg.ContactName, connectMsg.SubjectID,
				connectMsg.CallerID, connectMsg.DeviceKind, connectMsg.DeviceID)
			if err != nil {
				return cc.errorMessage(proto.ErrCodeTechnicalException, "could not create session")
			}
		}

		if err := st.MapConnection(ctx, cc.connectionID, sess.SessionKey); err != nil {
			return cc.errorMessage(proto.ErrCodeTechnicalException, "could not attach connection")
		}
		sess.ConnectionID = cc.connectionID

		cc.Lock()
		cc.status = StatusAttached
		cc.sessionKey = sess.SessionKey
		cc.Unlock()

		status := message.CallStatusConnected
		if reconnected {
			status = message.CallStatusReconnected
		}
		cc.ctrl.publishCallStatus(sess, status)

		log.Infof("callchannel attached connection '%s' to session '%s' (reconnected=%t, count=%d)",
			cc.connectionID, sess.SessionKey, reconnected, sess.ReconnectCount)

		out, err := proto.MarshalNewConnectedMessage(sess, reconnected, st.TTL())
		if err != nil {
			return cc.terminateAndLogError("could not marshal message", err)
		}
		return out, FlagContinue, nil
	})
}

func (cc *CallChannel) heartbeatResponseHandler() messageHandlerFunc {
	return messageHandlerFunc(func(msg interface{}) ([]byte, Flag, error) {
		ok, err := cc.ctrl.store.ExtendTTL(context.Background(), cc.SessionKey())
		if err != nil {
			return cc.errorMessage(proto.ErrCodeTechnicalException, "could not renew session")
		}
		if !ok {
			return cc.errorMessage(proto.ErrCodeInvalidSession, "session no longer exists")
		}
		return cc.continueWithoutMessage()
	})
}

func (cc *CallChannel) stateChangeHandler() messageHandlerFunc {
	return messageHandlerFunc(func(msg interface{}) ([]byte, Flag, error) {
		changeMsg, err := proto.MustStateChangeMessage(msg)
		if err != nil {
			return cc.errorMessage(proto.ErrCodeProtocolViolation, err.Error())
		}

		next, err := callflow.ParseState(changeMsg.State)
		if err != nil {
			return cc.errorMessage(proto.ErrCodeProtocolViolation, err.Error())
		}

		ctx := context.Background()
		sess, reply, ok := cc.fetchOwnedSession(ctx)
		if !ok {
			return reply.data, reply.flag, reply.err
		}

		// Only the primary device may start a recording.
		if next == callflow.StateRecording && !sess.PrimaryDevice {
			return cc.errorMessage(proto.ErrCodeNotPrimaryDevice, "recording requires the primary device")
		}

		if err := sess.SetState(next); err != nil {
			return cc.errorMessage(proto.ErrCodeInvalidTransition, err.Error())
		}

		if err := cc.ctrl.store.Save(ctx, sess); err != nil {
			return cc.errorMessage(proto.ErrCodeTechnicalException, "could not save session")
		}

		out, err := proto.MarshalNewStateChangedMessage(sess.SessionKey, sess.FlowState.String())
		if err != nil {
			return cc.terminateAndLogError("could not marshal message", err)
		}
		return out, FlagContinue, nil
	})
}

func (cc *CallChannel) videoUploadCompleteHandler() messageHandlerFunc {
	return messageHandlerFunc(func(msg interface{}) ([]byte, Flag, error) {
		uploadMsg, err := proto.MustVideoUploadCompleteMessage(msg)
		if err != nil {
			return cc.errorMessage(proto.ErrCodeProtocolViolation, err.Error())
		}

		ctx := context.Background()
		sess, reply, ok := cc.fetchOwnedSession(ctx)
		if !ok {
			return reply.data, reply.flag, reply.err
		}

		if err := sess.SetState(callflow.StateProcessing); err != nil {
			return cc.errorMessage(proto.ErrCodeInvalidTransition, err.Error())
		}
		sess.RecordedMediaPath = uploadMsg.FilePath

		if err := cc.ctrl.store.Save(ctx, sess); err != nil {
			return cc.errorMessage(proto.ErrCodeTechnicalException, "could not save session")
		}

		if err := cc.ctrl.requestProcessing(sess, uploadMsg.FilePath); err != nil {
			log.Errorf("callchannel could not request processing for session '%s': %v", sess.SessionKey, err)
			return cc.errorMessage(proto.ErrCodeTechnicalException, "could not hand recording to pipeline")
		}

		out, err := proto.MarshalNewStateChangedMessage(sess.SessionKey, sess.FlowState.String())
		if err != nil {
			return cc.terminateAndLogError("could not marshal message", err)
		}
		return out, FlagContinue, nil
	})
}

func (cc *CallChannel) disconnectHandler() messageHandlerFunc {
	return messageHandlerFunc(func(msg interface{}) ([]byte, Flag, error) {
		disconnectMsg, err := proto.MustDisconnectMessage(msg)
		if err != nil {
			return cc.errorMessage(proto.ErrCodeProtocolViolation, err.Error())
		}

		ctx := context.Background()
		sess, reply, ok := cc.fetchOwnedSession(ctx)
		if !ok {
			return reply.data, reply.flag, reply.err
		}

		cc.Lock()
		cc.status = StatusDetached
		cc.Unlock()

		if disconnectMsg.Reason == proto.DisconnectReasonUserAction {
			if err := cc.ctrl.store.Delete(ctx, sess.SessionKey); err != nil && err != store.ErrNotFound {
				log.Errorf("callchannel failed to delete session '%s': %v", sess.SessionKey, err)
			}
			cc.ctrl.publishCallStatus(sess, message.CallStatusEnded)
			log.Infof("callchannel ended session '%s' on user request", sess.SessionKey)
			return nil, FlagCloseGracefully, nil
		}

		// Transient disconnect: detach only, the session stays alive for
		// a later reconnect.
		if err := cc.ctrl.store.UnmapConnection(ctx, cc.connectionID); err != nil {
			log.Errorf("callchannel failed to unmap connection '%s': %v", cc.connectionID, err)
		}
		cc.ctrl.publishCallStatus(sess, message.CallStatusDisconnected)
		return cc.continueWithoutMessage()
	})
}

// handlerReply carries a prepared response out of fetchOwnedSession.
type handlerReply struct {
	data []byte
	flag Flag
	err  error
}

// fetchOwnedSession re-fetches the session and verifies that this connection
// is still the one mapped to it. An in-flight message from a superseded
// connection degrades to a silent no-op; a vanished session produces an
// ERROR reply. The boolean reports whether the session may be used.
func (cc *CallChannel) fetchOwnedSession(ctx context.Context) (*model.Session, handlerReply, bool) {
	sess, err := cc.ctrl.store.Get(ctx, cc.SessionKey())
	if err == store.ErrNotFound {
		data, flag, rerr := cc.errorMessage(proto.ErrCodeInvalidSession, "session no longer exists")
		return nil, handlerReply{data, flag, rerr}, false
	} else if err != nil {
		data, flag, rerr := cc.errorMessage(proto.ErrCodeTechnicalException, "session store unavailable")
		return nil, handlerReply{data, flag, rerr}, false
	}

	if sess.ConnectionID != cc.connectionID {
		log.Infof("callchannel ignores message from superseded connection '%s' for session '%s'",
			cc.connectionID, sess.SessionKey)
		data, flag, rerr := cc.continueWithoutMessage()
		return nil, handlerReply{data, flag, rerr}, false
	}

	return sess, handlerReply{}, true
}

func (cc *CallChannel) errorMessage(code, text string) ([]byte, Flag, error) {
	out, err := proto.MarshalNewErrorMessage(code, text)
	// This error should happen never! If it happens log an urgent error
	// and terminate the websocket session for safety.
	if err != nil {
		return cc.terminateAndLogError("could not marshal message", err)
	}
	return out, FlagContinue, nil
}

func (cc *CallChannel) continueWithoutMessage() ([]byte, Flag, error) {
	return nil, FlagContinue, nil
}

func (cc *CallChannel) terminateAndLogError(text string, err error) ([]byte, Flag, error) {
	log.Errorf("callchannel terminates with message and error: %s: %s", text, err.Error())
	return nil, FlagTerminate, nil
}

func (cc *CallChannel) pushBackMessage(flag Flag, data []byte) bool {
	select {
	case cc.driver.Outbox <- websocket.NewOutboxMessage(flag, data):
		return true
	default:
		return false // Buffer is full
	}
}
