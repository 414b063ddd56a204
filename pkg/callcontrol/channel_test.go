package callcontrol

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/memovia/callkeeper/pkg/callcontrol/proto"
	"github.com/memovia/callkeeper/pkg/callcontrol/websocket"
	"github.com/memovia/callkeeper/pkg/callflow"
	"github.com/memovia/callkeeper/pkg/store"
	"github.com/memovia/callkeeper/pkg/store/memory"
)

func newTestController() *Controller {
	return NewController(nil, memory.NewStore(time.Hour), NewRegistry(), "test")
}

// newTestChannel builds a channel on a detached driver: the driver is never
// started, so its Outbox just buffers whatever the channel pushes.
func newTestChannel(t *testing.T, ctrl *Controller, sessionKey string) *CallChannel {
	t.Helper()

	driver := websocket.NewDriver(nil, make(chan struct{}, 1))
	cc := ctrl.NewCallChannel(nil, driver, sessionKey)
	t.Cleanup(cc.Close)
	return cc
}

func connect(t *testing.T, cc *CallChannel, reconnect bool) proto.ConnectedMessage {
	t.Helper()

	payload := fmt.Sprintf(`{"type":"CONNECT","contactName":"Grandma","reconnect":%t,"subjectId":"subject-1"}`, reconnect)
	data, flag, err := cc.HandleMessage([]byte(payload))
	if err != nil {
		t.Fatalf("CONNECT returned error: %v", err)
	}
	if flag != FlagContinue {
		t.Fatalf("CONNECT reply flag = %d, want FlagContinue", flag)
	}

	msg := proto.ConnectedMessage{}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode CONNECT reply: %v", err)
	}
	if msg.Type != proto.MessageTypeConnected {
		t.Fatalf("CONNECT reply type = %s, want CONNECTED", msg.Type)
	}
	return msg
}

func decodeError(t *testing.T, data []byte) proto.ErrorMessage {
	t.Helper()

	msg := proto.ErrorMessage{}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode error reply: %v", err)
	}
	if msg.Type != proto.MessageTypeError {
		t.Fatalf("reply type = %s, want ERROR", msg.Type)
	}
	return msg
}

func requestState(t *testing.T, cc *CallChannel, state string) ([]byte, Flag) {
	t.Helper()

	payload := fmt.Sprintf(`{"type":"STATE_CHANGE","state":"%s"}`, state)
	data, flag, err := cc.HandleMessage([]byte(payload))
	if err != nil {
		t.Fatalf("STATE_CHANGE(%s) returned error: %v", state, err)
	}
	return data, flag
}

func mustChangeState(t *testing.T, cc *CallChannel, state string) {
	t.Helper()

	data, _ := requestState(t, cc, state)
	msg := proto.StateChangedMessage{}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode STATE_CHANGE reply: %v", err)
	}
	if msg.Type != proto.MessageTypeStateChanged || msg.State != state {
		t.Fatalf("STATE_CHANGE(%s) reply = %+v", state, msg)
	}
}

func TestConnectCreatesSession(t *testing.T) {
	ctrl := newTestController()
	cc := newTestChannel(t, ctrl, "")

	msg := connect(t, cc, false)

	if msg.Reconnected {
		t.Error("fresh connect reported reconnected")
	}
	if msg.ReconnectCount != 0 {
		t.Errorf("reconnect count = %d, want 0", msg.ReconnectCount)
	}
	if msg.ContactName != "Grandma" {
		t.Errorf("contact name = %q", msg.ContactName)
	}
	if msg.SessionKey == "" || cc.SessionKey() != msg.SessionKey {
		t.Errorf("session key not attached: reply %q, channel %q", msg.SessionKey, cc.SessionKey())
	}
	if msg.TTLRemainingSeconds <= 0 {
		t.Errorf("ttl remaining = %d", msg.TTLRemainingSeconds)
	}

	sess, err := ctrl.store.Get(context.Background(), msg.SessionKey)
	if err != nil {
		t.Fatalf("session not stored: %v", err)
	}
	if sess.FlowState != callflow.StateInitializing {
		t.Errorf("new session state = %s, want INITIALIZING", sess.FlowState)
	}
	if sess.ConnectionID != cc.ConnectionID() {
		t.Errorf("session connection id = %q, want %q", sess.ConnectionID, cc.ConnectionID())
	}
}

func TestReconnectPreservesSession(t *testing.T) {
	ctrl := newTestController()
	cc1 := newTestChannel(t, ctrl, "")

	first := connect(t, cc1, false)
	mustChangeState(t, cc1, "WAITING")

	cc2 := newTestChannel(t, ctrl, first.SessionKey)
	second := connect(t, cc2, true)

	if !second.Reconnected {
		t.Error("reconnect not reported")
	}
	if second.SessionKey != first.SessionKey {
		t.Errorf("session key changed on reconnect: %s -> %s", first.SessionKey, second.SessionKey)
	}
	if second.ReconnectCount != 1 {
		t.Errorf("reconnect count = %d, want 1", second.ReconnectCount)
	}
	if second.ContactName != "Grandma" {
		t.Errorf("contact name lost on reconnect: %q", second.ContactName)
	}

	sess, err := ctrl.store.Get(context.Background(), first.SessionKey)
	if err != nil {
		t.Fatalf("session gone after reconnect: %v", err)
	}
	if sess.FlowState != callflow.StateWaiting {
		t.Errorf("flow state lost on reconnect: %s", sess.FlowState)
	}
	if sess.ConnectionID != cc2.ConnectionID() {
		t.Errorf("session still mapped to old connection %q", sess.ConnectionID)
	}
}

func TestReconnectSupersedesOldConnection(t *testing.T) {
	ctrl := newTestController()
	cc1 := newTestChannel(t, ctrl, "")
	first := connect(t, cc1, false)

	cc2 := newTestChannel(t, ctrl, first.SessionKey)
	connect(t, cc2, true)

	cc1.RLock()
	status := cc1.status
	cc1.RUnlock()
	if status != StatusDetached {
		t.Errorf("old channel status = %d, want StatusDetached", status)
	}

	// The superseded channel was told to close its transport.
	select {
	case out := <-cc1.driver.Outbox:
		if out.Flag != FlagCloseGracefully {
			t.Errorf("superseded channel outbox flag = %d, want FlagCloseGracefully", out.Flag)
		}
	default:
		t.Error("superseded channel received no close instruction")
	}
}

func TestReconnectUnknownKeyCreatesFresh(t *testing.T) {
	ctrl := newTestController()
	cc := newTestChannel(t, ctrl, "call_0_expired")

	msg := connect(t, cc, true)

	if msg.Reconnected {
		t.Error("connect against expired key reported reconnected")
	}
	if msg.SessionKey == "call_0_expired" {
		t.Error("expired key was resurrected")
	}
	if msg.ReconnectCount != 0 {
		t.Errorf("reconnect count = %d, want 0", msg.ReconnectCount)
	}
}

func TestMessageBeforeConnectRejected(t *testing.T) {
	ctrl := newTestController()
	cc := newTestChannel(t, ctrl, "")

	data, flag := requestState(t, cc, "WAITING")
	if flag != FlagContinue {
		t.Errorf("flag = %d, want FlagContinue", flag)
	}
	msg := decodeError(t, data)
	if msg.Code != proto.ErrCodeInvalidSession {
		t.Errorf("error code = %s, want %s", msg.Code, proto.ErrCodeInvalidSession)
	}
}

func TestUnknownMessageType(t *testing.T) {
	ctrl := newTestController()
	cc := newTestChannel(t, ctrl, "")

	data, _, err := cc.HandleMessage([]byte(`{"type":"TELEPORT"}`))
	if err != nil {
		t.Fatalf("HandleMessage returned error: %v", err)
	}
	msg := decodeError(t, data)
	if msg.Code != proto.ErrCodeUnknownMessageType {
		t.Errorf("error code = %s, want %s", msg.Code, proto.ErrCodeUnknownMessageType)
	}
}

func TestMalformedMessage(t *testing.T) {
	ctrl := newTestController()
	cc := newTestChannel(t, ctrl, "")

	data, flag, err := cc.HandleMessage([]byte(`this is not json`))
	if err != nil {
		t.Fatalf("HandleMessage returned error: %v", err)
	}
	if flag != FlagContinue {
		t.Errorf("malformed message must not close the connection, flag = %d", flag)
	}
	msg := decodeError(t, data)
	if msg.Code != proto.ErrCodeProtocolViolation {
		t.Errorf("error code = %s, want %s", msg.Code, proto.ErrCodeProtocolViolation)
	}
}

func TestStateChangeFlow(t *testing.T) {
	ctrl := newTestController()
	cc := newTestChannel(t, ctrl, "")
	connect(t, cc, false)

	mustChangeState(t, cc, "WAITING")
	mustChangeState(t, cc, "RECORDING")
	mustChangeState(t, cc, "WAITING")

	// No edge from WAITING to PROCESSING; the recording has to go through
	// the upload path.
	data, _ := requestState(t, cc, "PROCESSING")
	msg := decodeError(t, data)
	if msg.Code != proto.ErrCodeInvalidTransition {
		t.Errorf("error code = %s, want %s", msg.Code, proto.ErrCodeInvalidTransition)
	}

	sess, _ := ctrl.store.Get(context.Background(), cc.SessionKey())
	if sess.FlowState != callflow.StateWaiting {
		t.Errorf("state changed on rejected transition: %s", sess.FlowState)
	}
}

func TestStateChangeUnknownState(t *testing.T) {
	ctrl := newTestController()
	cc := newTestChannel(t, ctrl, "")
	connect(t, cc, false)

	data, _ := requestState(t, cc, "DANCING")
	msg := decodeError(t, data)
	if msg.Code != proto.ErrCodeProtocolViolation {
		t.Errorf("error code = %s, want %s", msg.Code, proto.ErrCodeProtocolViolation)
	}
}

func TestRecordingRequiresPrimaryDevice(t *testing.T) {
	ctrl := newTestController()
	cc := newTestChannel(t, ctrl, "")
	connect(t, cc, false)
	mustChangeState(t, cc, "WAITING")

	ctx := context.Background()
	sess, _ := ctrl.store.Get(ctx, cc.SessionKey())
	sess.PrimaryDevice = false
	if err := ctrl.store.Save(ctx, sess); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, _ := requestState(t, cc, "RECORDING")
	msg := decodeError(t, data)
	if msg.Code != proto.ErrCodeNotPrimaryDevice {
		t.Errorf("error code = %s, want %s", msg.Code, proto.ErrCodeNotPrimaryDevice)
	}
}

func TestHeartbeatResponseRenewsSession(t *testing.T) {
	ctrl := newTestController()
	cc := newTestChannel(t, ctrl, "")
	connect(t, cc, false)

	data, flag, err := cc.HandleMessage([]byte(`{"type":"HEARTBEAT_RESPONSE"}`))
	if err != nil {
		t.Fatalf("HEARTBEAT_RESPONSE returned error: %v", err)
	}
	if data != nil || flag != FlagContinue {
		t.Errorf("heartbeat response must be silent, got data=%s flag=%d", data, flag)
	}
}

func TestHeartbeatResponseAfterSessionGone(t *testing.T) {
	ctrl := newTestController()
	cc := newTestChannel(t, ctrl, "")
	connect(t, cc, false)

	if err := ctrl.store.Delete(context.Background(), cc.SessionKey()); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	data, _, err := cc.HandleMessage([]byte(`{"type":"HEARTBEAT_RESPONSE"}`))
	if err != nil {
		t.Fatalf("HEARTBEAT_RESPONSE returned error: %v", err)
	}
	msg := decodeError(t, data)
	if msg.Code != proto.ErrCodeInvalidSession {
		t.Errorf("error code = %s, want %s", msg.Code, proto.ErrCodeInvalidSession)
	}
}

func TestVideoUploadWithoutPipeline(t *testing.T) {
	// The controller has no NATS connection here: the upload is persisted
	// and the session moves to PROCESSING, but the hand-off fails and the
	// client is told so.
	ctrl := newTestController()
	cc := newTestChannel(t, ctrl, "")
	connect(t, cc, false)
	mustChangeState(t, cc, "WAITING")
	mustChangeState(t, cc, "RECORDING")

	data, _, err := cc.HandleMessage([]byte(`{"type":"VIDEO_UPLOAD_COMPLETE","filePath":"/uploads/rec.webm"}`))
	if err != nil {
		t.Fatalf("VIDEO_UPLOAD_COMPLETE returned error: %v", err)
	}
	msg := decodeError(t, data)
	if msg.Code != proto.ErrCodeTechnicalException {
		t.Errorf("error code = %s, want %s", msg.Code, proto.ErrCodeTechnicalException)
	}

	sess, _ := ctrl.store.Get(context.Background(), cc.SessionKey())
	if sess.FlowState != callflow.StateProcessing {
		t.Errorf("state = %s, want PROCESSING", sess.FlowState)
	}
	if sess.RecordedMediaPath != "/uploads/rec.webm" {
		t.Errorf("recorded media path = %q", sess.RecordedMediaPath)
	}
}

func TestVideoUploadOutsideRecording(t *testing.T) {
	ctrl := newTestController()
	cc := newTestChannel(t, ctrl, "")
	connect(t, cc, false)
	mustChangeState(t, cc, "WAITING")

	data, _, err := cc.HandleMessage([]byte(`{"type":"VIDEO_UPLOAD_COMPLETE","filePath":"/uploads/rec.webm"}`))
	if err != nil {
		t.Fatalf("VIDEO_UPLOAD_COMPLETE returned error: %v", err)
	}
	msg := decodeError(t, data)
	if msg.Code != proto.ErrCodeInvalidTransition {
		t.Errorf("error code = %s, want %s", msg.Code, proto.ErrCodeInvalidTransition)
	}
}

func TestDisconnectUserActionEndsSession(t *testing.T) {
	ctrl := newTestController()
	cc := newTestChannel(t, ctrl, "")
	msg := connect(t, cc, false)

	data, flag, err := cc.HandleMessage([]byte(`{"type":"DISCONNECT","reason":"USER_ACTION"}`))
	if err != nil {
		t.Fatalf("DISCONNECT returned error: %v", err)
	}
	if data != nil {
		t.Errorf("unexpected reply payload: %s", data)
	}
	if flag != FlagCloseGracefully {
		t.Errorf("flag = %d, want FlagCloseGracefully", flag)
	}

	if _, err := ctrl.store.Get(context.Background(), msg.SessionKey); err != store.ErrNotFound {
		t.Errorf("session survived user hang-up: %v", err)
	}

	// The transport teardown that follows must not resurrect anything.
	ctrl.ReleaseChannel(cc, true)
}

func TestDisconnectTransientKeepsSession(t *testing.T) {
	ctrl := newTestController()
	cc := newTestChannel(t, ctrl, "")
	msg := connect(t, cc, false)

	data, flag, err := cc.HandleMessage([]byte(`{"type":"DISCONNECT","reason":"NETWORK_LOST"}`))
	if err != nil {
		t.Fatalf("DISCONNECT returned error: %v", err)
	}
	if data != nil || flag != FlagContinue {
		t.Errorf("transient disconnect reply = %s / flag %d", data, flag)
	}

	sess, err := ctrl.store.Get(context.Background(), msg.SessionKey)
	if err != nil {
		t.Fatalf("session gone after transient disconnect: %v", err)
	}
	if sess.Connected() {
		t.Errorf("session still mapped to connection %q", sess.ConnectionID)
	}
}

func TestStaleConnectionMessageIgnored(t *testing.T) {
	ctrl := newTestController()
	cc := newTestChannel(t, ctrl, "")
	msg := connect(t, cc, false)
	mustChangeState(t, cc, "WAITING")

	// Another connection claimed the session in the store, but this channel
	// has not processed its supersede yet.
	ctx := context.Background()
	if err := ctrl.store.MapConnection(ctx, "conn-newer", msg.SessionKey); err != nil {
		t.Fatalf("MapConnection: %v", err)
	}

	data, flag := requestState(t, cc, "RECORDING")
	if data != nil || flag != FlagContinue {
		t.Errorf("stale message produced a reply: %s / flag %d", data, flag)
	}

	sess, _ := ctrl.store.Get(ctx, msg.SessionKey)
	if sess.FlowState != callflow.StateWaiting {
		t.Errorf("stale message changed state to %s", sess.FlowState)
	}
}

func TestReleaseChannelAbnormalDetaches(t *testing.T) {
	ctrl := newTestController()
	cc := newTestChannel(t, ctrl, "")
	msg := connect(t, cc, false)

	ctrl.ReleaseChannel(cc, false)

	if _, ok := ctrl.registry.Lookup(cc.ConnectionID()); ok {
		t.Error("connection still registered after release")
	}

	sess, err := ctrl.store.Get(context.Background(), msg.SessionKey)
	if err != nil {
		t.Fatalf("session deleted on abnormal close: %v", err)
	}
	if sess.Connected() {
		t.Errorf("session still mapped after abnormal close: %q", sess.ConnectionID)
	}
}

func TestReleaseChannelGracefulDeletes(t *testing.T) {
	ctrl := newTestController()
	cc := newTestChannel(t, ctrl, "")
	msg := connect(t, cc, false)

	ctrl.ReleaseChannel(cc, true)

	if _, err := ctrl.store.Get(context.Background(), msg.SessionKey); err != store.ErrNotFound {
		t.Errorf("session survived graceful close: %v", err)
	}
}

func TestConnectGraceClosesIdleChannel(t *testing.T) {
	ctrl := newTestController()
	cc := newTestChannel(t, ctrl, "")

	cc.enforceConnectGrace()

	select {
	case out := <-cc.driver.Outbox:
		if out.Flag != FlagCloseGracefully {
			t.Errorf("outbox flag = %d, want FlagCloseGracefully", out.Flag)
		}
	default:
		t.Error("idle channel was not closed after the grace period")
	}
}

func TestConnectGraceSparesAttachedChannel(t *testing.T) {
	ctrl := newTestController()
	cc := newTestChannel(t, ctrl, "")
	connect(t, cc, false)

	// The watchdog may fire even though CONNECT was handled, e.g. when its
	// non-blocking notification got lost. The attached connection must stay
	// open.
	cc.enforceConnectGrace()

	select {
	case out := <-cc.driver.Outbox:
		t.Errorf("attached channel was closed by the grace watchdog (flag=%d)", out.Flag)
	default:
	}
}

func TestReleaseChannelBeforeConnect(t *testing.T) {
	ctrl := newTestController()
	cc := newTestChannel(t, ctrl, "")

	// Nothing attached, nothing to release; must not panic or touch the
	// store.
	ctrl.ReleaseChannel(cc, false)

	if count := ctrl.registry.Count(); count != 0 {
		t.Errorf("registry count = %d, want 0", count)
	}
}

func TestSendToSession(t *testing.T) {
	ctrl := newTestController()
	cc := newTestChannel(t, ctrl, "")
	msg := connect(t, cc, false)

	ctx := context.Background()
	if !ctrl.SendToSession(ctx, msg.SessionKey, []byte(`{"type":"HEARTBEAT"}`)) {
		t.Error("send to connected session failed")
	}
	select {
	case out := <-cc.driver.Outbox:
		if out.Flag != FlagContinue || len(out.Data) == 0 {
			t.Errorf("unexpected outbox message: %+v", out)
		}
	default:
		t.Error("nothing queued on the connection")
	}

	if ctrl.SendToSession(ctx, "call_0_missing", []byte(`{}`)) {
		t.Error("send to unknown session succeeded")
	}

	if err := ctrl.store.UnmapConnection(ctx, cc.ConnectionID()); err != nil {
		t.Fatalf("UnmapConnection: %v", err)
	}
	if ctrl.SendToSession(ctx, msg.SessionKey, []byte(`{}`)) {
		t.Error("send to detached session succeeded")
	}
}
