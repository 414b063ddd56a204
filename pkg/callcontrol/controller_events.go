package callcontrol

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/memovia/callkeeper/pkg/callcontrol/message"
	"github.com/memovia/callkeeper/pkg/callcontrol/proto"
	"github.com/memovia/callkeeper/pkg/callflow"
	"github.com/memovia/callkeeper/pkg/model"
)

// requestProcessing hands a recorded clip over to the AI/media pipeline.
// The result arrives asynchronously on the responses subject.
func (ctrl *Controller) requestProcessing(sess *model.Session, filePath string) error {
	if ctrl.nc == nil {
		return fmt.Errorf("callcontrol: connection to nats is missing")
	}

	req := message.ProcessRequest{
		SessionKey:  sess.SessionKey,
		SubjectID:   sess.SubjectID,
		ContactName: sess.ContactName,
		FilePath:    filePath,
	}

	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	subj := fmt.Sprintf("memovia.callcontrol.v1.%s.process", ctrl.namespace)
	return ctrl.nc.Publish(subj, data)
}

// handleProcessResult forwards a finished response video to the client, if
// one is still attached. A disconnected client learns the outcome on
// reconnect via the session record.
func (ctrl *Controller) handleProcessResult(msg *nats.Msg) error {
	ctx := context.Background()

	result := message.ProcessResult{}
	if err := json.Unmarshal(msg.Data, &result); err != nil {
		return err
	}

	sess, err := ctrl.store.Get(ctx, result.SessionKey)
	if err != nil {
		// The session may have expired while the pipeline was busy.
		log.Warnf("controller dropped pipeline result for unknown session '%s'", result.SessionKey)
		return nil
	}

	if result.Status == message.ReplyStatusError {
		log.Errorf("controller received pipeline failure for session '%s': %s", sess.SessionKey, result.ErrorReason)
		if err := sess.SetState(callflow.StateWaiting); err != nil {
			return err
		}
		if err := ctrl.store.Save(ctx, sess); err != nil {
			return err
		}
		out, err := proto.MarshalNewErrorMessage(proto.ErrCodeTechnicalException, "response processing failed")
		if err != nil {
			return err
		}
		ctrl.SendToSession(ctx, sess.SessionKey, out)
		return nil
	}

	if err := sess.SetState(callflow.StateResponsePlaying); err != nil {
		return err
	}
	sess.ResponseMediaURL = result.VideoURL
	if err := ctrl.store.Save(ctx, sess); err != nil {
		return err
	}

	out, err := proto.MarshalNewResponseVideoMessage(sess.SessionKey, result.VideoURL, sess.ContactName)
	if err != nil {
		return err
	}

	if !ctrl.SendToSession(ctx, sess.SessionKey, out) {
		log.Infof("controller could not deliver response video for session '%s', client is detached", sess.SessionKey)
	}

	return nil
}

// publishCallStatus announces a session lifecycle change on the events
// subject. Failures are logged, never propagated; status events are
// best-effort.
func (ctrl *Controller) publishCallStatus(sess *model.Session, status string) {
	if ctrl.nc == nil {
		return
	}

	event := message.CallStatusEvent{
		SessionKey:     sess.SessionKey,
		SubjectID:      sess.SubjectID,
		Status:         status,
		FlowState:      sess.FlowState.String(),
		ReconnectCount: sess.ReconnectCount,
		Timestamp:      model.Now(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Errorf("controller could not marshal call status event: %v", err)
		return
	}

	subj := fmt.Sprintf("memovia.callcontrol.v1.%s.events.callstatus", ctrl.namespace)
	if err := ctrl.nc.Publish(subj, data); err != nil {
		log.Errorf("controller could not publish call status: %v", err)
	}
}
