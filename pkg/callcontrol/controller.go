package callcontrol

import (
	"context"
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/memovia/callkeeper/pkg/callcontrol/message"
	"github.com/memovia/callkeeper/pkg/callcontrol/websocket"
	"github.com/memovia/callkeeper/pkg/store"
)

// Controller is the only component that mutates sessions in response to
// external events. It owns the connection registry, talks to the session
// store and bridges the external AI/media pipeline over NATS.
type Controller struct {
	nc        *nats.Conn
	store     store.Interface
	registry  *Registry
	namespace string
}

func NewController(nc *nats.Conn, st store.Interface, registry *Registry, namespace string) *Controller {
	if namespace == "" {
		namespace = "default"
	}
	return &Controller{
		nc:        nc,
		store:     st,
		registry:  registry,
		namespace: namespace,
	}
}

// Registry exposes the live connection table for monitoring.
func (ctrl *Controller) Registry() *Registry {
	return ctrl.registry
}

// Store exposes the session store for monitoring and the admin API.
func (ctrl *Controller) Store() store.Interface {
	return ctrl.store
}

// Subscribe attaches the controller to the pipeline result subject. Results
// for any namespace are handled by a queue group so multiple instances share
// the load.
func (ctrl *Controller) Subscribe() error {
	if ctrl.nc == nil {
		return fmt.Errorf("callcontrol: connection to nats is missing")
	}

	subj := "memovia.callcontrol.v1.*.responses"
	queue := "memovia.callcontrol.v1.queue.responses"
	if _, err := ctrl.nc.QueueSubscribe(subj, queue, func(msg *nats.Msg) {
		if err := ctrl.handleProcessResult(msg); err != nil {
			log.Error("controller failed to handle pipeline result: ", err.Error())
		}
	}); err != nil {
		return err
	}

	return nil
}

// NewCallChannel creates the per-connection handler for an accepted
// websocket. sessionKey is the key extracted from the connection path, or
// empty when the client asked for a fresh session. A prior live connection
// attached to the same session is superseded before the new one registers.
func (ctrl *Controller) NewCallChannel(conn net.Conn, driver *websocket.Driver, sessionKey string) *CallChannel {
	connectionID := uuid.NewString()

	ctrl.supersedeConnection(sessionKey, connectionID)

	cc := &CallChannel{
		ctrl:         ctrl,
		conn:         conn,
		driver:       driver,
		status:       StatusEstablished,
		connectionID: connectionID,
		sessionKey:   sessionKey,
		stopCh:       make(chan struct{}),
		connectedCh:  make(chan bool),
	}

	ctrl.registry.Register(connectionID, cc)

	go cc.inboxWorker()

	// Ensure the client sends CONNECT within the grace period, otherwise
	// the connection is closed again.
	go cc.waitForConnectOrClose()

	return cc
}

// supersedeConnection closes the live connection currently attached to
// sessionKey, if any. The new connection always wins.
func (ctrl *Controller) supersedeConnection(sessionKey, newConnectionID string) {
	if sessionKey == "" {
		return
	}

	sess, err := ctrl.store.Get(context.Background(), sessionKey)
	if err != nil {
		return
	}
	if sess.ConnectionID == "" || sess.ConnectionID == newConnectionID {
		return
	}

	old, ok := ctrl.registry.Lookup(sess.ConnectionID)
	if !ok {
		return
	}

	log.Warnf("controller supersedes connection '%s' for session '%s'", sess.ConnectionID, sessionKey)
	old.Supersede()
}

// ReleaseChannel is called when the transport connection is gone, whatever
// the cause. A graceful close ends the session; an abnormal one leaves it
// alive so the client can reconnect.
func (ctrl *Controller) ReleaseChannel(cc *CallChannel, graceful bool) {
	ctx := context.Background()

	ctrl.registry.Unregister(cc.connectionID)

	cc.Lock()
	status := cc.status
	sessionKey := cc.sessionKey
	cc.Unlock()

	if status != StatusAttached {
		return
	}

	sess, err := ctrl.store.Get(ctx, sessionKey)
	if err != nil {
		return // expired or already removed, nothing left to release
	}

	if !graceful {
		// Flaky network: keep the session addressable for a reconnect.
		if err := ctrl.store.UnmapConnection(ctx, cc.connectionID); err != nil {
			log.Errorf("controller failed to unmap connection '%s': %v", cc.connectionID, err)
		}
		ctrl.publishCallStatus(sess, message.CallStatusDisconnected)
		log.Infof("controller detached session '%s' after abnormal close", sessionKey)
		return
	}

	if err := ctrl.store.Delete(ctx, sessionKey); err != nil && err != store.ErrNotFound {
		log.Errorf("controller failed to delete session '%s': %v", sessionKey, err)
		return
	}
	ctrl.publishCallStatus(sess, message.CallStatusEnded)
	log.Infof("controller removed session '%s' after graceful close", sessionKey)
}

// SendToSession delivers a raw protocol message to the connection currently
// attached to the session. The send is silently dropped if the session is
// unknown, detached, or the connection buffer is gone.
func (ctrl *Controller) SendToSession(ctx context.Context, sessionKey string, data []byte) bool {
	sess, err := ctrl.store.Get(ctx, sessionKey)
	if err != nil || sess.ConnectionID == "" {
		return false
	}

	cc, ok := ctrl.registry.Lookup(sess.ConnectionID)
	if !ok {
		return false
	}

	return cc.Send(data)
}
