package callcontrol

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/memovia/callkeeper/pkg/callcontrol/proto"
)

// MonitorConfig carries the three loop periods. Zero values fall back to
// the reference defaults.
type MonitorConfig struct {
	HeartbeatInterval time.Duration
	SweepInterval     time.Duration
	SnapshotInterval  time.Duration
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 10 * time.Minute
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = 5 * time.Minute
	}
	return c
}

// Monitor is the periodic background task: it pings connected sessions
// (renewing their TTL), purges expired ones and logs aggregate statistics.
type Monitor struct {
	ctrl   *Controller
	cfg    MonitorConfig
	stopCh chan struct{}
	doneCh chan struct{}
}

func NewMonitor(ctrl *Controller, cfg MonitorConfig) *Monitor {
	return &Monitor{
		ctrl:   ctrl,
		cfg:    cfg.withDefaults(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

func (m *Monitor) Start() {
	go m.run()
}

func (m *Monitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *Monitor) run() {
	defer close(m.doneCh)

	heartbeat := time.NewTicker(m.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	sweep := time.NewTicker(m.cfg.SweepInterval)
	defer sweep.Stop()
	snapshot := time.NewTicker(m.cfg.SnapshotInterval)
	defer snapshot.Stop()

	log.Info("monitor loop started")

	for {
		select {
		case <-heartbeat.C:
			m.broadcastHeartbeats()
		case <-sweep.C:
			m.sweepExpired()
		case <-snapshot.C:
			m.logSnapshot()
		case <-m.stopCh:
			log.Info("monitor loop stopped")
			return
		}
	}
}

// broadcastHeartbeats sends a HEARTBEAT to every connected session and
// renews its TTL. A failure for one session never aborts the others: the
// session is detached and the loop moves on.
func (m *Monitor) broadcastHeartbeats() {
	ctx := context.Background()

	sessions, err := m.ctrl.store.ListActive(ctx)
	if err != nil {
		log.Errorf("monitor could not list sessions for heartbeat: %v", err)
		return
	}

	for i := range sessions {
		sess := &sessions[i]
		if !sess.Connected() {
			continue
		}

		out, err := proto.MarshalNewHeartbeatMessage(sess, m.ctrl.store.TTL())
		if err != nil {
			log.Errorf("monitor could not marshal heartbeat for session '%s': %v", sess.SessionKey, err)
			continue
		}

		if !m.ctrl.SendToSession(ctx, sess.SessionKey, out) {
			log.Warnf("monitor detaches session '%s', heartbeat delivery failed", sess.SessionKey)
			if err := m.ctrl.store.UnmapConnection(ctx, sess.ConnectionID); err != nil {
				log.Errorf("monitor could not unmap connection '%s': %v", sess.ConnectionID, err)
			}
			continue
		}

		if _, err := m.ctrl.store.ExtendTTL(ctx, sess.SessionKey); err != nil {
			log.Errorf("monitor could not renew session '%s': %v", sess.SessionKey, err)
		}
	}
}

func (m *Monitor) sweepExpired() {
	count, err := m.ctrl.store.SweepExpired(context.Background())
	if err != nil {
		log.Errorf("monitor sweep failed: %v", err)
		return
	}
	if count > 0 {
		log.Infof("monitor sweep removed %d expired sessions", count)
	}
}

// logSnapshot computes aggregate counts and flags drift between the live
// connection registry and the store's connected-session bookkeeping.
func (m *Monitor) logSnapshot() {
	sessions, err := m.ctrl.store.ListActive(context.Background())
	if err != nil {
		log.Errorf("monitor could not list sessions for snapshot: %v", err)
		return
	}

	connected := 0
	byState := make(map[string]int)
	for i := range sessions {
		if sessions[i].Connected() {
			connected++
		}
		byState[sessions[i].FlowState.String()]++
	}

	live := m.ctrl.registry.Count()

	log.WithFields(log.Fields{
		"total":     len(sessions),
		"connected": connected,
		"live":      live,
		"by_state":  byState,
	}).Info("monitor session snapshot")

	if live != connected {
		log.Warnf("monitor detected bookkeeping drift: %d live connections vs %d connected sessions", live, connected)
	}
}
