package websocket

import (
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	log "github.com/sirupsen/logrus"
)

type Flag int

const (
	FlagContinue Flag = iota
	FlagCloseGracefully
	FlagTerminate
)

type OutboxMessage struct {
	Flag Flag
	Data []byte
}

type InboxMessage struct {
	Data []byte
}

// Driver pumps frames between a raw websocket connection and the Inbox and
// Outbox channels. It records whether the peer closed the connection with a
// proper close frame, which the session layer uses to distinguish a hang-up
// from a dropped network.
type Driver struct {
	conn   net.Conn
	Inbox  chan *InboxMessage
	Outbox chan *OutboxMessage

	terminateCh    chan<- struct{}
	terminatedOnce sync.Once

	stopCh   chan struct{}
	stopOnce sync.Once

	graceful atomic.Bool

	wg sync.WaitGroup
}

func NewDriver(conn net.Conn, terminateCh chan<- struct{}) *Driver {
	return &Driver{
		conn:        conn,
		Inbox:       make(chan *InboxMessage, 100),
		Outbox:      make(chan *OutboxMessage, 100),
		terminateCh: terminateCh,
		stopCh:      make(chan struct{}),
	}
}

func (driver *Driver) Start() {
	driver.wg.Add(1)
	go driver.inboxHandler()
	driver.wg.Add(1)
	go driver.outboxHandler()
}

func (driver *Driver) Close() {
	driver.wg.Wait()
	log.Debug("websocket driver closed")
}

func (driver *Driver) Stop() {
	log.Debug("websocket driver stop called")
	driver.safeCloseTerminateChannel()
}

// ClosedGracefully reports whether the client sent a close frame before the
// connection went away.
func (driver *Driver) ClosedGracefully() bool {
	return driver.graceful.Load()
}

func (driver *Driver) closeHandler() {
	defer driver.wg.Done()
	driver.safeCloseTerminateChannel()
	driver.safeCloseStopChannel()
}

func (driver *Driver) safeCloseTerminateChannel() {
	driver.terminatedOnce.Do(func() {
		close(driver.terminateCh)
	})
}

func (driver *Driver) safeCloseStopChannel() {
	driver.stopOnce.Do(func() {
		close(driver.stopCh)
	})
}

func (driver *Driver) inboxHandler() {
	defer driver.closeHandler()

	state := ws.StateServerSide
	ch := wsutil.ControlFrameHandler(driver.conn, state)

	r := &wsutil.Reader{
		Source:         driver.conn,
		State:          state,
		CheckUTF8:      true,
		OnIntermediate: ch,
	}

	for {
		h, err := r.NextFrame()
		if err != nil {
			// Read errors at this point mean the transport is gone
			// without a close handshake.
			log.Errorf("websocket read message error: %v", err)
			return
		}

		if h.OpCode.IsControl() {
			if h.OpCode == ws.OpClose {
				log.Info("websocket connection closed gracefully")
				driver.graceful.Store(true)
				return
			}

			if err = ch(h, r); err != nil {
				log.Errorf("websocket handles control frame error: %v", err)
				return
			}
			continue
		}

		req, err := io.ReadAll(r)
		if err != nil {
			log.Errorf("websocket read error: %v", err)
			return
		}

		driver.Inbox <- NewInboxMessage(req)
	}
}

func (driver *Driver) outboxHandler() {
	defer driver.closeHandler()

	state := ws.StateServerSide
	w := wsutil.NewWriter(driver.conn, state, 0)

	for {
		select {
		case res := <-driver.Outbox:
			if len(res.Data) > 0 {
				if err := webSocketWriteText(driver.conn, w, state, res.Data); err != nil {
					log.Errorf("websocket terminates because of write error: %s", err.Error())
					return
				}
			}

			switch res.Flag {
			case FlagCloseGracefully:
				log.Info("websocket handled outbox message but closes gracefully")
				if err := webSocketCloseGraceful(driver.conn, w, state); err != nil {
					log.Errorf("websocket close error: %s", err.Error())
				}
				return
			case FlagTerminate:
				log.Info("websocket handled outbox message but terminates")
				return
			}
		case <-driver.stopCh:
			return
		}
	}
}

func webSocketWriteText(conn net.Conn, w *wsutil.Writer, state ws.State, data []byte) error {
	w.Reset(conn, state, ws.OpText)
	if _, err := w.Write(data); err != nil {
		return err
	}
	return w.Flush()
}

func webSocketCloseGraceful(conn net.Conn, w *wsutil.Writer, state ws.State) error {
	log.Info("websocket graceful close initiated")

	w.Reset(conn, state, ws.OpClose)
	if _, err := w.Write([]byte("")); err != nil {
		return err
	}
	return w.Flush()
}

func NewOutboxMessage(flag Flag, data []byte) *OutboxMessage {
	m := &OutboxMessage{
		Flag: flag,
	}
	if data != nil {
		m.Data = make([]byte, len(data))
		copy(m.Data, data)
	}
	return m
}

func NewInboxMessage(data []byte) *InboxMessage {
	m := &InboxMessage{}
	if data != nil {
		m.Data = make([]byte, len(data))
		copy(m.Data, data)
	}
	return m
}
