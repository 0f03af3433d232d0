package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"cocode/awareness"
	"cocode/crdt"
	"cocode/pkg/logger"
	"cocode/protocol"
)

// Status is the provider's connection state.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Provider maintains one replica's connection to a room: it runs the sync
// handshake, dispatches relayed frames to the document and awareness engines,
// publishes local changes, and reconnects with exponential backoff after a
// drop. Document and awareness merges are synchronous; the network is the
// only asynchronous boundary.
type Provider struct {
	serverURL string
	room      string
	doc       *crdt.Doc
	aw        *awareness.Awareness

	mu       sync.Mutex
	conn     *websocket.Conn
	status   Status
	onStatus []func(Status)
	closed   chan struct{}
	once     sync.Once
}

// NewProvider wires a provider to a document and awareness engine. Connect
// must be called to start it.
func NewProvider(serverURL, room string, doc *crdt.Doc, aw *awareness.Awareness) *Provider {
	return &Provider{
		serverURL: serverURL,
		room:      room,
		doc:       doc,
		aw:        aw,
		status:    StatusDisconnected,
		closed:    make(chan struct{}),
	}
}

// OnStatus registers a connection status listener.
func (p *Provider) OnStatus(fn func(Status)) {
	p.mu.Lock()
	p.onStatus = append(p.onStatus, fn)
	p.mu.Unlock()
}

// Status returns the current connection state.
func (p *Provider) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Connect starts the connection loop and the awareness staleness sweeper.
func (p *Provider) Connect() {
	go p.run()
	go p.sweepLoop()
}

// Close tears the session down. Peers learn of the departure from the
// transport closing; there is no explicit leave message.
func (p *Provider) Close() {
	p.once.Do(func() { close(p.closed) })
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	p.aw.Clear()
	p.setStatus(StatusDisconnected)
}

// BroadcastOps publishes local document operations. Best effort: while
// disconnected the ops stay in the local log and the next sync handshake
// delivers them.
func (p *Provider) BroadcastOps(ops []crdt.Op) {
	if len(ops) == 0 {
		return
	}
	p.write(protocol.Update(ops))
}

// BroadcastAwareness implements awareness.Broadcaster.
func (p *Provider) BroadcastAwareness(update awareness.Update) {
	p.write(protocol.Awareness(update))
}

func (p *Provider) run() {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0 // retry until Close

	for {
		select {
		case <-p.closed:
			return
		default:
		}

		p.setStatus(StatusConnecting)
		conn, _, err := websocket.DefaultDialer.Dial(p.dialURL(), nil)
		if err != nil {
			logger.Sugar.Warnf("Dial %s failed: %v", p.dialURL(), err)
			p.setStatus(StatusDisconnected)
			select {
			case <-p.closed:
				return
			case <-time.After(policy.NextBackOff()):
			}
			continue
		}
		policy.Reset()

		p.mu.Lock()
		p.conn = conn
		p.mu.Unlock()
		p.setStatus(StatusConnected)

		// Opening exchange: ask peers for what we are missing and
		// re-announce our presence record.
		p.write(protocol.SyncStep1(p.doc.StateVector()))
		p.write(protocol.Awareness(p.aw.LocalUpdate()))

		p.readLoop(conn)

		p.mu.Lock()
		if p.conn == conn {
			p.conn = nil
		}
		p.mu.Unlock()
		conn.Close()
		p.setStatus(StatusDisconnected)
	}
}

func (p *Provider) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			// Unrecognized frames are dropped; they must never corrupt
			// a well-behaved replica.
			logger.Sugar.Warnf("Dropping malformed frame: %v", err)
			continue
		}
		p.dispatch(msg)
	}
}

func (p *Provider) dispatch(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeSyncStep1:
		// A peer announced its state vector: answer with exactly the
		// operations it is missing, plus our own vector so it can send
		// the reverse delta. Step 1 also means a fresh join, so re-announce
		// our presence record — the relay keeps no awareness state to
		// hand out.
		missing := p.doc.OpsSince(msg.StateVector)
		p.write(protocol.SyncStep2(missing, p.doc.StateVector()))
		p.write(protocol.Awareness(p.aw.LocalUpdate()))

	case protocol.TypeSyncStep2:
		p.doc.ApplyAll(msg.Ops)
		if msg.StateVector != nil {
			if back := p.doc.OpsSince(msg.StateVector); len(back) > 0 {
				p.write(protocol.Update(back))
			}
		}

	case protocol.TypeUpdate:
		p.doc.ApplyAll(msg.Ops)

	case protocol.TypeAwareness:
		for _, update := range msg.Awareness {
			p.aw.ApplyUpdate(update)
		}

	default:
		logger.Sugar.Debugf("Dropping frame with unknown type %q", msg.Type)
	}
}

func (p *Provider) write(msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		logger.Sugar.Errorf("Encode frame: %v", err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return
	}
	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		logger.Sugar.Warnf("Write failed: %v", err)
	}
}

func (p *Provider) sweepLoop() {
	interval := p.aw.Timeout / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.closed:
			return
		case <-ticker.C:
			if evicted := p.aw.Sweep(); len(evicted) > 0 {
				logger.Sugar.Infof("Evicted stale collaborators: %v", evicted)
			}
		}
	}
}

func (p *Provider) dialURL() string {
	return fmt.Sprintf("%s/ws/%s", p.serverURL, p.room)
}

func (p *Provider) setStatus(s Status) {
	p.mu.Lock()
	if p.status == s {
		p.mu.Unlock()
		return
	}
	p.status = s
	listeners := make([]func(Status), len(p.onStatus))
	copy(listeners, p.onStatus)
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}
