package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/marginalia/quill/go/ot"
)

// WsConnection is a long-lived connection carrying many calls and
// server pushes. Calls to one target dispatch in submission order;
// calls to distinct targets interleave.
type WsConnection struct {
	server *Server
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	outbox chan Response
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	queues map[string]chan Request
	wg     sync.WaitGroup
}

// serveWs upgrades to a websocket and runs the connection until either
// side closes it.
func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	if ok, reason := s.admit(); !ok {
		http.Error(w, reason, http.StatusServiceUnavailable)
		return
	}

	var conn, err = s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithField("err", err).Warn("websocket upgrade failed")
		return
	}

	var ctx, cancel = context.WithCancel(context.Background())
	var c = &WsConnection{
		server: s,
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		outbox: make(chan Response, 64),
		closed: make(chan struct{}),
		queues: make(map[string]chan Request),
	}
	s.track(c)
	defer s.untrack(c)

	go c.writeLoop()
	c.readLoop()
	c.shutdown()
	c.wg.Wait()
}

// Push delivers a server-initiated notification. It satisfies Pusher.
func (c *WsConnection) Push(targetID string, payload any) error {
	var resp = okResponse("", payload)
	resp.PushFrom = targetID
	select {
	case c.outbox <- resp:
		return nil
	case <-c.closed:
		return ot.BadUsef("connection is closed")
	}
}

// Closed resolves when the connection is gone. It satisfies Pusher.
func (c *WsConnection) Closed() <-chan struct{} { return c.closed }

// Close asks the peer to go away and tears the connection down. Used
// by the shutdown drain.
func (c *WsConnection) Close() {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server is draining"), closeDeadline())
	c.shutdown()
}

func (c *WsConnection) shutdown() {
	c.once.Do(func() {
		close(c.closed)
		c.cancel()
		_ = c.conn.Close()
	})
}

// readLoop decodes request envelopes and fans them out to per-target
// dispatch queues, preserving submission order within each target.
func (c *WsConnection) readLoop() {
	for {
		var _, data, err = c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithField("err", err).Warn("websocket read failed")
			}
			return
		}

		var req Request
		if err = json.Unmarshal(data, &req); err != nil {
			c.respond(errResponse("", ot.BadValuef("malformed request envelope: %v", err)))
			continue
		}
		c.enqueue(req)
	}
}

// enqueue routes req to its target's queue, starting a queue worker on
// first use.
func (c *WsConnection) enqueue(req Request) {
	c.mu.Lock()
	var queue, ok = c.queues[req.TargetID]
	if !ok {
		queue = make(chan Request, 16)
		c.queues[req.TargetID] = queue
		c.wg.Add(1)
		go c.dispatchLoop(queue)
	}
	c.mu.Unlock()

	select {
	case queue <- req:
	case <-c.closed:
	}
}

func (c *WsConnection) dispatchLoop(queue chan Request) {
	defer c.wg.Done()
	for {
		select {
		case req := <-queue:
			c.respond(c.server.dispatcher.Dispatch(c.ctx, req, c))
		case <-c.closed:
			return
		}
	}
}

func (c *WsConnection) respond(resp Response) {
	select {
	case c.outbox <- resp:
	case <-c.closed:
	}
}

func (c *WsConnection) writeLoop() {
	for {
		select {
		case resp := <-c.outbox:
			if err := c.conn.WriteJSON(resp); err != nil {
				log.WithField("err", err).Warn("websocket write failed")
				c.shutdown()
				return
			}
		case <-c.closed:
			return
		}
	}
}
