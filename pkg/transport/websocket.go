// Package transport connects websocket clients to the broadcast hub and
// forwards their commands to the simulation.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ethpandaops/kpisim/pkg/broadcast"
	"github.com/ethpandaops/kpisim/pkg/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// CommandHandler executes an inbound command envelope.
type CommandHandler interface {
	HandleMessage(ctx context.Context, data []byte) error
}

// StatusFunc returns the greeting sent to every new subscriber.
type StatusFunc func() any

// Config holds websocket transport configuration
type Config struct {
	// CommandRate is the sustained number of commands per second per connection.
	CommandRate float64
	// CommandBurst is the number of commands a connection may send at once.
	CommandBurst int
}

// Handler upgrades HTTP requests and runs one subscriber per connection.
type Handler struct {
	log      logrus.FieldLogger
	hub      *broadcast.Hub
	commands CommandHandler
	status   StatusFunc
	config   Config
	upgrader websocket.Upgrader
	ctx      context.Context

	mu    sync.Mutex
	conns map[*conn]struct{}
}

// NewHandler creates a websocket handler. Commands run with ctx.
func NewHandler(ctx context.Context, log logrus.FieldLogger, hub *broadcast.Hub, commands CommandHandler, status StatusFunc, cfg Config) *Handler {
	return &Handler{
		log:      log.WithField("component", "transport"),
		hub:      hub,
		commands: commands,
		status:   status,
		config:   cfg,
		ctx:      ctx,
		conns:    make(map[*conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("Websocket upgrade failed")

		return
	}

	c := newConn(h, ws)

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.conns, c)
		h.mu.Unlock()
	}()

	c.run()
}

// Close disconnects every open connection.
func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.conns {
		_ = c.ws.Close()
	}
}

type outbound struct {
	payload []byte
	done    func(error)
}

// conn owns one websocket and its subscriber. It implements broadcast.Sender.
type conn struct {
	log     logrus.FieldLogger
	handler *Handler
	ws      *websocket.Conn
	sub     *broadcast.Subscriber
	limiter *rate.Limiter

	out       chan outbound
	closed    chan struct{}
	closeOnce sync.Once
}

func newConn(h *Handler, ws *websocket.Conn) *conn {
	id := uuid.NewString()

	c := &conn{
		log:     h.log.WithFields(logrus.Fields{"subscriber": id, "remote": ws.RemoteAddr().String()}),
		handler: h,
		ws:      ws,
		limiter: rate.NewLimiter(rate.Limit(h.config.CommandRate), h.config.CommandBurst),
		out:     make(chan outbound, 1),
		closed:  make(chan struct{}),
	}

	c.sub = broadcast.NewSubscriber(h.log, id, c)

	return c
}

// Send queues payload for the writer goroutine. done is called once the frame
// is written or the connection is gone.
func (c *conn) Send(payload []byte, done func(error)) {
	select {
	case c.out <- outbound{payload: payload, done: done}:
	case <-c.closed:
		done(broadcast.ErrClosed)
	}
}

func (c *conn) run() {
	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()
		c.writeLoop()
	}()

	c.handler.hub.Register(c.sub)
	c.log.Info("Subscriber connected")

	if c.handler.status != nil {
		if data, err := json.Marshal(c.handler.status()); err == nil {
			c.sub.Enqueue(data)
		}
	}

	c.readLoop()

	c.handler.hub.Unregister(c.sub)
	c.sub.Close()
	c.shutdown()
	wg.Wait()

	_ = c.ws.Close()

	c.log.Info("Subscriber disconnected")
}

func (c *conn) shutdown() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *conn) readLoop() {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Debug("Websocket read failed")
			}

			return
		}

		if kind != websocket.TextMessage {
			continue
		}

		if !c.limiter.Allow() {
			c.log.Warn("Command rate exceeded, dropping command")
			observability.RecordCommand("invalid", "rate_limited")

			continue
		}

		// Failures are logged by the handler and never close the connection.
		_ = c.handler.commands.HandleMessage(c.handler.ctx, data)
	}
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	defer func() {
		// Pending sends complete with an error so the subscriber drops its queue.
		for {
			select {
			case msg := <-c.out:
				msg.done(broadcast.ErrClosed)
			default:
				return
			}
		}
	}()

	for {
		select {
		case <-c.closed:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))

			return
		case msg := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.ws.WriteMessage(websocket.TextMessage, msg.payload)
			msg.done(err)

			if err != nil {
				c.log.WithError(err).Debug("Websocket write failed")
				_ = c.ws.Close()

				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.ws.Close()

				return
			}
		}
	}
}
