package ws

import (
	"sync"
	"time"

	"github.com/fathima-sithara/realtime-chat/internal/metrics"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type clientOptions struct {
	pingInterval time.Duration
	writeWait    time.Duration
	readLimit    int64
	sendBuffer   int
	ratePerSec   int
}

// Client is one live websocket connection. It satisfies hub.Conn.
type Client struct {
	id      string
	ws      *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	limiter *rate.Limiter
	opts    clientOptions
	metrics *metrics.Metrics
	log     *zap.SugaredLogger
}

func newClient(id string, conn *websocket.Conn, opts clientOptions, m *metrics.Metrics, log *zap.SugaredLogger) *Client {
	return &Client{
		id:      id,
		ws:      conn,
		send:    make(chan []byte, opts.sendBuffer),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(opts.ratePerSec), opts.ratePerSec),
		opts:    opts,
		metrics: m,
		log:     log,
	}
}

func (c *Client) ID() string { return c.id }

// Send queues a frame without blocking. It reports false when the queue is
// full or the client is closed.
func (c *Client) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// readPump blocks reading frames until the peer goes away, passing each
// frame that clears the rate limiter to handle.
func (c *Client) readPump(handle func([]byte)) {
	defer c.close()

	pongWait := 2 * c.opts.pingInterval
	c.ws.SetReadLimit(c.opts.readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debugw("read", "conn", c.id, "err", err)
			}
			return
		}
		if !c.limiter.Allow() {
			if c.metrics != nil {
				c.metrics.InboundEvents.WithLabelValues("any", "rate_limited").Inc()
			}
			continue
		}
		handle(data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.writeWait)); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		}
	}
}
