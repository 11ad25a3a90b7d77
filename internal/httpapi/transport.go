package httpapi

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jmverd/switchboard/internal/observability"
	"github.com/jmverd/switchboard/internal/protocol"
)

const (
	readIdleTimeout = 120 * time.Second
	writeTimeout    = 10 * time.Second
)

var timeNow = time.Now

var (
	errTransportClosed = errors.New("transport closed")
	errQueueFull       = errors.New("outbound queue full")
)

// wsTransport is the registry-facing write side of one websocket. All writes
// funnel through a single goroutine; WriteJSON only enqueues, and drops when
// the queue is saturated rather than blocking a publisher.
type wsTransport struct {
	conn     *websocket.Conn
	outbound chan any
	done     chan struct{}
	once     sync.Once
	metrics  *observability.Metrics
}

func newWSTransport(conn *websocket.Conn, queueSize int, metrics *observability.Metrics) *wsTransport {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &wsTransport{
		conn:     conn,
		outbound: make(chan any, queueSize),
		done:     make(chan struct{}),
		metrics:  metrics,
	}
}

func (t *wsTransport) WriteJSON(v any) error {
	select {
	case <-t.done:
		return errTransportClosed
	default:
	}
	select {
	case t.outbound <- v:
		return nil
	default:
		t.metrics.DeliveryFailures.WithLabelValues("queue_full").Inc()
		return errQueueFull
	}
}

func (t *wsTransport) Close() error {
	t.once.Do(func() { close(t.done) })
	return t.conn.Close()
}

func (t *wsTransport) writeLoop() {
	for {
		select {
		case <-t.done:
			return
		case msg := <-t.outbound:
			_ = t.conn.SetWriteDeadline(timeNow().Add(writeTimeout))
			if err := t.conn.WriteJSON(msg); err != nil {
				t.metrics.DeliveryFailures.WithLabelValues("ws_write").Inc()
				_ = t.Close()
				return
			}
			if mt, ok := protocol.TypeOf(msg); ok {
				t.metrics.WSMessages.WithLabelValues("outbound", string(mt)).Inc()
			}
		}
	}
}
