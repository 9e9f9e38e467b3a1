package socket

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsPingInterval is how often wsSocket sends a WS-layer control ping,
// independent of MTProto's own PingDelayDisconnect keepalive above it: per
// SPEC_FULL.md D1, obfuscation is mandatory on this backend, so the WS ping
// frame is the only signal available to a passive observer and must look
// like ordinary WS traffic.
const wsPingInterval = 20 * time.Second

// wsSocket carries MTProto's framed, obfuscated byte stream inside WS
// binary frames — one MTProto frame (already packed by shared/transport)
// per WS message is not required; the wire bytes are treated as an opaque
// stream and rechunked by the reader the same way a TCP socket would be.
type wsSocket struct {
	conn *websocket.Conn

	events chan Event

	closeMu sync.Mutex
	closed  bool

	writeMu sync.Mutex
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func dialWS(ctx context.Context, addr string) (Socket, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("socket: ws addr %s: %w", addr, err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("socket: ws dial %s: %w", addr, err)
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &wsSocket{
		conn:   conn,
		events: make(chan Event, eventQueueSize),
		ctx:    sctx,
		cancel: cancel,
	}
	s.wg.Add(2)
	go s.readLoop()
	go s.pingLoop()
	return s, nil
}

func (s *wsSocket) readLoop() {
	defer s.wg.Done()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.closeMu.Lock()
			intercepted := s.closed
			s.closeMu.Unlock()
			if intercepted {
				s.publish(Event{Kind: EventIntercepted})
			} else {
				s.publish(Event{Kind: EventSocketError, Err: err})
			}
			close(s.events)
			return
		}
		s.publish(Event{Kind: EventReceivedData, Data: data})
	}
}

func (s *wsSocket) pingLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *wsSocket) publish(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}

func (s *wsSocket) Send(ctx context.Context, buf []byte) error {
	s.closeMu.Lock()
	closed := s.closed
	s.closeMu.Unlock()
	if closed {
		return ErrIntercepted
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, buf); err != nil {
		return fmt.Errorf("socket: ws write: %w", err)
	}
	return nil
}

func (s *wsSocket) Receiver() <-chan Event { return s.events }

func (s *wsSocket) Close() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	s.closeMu.Unlock()

	s.cancel()
	s.writeMu.Lock()
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing")
	_ = s.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
	s.writeMu.Unlock()
	return s.conn.Close()
}

func (s *wsSocket) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}
