package socket

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
)

// tcpSocket is the default MTProto backend: a plain net.Conn with a
// background reader goroutine feeding the shared event channel. Framing and
// obfuscation live above this layer; tcpSocket only moves bytes.
type tcpSocket struct {
	conn net.Conn

	events chan Event

	closeMu sync.Mutex
	closed  bool

	writeMu sync.Mutex
}

func dialTCP(ctx context.Context, addr string) (Socket, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("socket: dial tcp %s: %w", addr, err)
	}
	s := &tcpSocket{
		conn:   conn,
		events: make(chan Event, eventQueueSize),
	}
	go s.readLoop()
	return s, nil
}

func (s *tcpSocket) readLoop() {
	buf := make([]byte, readBufferSize)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.publish(Event{Kind: EventReceivedData, Data: data})
		}
		if err != nil {
			s.closeMu.Lock()
			intercepted := s.closed
			s.closeMu.Unlock()
			if intercepted {
				s.publish(Event{Kind: EventIntercepted})
			} else if err != io.EOF {
				s.publish(Event{Kind: EventSocketError, Err: err})
			} else {
				s.publish(Event{Kind: EventSocketError, Err: io.EOF})
			}
			close(s.events)
			return
		}
	}
}

// publish is the reader task's only way to hand an event to the outside
// world: a non-blocking send that drops the event if the consumer has
// fallen behind, so a slow reader never stalls the socket.
func (s *tcpSocket) publish(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}

func (s *tcpSocket) Send(ctx context.Context, buf []byte) error {
	s.closeMu.Lock()
	closed := s.closed
	s.closeMu.Unlock()
	if closed {
		return ErrIntercepted
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	for len(buf) > 0 {
		n, err := s.conn.Write(buf)
		if err != nil {
			return fmt.Errorf("socket: tcp write: %w", err)
		}
		buf = buf[n:]
	}
	return nil
}

func (s *tcpSocket) Receiver() <-chan Event { return s.events }

func (s *tcpSocket) Close() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	s.closeMu.Unlock()

	if tc, ok := s.conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}
	return s.conn.Close()
}

func (s *tcpSocket) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}
