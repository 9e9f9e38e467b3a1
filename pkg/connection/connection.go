// Package connection owns one Socket, one transport Framer, and one
// message-wrap layer, and drives the handshake and keepalive ping that sit
// on top of them. The unencrypted and encrypted halves of a connection's
// life are distinct Go types — UnencryptedConn and EncryptedConn — so that
// a connection that hasn't completed the key exchange cannot be handed an
// encrypted RPC by construction; the only way to get an EncryptedConn is
// UnencryptedConn.Handshake.
package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shadowmesh/mtclient/pkg/handshake"
	"github.com/shadowmesh/mtclient/pkg/session"
	"github.com/shadowmesh/mtclient/pkg/socket"
	"github.com/shadowmesh/mtclient/pkg/wrap"
	"github.com/shadowmesh/mtclient/shared/crypto"
	"github.com/shadowmesh/mtclient/shared/obfuscation"
	"github.com/shadowmesh/mtclient/shared/protocol"
	"github.com/shadowmesh/mtclient/shared/transport"
)

// PingDuration is how long a connection waits between keepalive pings.
// Release builds use the protocol's 19s default; test code can lower this
// via SetPingDuration to exercise the watchdog without a real 19s wait.
var PingDuration = 19 * time.Second

// SetPingDuration overrides PingDuration, for test code that needs a
// shorter keepalive than the release timer so it doesn't stall on a real
// 19s wait.
func SetPingDuration(d time.Duration) { PingDuration = d }

// ConnType tags what a connection to a datacenter is for. A datacenter owns
// at most one live connection per type; this client only ever opens Generic
// ones, and the tag appears in logs. It is not sent on the wire: the
// obfuscation header's DC field carries the datacenter id only.
type ConnType uint8

const (
	ConnGeneric ConnType = 1 << iota
	ConnDownload
	ConnUpload
	ConnPush
	ConnTemp
	ConnProxy
	ConnGenericMedia
)

func (t ConnType) String() string {
	switch t {
	case ConnGeneric:
		return "generic"
	case ConnDownload:
		return "download"
	case ConnUpload:
		return "upload"
	case ConnPush:
		return "push"
	case ConnTemp:
		return "temp"
	case ConnProxy:
		return "proxy"
	case ConnGenericMedia:
		return "generic_media"
	default:
		return "unknown"
	}
}

// State is the ConnState from the connection lifecycle: Idle -> Connecting ->
// Connected -> {Reconnecting, Suspended}. Suspended is terminal.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateSuspended
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

var (
	ErrClosed      = errors.New("connection: closed")
	ErrPongTimeout = errors.New("connection: pong not received before disconnect delay")
)

// base holds everything both connection halves share: the socket, framer,
// the pipe that turns Socket's event channel into a plain io.Reader for
// transport.Framer.Unpack, and connection state. obfs carries the AES-CTR
// streams from shared/obfuscation when the datacenter requires obfuscated
// framing (mandatory over the WS backend; optional over TCP/QUIC).
type base struct {
	sock     socket.Socket
	framer   transport.Framer
	obfs     *obfuscation.Keys
	connType ConnType

	state atomic.Int32

	pipeR *io.PipeReader
	pipeW *io.PipeWriter

	// sendMu serializes framing, obfuscation, and the socket write: the
	// framer's one-shot preamble and the outgoing CTR stream both depend on
	// byte order on the wire.
	sendMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

func newBase(sock socket.Socket, framer transport.Framer, obfs *obfuscation.Keys, connType ConnType) *base {
	pr, pw := io.Pipe()
	b := &base{sock: sock, framer: framer, obfs: obfs, connType: connType, pipeR: pr, pipeW: pw}
	b.state.Store(int32(StateConnecting))
	go b.pumpEvents()
	return b
}

// pumpEvents is the connection's single reader task: it drains the
// Socket's event channel and feeds raw bytes into the pipe Unpack reads
// from, closing the pipe (with the terminal error) once the socket's
// reader task ends.
func (b *base) pumpEvents() {
	for ev := range b.sock.Receiver() {
		switch ev.Kind {
		case socket.EventReceivedData:
			data := ev.Data
			if b.obfs != nil {
				b.obfs.Decrypt.XORKeyStream(data, data)
			}
			if _, err := b.pipeW.Write(data); err != nil {
				return
			}
		case socket.EventSocketError:
			b.state.Store(int32(StateReconnecting))
			b.pipeW.CloseWithError(ev.Err)
			return
		case socket.EventIntercepted:
			b.state.Store(int32(StateSuspended))
			b.pipeW.CloseWithError(socket.ErrIntercepted)
			return
		}
	}
}

func (b *base) State() State { return State(b.state.Load()) }

// Type reports what this connection is used for (generic, download, ...).
func (b *base) Type() ConnType { return b.connType }

func (b *base) packAndSend(ctx context.Context, envelope []byte) error {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()
	framed := b.framer.Pack(envelope)
	if b.obfs != nil {
		b.obfs.Encrypt.XORKeyStream(framed, framed)
	}
	return b.sock.Send(ctx, framed)
}

func (b *base) close() error {
	b.closeOnce.Do(func() {
		b.state.Store(int32(StateSuspended))
		b.closeErr = b.sock.Close()
		b.pipeW.CloseWithError(ErrClosed)
	})
	return b.closeErr
}

// UnencryptedConn is a connection before an auth_key exists: every message
// travels in wrap.Unencrypted, and its only legitimate payloads are the
// handshake's four request/response pairs. Because the handshake is
// strictly sequential with a single outstanding request at a time, replies
// are matched FIFO (the next frame off the wire answers the last request
// sent) rather than by any echoed identifier the client can't predict in
// advance.
type UnencryptedConn struct {
	*base
	sess    *session.Session
	wrap    wrap.Unencrypted
	replies chan replyOrErr
}

type replyOrErr struct {
	body []byte
	err  error
}

// ObfuscationRequest asks Connect to negotiate transport obfuscation
// immediately after dialing: it's mandatory over the WS backend and
// optional (off by default) over TCP/QUIC.
type ObfuscationRequest struct {
	ProtocolTag uint32
	DCID        int16
	Secret      []byte // proxy secret, nil for the plain scheme
}

// Connect dials addr with the given transport framer and, when obfsReq is
// non-nil, sends the one-time obfuscation header and derives the AES-CTR
// streams used for every byte after it. Pass a nil obfsReq to disable
// obfuscation.
func Connect(ctx context.Context, connType ConnType, kind socket.Kind, addr string, framer transport.Framer, obfsReq *ObfuscationRequest, sess *session.Session) (*UnencryptedConn, error) {
	sock, err := socket.Dial(ctx, kind, addr)
	if err != nil {
		return nil, fmt.Errorf("connection: %w", err)
	}

	var obfs *obfuscation.Keys
	if obfsReq != nil {
		header, keys, err := obfuscation.GenerateHeader(obfsReq.ProtocolTag, obfsReq.DCID, obfsReq.Secret)
		if err != nil {
			sock.Close()
			return nil, fmt.Errorf("connection: obfuscation header: %w", err)
		}
		if err := sock.Send(ctx, header[:]); err != nil {
			sock.Close()
			return nil, fmt.Errorf("connection: send obfuscation header: %w", err)
		}
		obfs = keys
	}

	b := newBase(sock, framer, obfs, connType)
	c := &UnencryptedConn{base: b, sess: sess, replies: make(chan replyOrErr, 8)}
	go c.dispatchLoop()
	return c, nil
}

func (c *UnencryptedConn) dispatchLoop() {
	for {
		frame, err := c.framer.Unpack(c.pipeR)
		if err != nil {
			c.replies <- replyOrErr{err: err}
			return
		}
		_, body, err := c.wrap.Unwrap(frame)
		if err != nil {
			c.replies <- replyOrErr{err: err}
			return
		}
		c.replies <- replyOrErr{body: body}
	}
}

// SendRPC wraps body in an Unencrypted envelope, writes it, and returns the
// next frame the server sends back.
func (c *UnencryptedConn) SendRPC(ctx context.Context, body []byte) ([]byte, error) {
	msgID := c.sess.NewMsgID()
	envelope := c.wrap.Wrap(msgID, body)
	if err := c.packAndSend(ctx, envelope); err != nil {
		return nil, fmt.Errorf("connection: send: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-c.replies:
		if r.err != nil {
			return nil, r.err
		}
		return r.body, nil
	}
}

// Handshake drives the four-step key exchange over this connection and, on
// success, consumes it to produce the EncryptedConn that replaces it. The
// receiver is unusable after a successful call.
func (c *UnencryptedConn) Handshake(ctx context.Context, dcID int32, rsaKeys map[int64]*crypto.RSAPublicKey) (*EncryptedConn, error) {
	hs := handshake.New(dcID, rsaKeys)

	req, err := hs.BuildReqPQMulti()
	if err != nil {
		return nil, err
	}
	resp, err := c.SendRPC(ctx, req)
	if err != nil {
		return nil, err
	}

	req, err = hs.ProcessResPQ(resp)
	if err != nil {
		return nil, err
	}
	resp, err = c.SendRPC(ctx, req)
	if err != nil {
		return nil, err
	}

	req, err = hs.ProcessServerDHParams(resp)
	if err != nil {
		return nil, err
	}
	resp, err = c.SendRPC(ctx, req)
	if err != nil {
		return nil, err
	}

	for {
		retryReq, done, err := hs.ProcessDHGenResult(resp)
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
		resp, err = c.SendRPC(ctx, retryReq)
		if err != nil {
			return nil, err
		}
	}

	c.sess.SetAuthKey(hs.AuthKey)
	c.sess.SetSalt(hs.Salt)
	c.sess.SyncTime(int32(time.Now().Unix()) + hs.TimeDiff)

	enc := &EncryptedConn{
		base:        c.base,
		sess:        c.sess,
		wrap:        &wrap.Encrypted{AuthKey: hs.AuthKey},
		pending:     make(map[int64]chan replyOrErr),
		updates:     make(chan *protocol.Message, 128),
		timeDiff:    hs.TimeDiff,
		fingerprint: hs.Fingerprint,
	}
	enc.state.Store(int32(StateConnected))
	go enc.dispatchLoop()
	return enc, nil
}

func (c *UnencryptedConn) Close() error { return c.close() }

// EncryptedConn is a connection after the handshake has installed an
// auth_key: every message travels in wrap.Encrypted, addressed by the
// session's salt and session_id.
type EncryptedConn struct {
	*base
	sess *session.Session
	wrap *wrap.Encrypted

	mu      sync.Mutex
	pending map[int64]chan replyOrErr

	updates chan *protocol.Message

	timeDiff    int32
	fingerprint int64
}

// HandshakeTimeDiff is the server/client clock skew, in seconds, observed
// while this connection's auth_key was negotiated.
func (e *EncryptedConn) HandshakeTimeDiff() int32 { return e.timeDiff }

// RSAFingerprint is the fingerprint of the RSA key the server accepted
// during this connection's handshake.
func (e *EncryptedConn) RSAFingerprint() int64 { return e.fingerprint }

// dispatchLoop is the encrypted connection's single reader task: it unpacks
// and decrypts each frame, resolves whatever pending request the message
// answers, and forwards everything else to Updates.
func (e *EncryptedConn) dispatchLoop() {
	for {
		frame, err := e.framer.Unpack(e.pipeR)
		if err != nil {
			e.failAllPending(err)
			return
		}
		_, _, msgID, seqNo, body, err := e.wrap.Unwrap(frame)
		if err != nil {
			e.failAllPending(err)
			return
		}
		e.sess.SyncTimeFromMsgID(msgID)
		e.route(msgID, seqNo, body)
	}
}

func (e *EncryptedConn) route(msgID int64, seqNo int32, body []byte) {
	if obj, err := protocol.DecodeBoxed(body); err == nil {
		switch v := obj.(type) {
		case *protocol.MsgContainer:
			for _, m := range v.Messages {
				e.route(m.MsgID, m.Seqno, m.Body)
			}
			return
		case *protocol.Pong:
			// A Pong names the msg_id of the ping it answers, which is
			// exactly the key the sender registered under.
			e.sess.AcknowledgePong(v.PingID)
			if e.resolve(v.MsgID, body) {
				return
			}
		}
	}

	msg := &protocol.Message{MsgID: msgID, Seqno: seqNo, Body: body}
	select {
	case e.updates <- msg:
	default:
		// Update channel full; drop per the bounded back-pressure policy and
		// let the server's own retransmission (outside this core's scope)
		// handle delivery.
	}
}

// resolve hands body to the waiter registered under reqMsgID, reporting
// whether one existed.
func (e *EncryptedConn) resolve(reqMsgID int64, body []byte) bool {
	e.mu.Lock()
	ch, ok := e.pending[reqMsgID]
	if ok {
		delete(e.pending, reqMsgID)
	}
	e.mu.Unlock()
	if ok {
		ch <- replyOrErr{body: body}
	}
	return ok
}

func (e *EncryptedConn) failAllPending(err error) {
	e.mu.Lock()
	waiters := e.pending
	e.pending = make(map[int64]chan replyOrErr)
	e.mu.Unlock()
	for _, ch := range waiters {
		ch <- replyOrErr{err: err}
	}
}

// Updates returns the side channel of messages that arrived without a
// matching pending Ping — server pushes, acks, and anything else this
// core's limited RPC surface doesn't itself await.
func (e *EncryptedConn) Updates() <-chan *protocol.Message { return e.updates }

// SendRPC wraps body in an encrypted envelope, writes it, and blocks until
// the server's reply for that msg_id arrives (or ctx is done). Replies to
// other in-flight requests on the same connection are dispatched to their
// own waiters, never discarded.
func (e *EncryptedConn) SendRPC(ctx context.Context, body []byte) ([]byte, error) {
	waiter := make(chan replyOrErr, 1)
	msgID, err := e.sendTracked(ctx, body, true, waiter)
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		e.mu.Lock()
		delete(e.pending, msgID)
		e.mu.Unlock()
		return nil, ctx.Err()
	case r := <-waiter:
		if r.err != nil {
			return nil, r.err
		}
		return r.body, nil
	}
}

// Ping sends a PingDelayDisconnect if no ping is outstanding and the last
// one is at least PingDuration old, then blocks for the matching Pong. It is
// a no-op (and returns nil immediately) when no ping is due.
func (e *EncryptedConn) Ping(ctx context.Context) error {
	if !e.sess.PingDue(PingDuration) {
		return nil
	}
	pingID := e.sess.NextPingID()
	const disconnectDelay = 35 * time.Second

	req := &protocol.PingDelayDisconnect{PingID: pingID, DisconnectDelay: int32(disconnectDelay / time.Second)}
	buf := protocol.NewWriteBuffer()
	req.Encode(buf)

	e.sess.ArmPingWatchdog(pingID, disconnectDelay)
	pctx, cancel := context.WithTimeout(ctx, disconnectDelay)
	defer cancel()

	body, err := e.SendRPC(pctx, buf.Bytes())
	if err != nil {
		e.sess.AcknowledgePong(pingID) // disarm so the next tick can retry
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return ErrPongTimeout
		}
		return err
	}

	var pong protocol.Pong
	if err := pong.Decode(protocol.NewBuffer(body)); err != nil {
		return fmt.Errorf("connection: decode pong: %w", err)
	}
	if pong.PingID != pingID {
		return fmt.Errorf("connection: pong answers ping_id %d, expected %d", pong.PingID, pingID)
	}
	return nil
}

// SendRaw wraps and sends one content-related message without waiting for a
// reply; used for fire-and-forget RPCs (e.g. a batched MsgContainer).
func (e *EncryptedConn) SendRaw(ctx context.Context, body []byte) error {
	_, err := e.sendTracked(ctx, body, true, nil)
	return err
}

// sendTracked assigns the outgoing msg_id, optionally registers waiter under
// it before the bytes hit the wire (so a fast reply can't race the
// registration), and writes the framed envelope.
func (e *EncryptedConn) sendTracked(ctx context.Context, body []byte, contentRelated bool, waiter chan replyOrErr) (int64, error) {
	msgID := e.sess.NewMsgID()
	seqNo := e.sess.NextSeqNo(contentRelated)

	if waiter != nil {
		e.mu.Lock()
		e.pending[msgID] = waiter
		e.mu.Unlock()
	}
	unregister := func() {
		if waiter != nil {
			e.mu.Lock()
			delete(e.pending, msgID)
			e.mu.Unlock()
		}
	}

	envelope, err := e.wrap.Wrap(e.sess.Salt(), e.sess.ID(), msgID, seqNo, body)
	if err != nil {
		unregister()
		return 0, fmt.Errorf("connection: wrap: %w", err)
	}
	if err := e.packAndSend(ctx, envelope); err != nil {
		unregister()
		return 0, fmt.Errorf("connection: send: %w", err)
	}
	e.state.Store(int32(StateConnected))
	return msgID, nil
}

func (e *EncryptedConn) Close() error {
	crypto.ZeroAuthKey(&e.wrap.AuthKey)
	return e.close()
}
