// Package client is the public facade: it owns one EncryptedConn per
// datacenter, drives the handshake needed to create each one, and runs a
// single actor loop that ticks every connection's keepalive and fans
// outbound sends and inbound updates through buffered channels, generalized
// to many concurrent datacenters instead of one relay.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shadowmesh/mtclient/pkg/audit"
	"github.com/shadowmesh/mtclient/pkg/connection"
	"github.com/shadowmesh/mtclient/pkg/dcresolver"
	"github.com/shadowmesh/mtclient/pkg/logging"
	"github.com/shadowmesh/mtclient/pkg/session"
	"github.com/shadowmesh/mtclient/pkg/socket"
	"github.com/shadowmesh/mtclient/shared/crypto"
	"github.com/shadowmesh/mtclient/shared/protocol"
	"github.com/shadowmesh/mtclient/shared/transport"
)

// tickInterval is how often the actor loop checks every open connection's
// keepalive watchdog.
const tickInterval = 1 * time.Second

// ErrAddrsEmpty is returned by NewWithAddrs when no addresses are supplied.
var ErrAddrsEmpty = errors.New("client: address list is empty")

// FramerFactory builds a fresh Framer for one new connection; Framers carry
// one-shot preamble state so every dial needs its own instance.
type FramerFactory func() transport.Framer

// Options configures a Client.
type Options struct {
	Kind   socket.Kind
	Framer FramerFactory
	// Obfuscated, when true, negotiates transport obfuscation on every dial
	// using ProtocolTag and Secret; it's forced on regardless for Kind ==
	// socket.KindWS, which has no plaintext framing mode.
	Obfuscated  bool
	ProtocolTag uint32
	Secret      []byte
	RSAKeys     map[int64]*crypto.RSAPublicKey
	Resolver    dcresolver.Resolver
	// Logger receives the actor loop's structured events; nil disables them.
	Logger *logging.Logger
	// Audit, when non-nil, records every completed handshake's non-secret
	// metadata.
	Audit *audit.Log
}

type sendRequest struct {
	dcID int32
	body []byte
	done chan error
}

// Client manages one EncryptedConn per datacenter it has been asked to talk
// to, started lazily on first Send and torn down on Release or Stop.
type Client struct {
	opts Options

	mu  sync.RWMutex
	dcs map[int32]*dcConn

	sendChan    chan sendRequest
	receiveChan chan *protocol.Message
	errorChan   chan error
	releaseChan chan int32

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	closed  bool
}

type dcConn struct {
	id   int32
	enc  *connection.EncryptedConn
	sess *session.Session
}

// New creates a Client. Call Start before Send/Release do anything useful.
func New(opts Options) *Client {
	return &Client{
		opts:        opts,
		dcs:         make(map[int32]*dcConn),
		sendChan:    make(chan sendRequest, 100),
		receiveChan: make(chan *protocol.Message, 100),
		errorChan:   make(chan error, 10),
		releaseChan: make(chan int32, 10),
	}
}

// NewWithAddrs creates a Client whose datacenter roster is the given address
// list, numbered from 1, backed by an in-process resolver. This is the
// simplest way to point a Client at a known datacenter without standing up
// the Redis-backed roster cache.
func NewWithAddrs(opts Options, addrs ...string) (*Client, error) {
	if len(addrs) == 0 {
		return nil, ErrAddrsEmpty
	}
	seeds := make([]dcresolver.DataCenter, 0, len(addrs))
	for i, a := range addrs {
		seeds = append(seeds, dcresolver.DataCenter{ID: int32(i + 1), Address: a})
	}
	opts.Resolver = dcresolver.NewStatic(seeds)
	return New(opts), nil
}

// Start launches the actor loop. The Client dials datacenters lazily as
// Send addresses them, so Start itself never blocks on the network. Calling
// Start on an already-started Client is a no-op.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.wg.Add(1)
	go c.loop()
}

// Stop cancels every open connection and waits for the actor loop to exit.
// The Client can be started again afterward.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, dc := range c.dcs {
		dc.enc.Close()
	}
	c.dcs = make(map[int32]*dcConn)
}

// Close stops the client permanently: connections are torn down as in Stop,
// and any later Start is a no-op.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Stop()
}

// Send delivers body to dcID over a fresh or already-open connection,
// dialing and handshaking first if this is the first message to that
// datacenter.
func (c *Client) Send(ctx context.Context, dcID int32, body []byte) error {
	done := make(chan error, 1)
	req := sendRequest{dcID: dcID, body: body, done: done}
	select {
	case c.sendChan <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Invoke sends body to dcID and blocks until the server's reply for that
// request arrives, dialing and handshaking first if needed. Unlike Send it
// bypasses the actor loop's send queue so a slow reply never stalls other
// callers.
func (c *Client) Invoke(ctx context.Context, dcID int32, body []byte) ([]byte, error) {
	dc, err := c.connOrDial(dcID)
	if err != nil {
		return nil, err
	}
	return dc.enc.SendRPC(ctx, body)
}

// Release closes the connection to dcID, if one is open, freeing it to be
// redialed on the next Send.
func (c *Client) Release(dcID int32) {
	select {
	case c.releaseChan <- dcID:
	default:
	}
}

// Updates returns the merged stream of server-pushed messages across every
// open datacenter connection.
func (c *Client) Updates() <-chan *protocol.Message { return c.receiveChan }

// Errors returns background errors the actor loop can't attribute to a
// particular in-flight Send (a server update dropped because Updates is
// full, a failed keepalive ping).
func (c *Client) Errors() <-chan error { return c.errorChan }

func (c *Client) loop() {
	defer c.wg.Done()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return

		case req := <-c.sendChan:
			dc, err := c.connOrDial(req.dcID)
			if err != nil {
				req.done <- err
				continue
			}
			req.done <- dc.enc.SendRaw(c.ctx, req.body)

		case dcID := <-c.releaseChan:
			c.mu.Lock()
			dc, ok := c.dcs[dcID]
			delete(c.dcs, dcID)
			c.mu.Unlock()
			if ok {
				dc.enc.Close()
			}

		case <-ticker.C:
			c.pingAll()
		}
	}
}

func (c *Client) connOrDial(dcID int32) (*dcConn, error) {
	c.mu.RLock()
	dc, ok := c.dcs[dcID]
	c.mu.RUnlock()
	if ok {
		return dc, nil
	}

	entry, err := c.opts.Resolver.Resolve(c.ctx, dcID)
	if err != nil {
		return nil, fmt.Errorf("client: resolve dc %d: %w", dcID, err)
	}
	addr := dcresolver.ParseAddress(entry.Address)

	sess, err := session.New()
	if err != nil {
		return nil, fmt.Errorf("client: new session: %w", err)
	}

	var obfsReq *connection.ObfuscationRequest
	if c.opts.Obfuscated || c.opts.Kind == socket.KindWS {
		obfsReq = &connection.ObfuscationRequest{
			ProtocolTag: c.opts.ProtocolTag,
			DCID:        int16(dcID),
			Secret:      c.opts.Secret,
		}
	}

	unenc, err := connection.Connect(c.ctx, connection.ConnGeneric, c.opts.Kind, addr.String(), c.opts.Framer(), obfsReq, sess)
	if err != nil {
		return nil, fmt.Errorf("client: dial dc %d: %w", dcID, err)
	}

	enc, err := unenc.Handshake(c.ctx, dcID, c.opts.RSAKeys)
	if err != nil {
		unenc.Close()
		return nil, fmt.Errorf("client: handshake dc %d: %w", dcID, err)
	}

	c.logInfo("handshake complete", logging.Fields{
		"dc_id":       dcID,
		"addr":        addr.String(),
		"conn_type":   connection.ConnGeneric.String(),
		"time_diff_s": enc.HandshakeTimeDiff(),
	})
	if c.opts.Audit != nil {
		rec := audit.Record{
			DCID:           dcID,
			TimeDeltaMS:    int64(enc.HandshakeTimeDiff()) * 1000,
			KeyFingerprint: enc.RSAFingerprint(),
			CompletedAt:    time.Now(),
		}
		go func() {
			if err := c.opts.Audit.Append(rec); err != nil {
				c.logWarn("audit append failed", logging.Fields{"dc_id": dcID, "error": err.Error()})
			}
		}()
	}

	dc = &dcConn{id: dcID, enc: enc, sess: sess}
	c.mu.Lock()
	c.dcs[dcID] = dc
	c.mu.Unlock()

	c.wg.Add(1)
	go c.forwardUpdates(dc)

	return dc, nil
}

func (c *Client) logInfo(msg string, fields logging.Fields) {
	if c.opts.Logger != nil {
		c.opts.Logger.Info(msg, fields)
	}
}

func (c *Client) logWarn(msg string, fields logging.Fields) {
	if c.opts.Logger != nil {
		c.opts.Logger.Warn(msg, fields)
	}
}

func (c *Client) forwardUpdates(dc *dcConn) {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-dc.enc.Updates():
			if !ok {
				return
			}
			select {
			case c.receiveChan <- msg:
			case <-c.ctx.Done():
				return
			default:
				select {
				case c.errorChan <- fmt.Errorf("client: dc %d update dropped, receiver full", dc.id):
				default:
				}
			}
		}
	}
}

func (c *Client) pingAll() {
	c.mu.RLock()
	conns := make([]*dcConn, 0, len(c.dcs))
	for _, dc := range c.dcs {
		conns = append(conns, dc)
	}
	c.mu.RUnlock()

	for _, dc := range conns {
		go func(dc *dcConn) {
			err := dc.enc.Ping(c.ctx)
			if err == nil {
				return
			}
			c.logWarn("keepalive ping failed", logging.Fields{"dc_id": dc.id, "error": err.Error()})
			select {
			case c.errorChan <- fmt.Errorf("client: dc %d ping: %w", dc.id, err):
			default:
			}
			if errors.Is(err, connection.ErrPongTimeout) {
				// The server's disconnect timer has fired by now; the
				// connection is dead on its side. Drop it so the next Send
				// dials fresh.
				c.mu.Lock()
				if c.dcs[dc.id] == dc {
					delete(c.dcs, dc.id)
				}
				c.mu.Unlock()
				dc.enc.Close()
			}
		}(dc)
	}
}
