// Package session tracks the per-connection state that sits between the
// handshake and the wire encoding: the negotiated auth_key and salt, the
// session_id, the monotonic msg_id/seq_no counters, and the client's view of
// server time skew.
package session

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"
)

// Session holds everything SendRPC and the wrap layer need to address and
// sequence one logical connection to a datacenter. It is safe for
// concurrent use: the hot counters are atomics, and the rarer full-state
// reads (auth key material) are protected by a RWMutex.
type Session struct {
	mu      sync.RWMutex
	authKey [256]byte
	salt    uint64
	id      uint64

	lastMsgID       int64 // atomic, last msg_id handed out
	seqCounter      int32 // atomic, incremented once per content-related message
	pingSeq         int64 // atomic, ping_id counter
	serverTimeDelta int64 // atomic, nanoseconds to add to time.Now() to match the server's clock

	pingMu          sync.Mutex
	lastPingID      int64
	lastPingSentAt  time.Time
	disconnectDelay time.Duration
}

// New creates a Session with a fresh random session_id. The auth_key and
// salt are filled in once the handshake completes via SetAuthKey/SetSalt.
func New() (*Session, error) {
	var idBytes [8]byte
	if _, err := rand.Read(idBytes[:]); err != nil {
		return nil, err
	}
	return &Session{id: binary.LittleEndian.Uint64(idBytes[:])}, nil
}

func (s *Session) ID() uint64 { return s.id }

// SetAuthKey installs the negotiated auth_key, making the session eligible
// to send and receive Encrypted-wrapped messages.
func (s *Session) SetAuthKey(key [256]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authKey = key
}

func (s *Session) AuthKey() [256]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authKey
}

func (s *Session) SetSalt(salt uint64) { atomic.StoreUint64(&s.salt, salt) }
func (s *Session) Salt() uint64        { return atomic.LoadUint64(&s.salt) }

// SyncTime records the delta between the server's reported time and our
// local clock, applied by Now() and NewMsgID() so msg_id stays within the
// server's acceptance window (+-300 seconds) even under local clock drift.
func (s *Session) SyncTime(serverUnixSeconds int32) {
	delta := time.Unix(int64(serverUnixSeconds), 0).Sub(time.Now())
	atomic.StoreInt64(&s.serverTimeDelta, int64(delta))
}

// SyncTimeFromMsgID recovers the server's clock from the fixed-point time a
// server msg_id embeds (unix seconds in the high 32 bits, a 1/2^32-second
// fraction below) and records the resulting delta, so drift is corrected
// continuously rather than only at handshake time.
func (s *Session) SyncTimeFromMsgID(serverMsgID int64) {
	if serverMsgID <= 0 {
		return
	}
	sec := serverMsgID >> 32
	nsec := (int64(uint32(serverMsgID)) * 1_000_000_000) >> 32
	delta := time.Unix(sec, nsec).Sub(time.Now())
	atomic.StoreInt64(&s.serverTimeDelta, int64(delta))
}

// Now returns the local time adjusted by the last known server time delta.
func (s *Session) Now() time.Time {
	delta := time.Duration(atomic.LoadInt64(&s.serverTimeDelta))
	return time.Now().Add(delta)
}

// NewMsgID produces the next msg_id: the server-time-adjusted current time
// scaled to the wire's fixed-point format and rounded down to a multiple of
// 4, then bumped via compare-and-swap until it's both aligned and strictly
// greater than the last one handed out — required because two msg_ids
// generated within the same ~232-picosecond tick would otherwise collide.
func (s *Session) NewMsgID() int64 {
	for {
		now := s.Now()
		frac := uint32((int64(now.Nanosecond()) << 32) / 1_000_000_000)
		candidate := (now.Unix() << 32) | int64(frac)
		candidate &^= 3 // msg_id must be divisible by 4 for a client message

		prev := atomic.LoadInt64(&s.lastMsgID)
		if candidate <= prev {
			candidate = prev + 4
		}
		if atomic.CompareAndSwapInt64(&s.lastMsgID, prev, candidate) {
			return candidate
		}
	}
}

// NextSeqNo returns the seq_no for the next outgoing message. Content-related
// messages (anything expecting an ack or a reply) consume an odd slot and
// advance the counter; service messages (acks, pings) reuse the current
// even slot without advancing it.
func (s *Session) NextSeqNo(contentRelated bool) int32 {
	if contentRelated {
		n := atomic.AddInt32(&s.seqCounter, 1)
		return n*2 - 1
	}
	n := atomic.LoadInt32(&s.seqCounter)
	return n * 2
}

// NextPingID returns the ping_id for the next keepalive, a plain counter
// starting at 1 and distinct from the msg_id stream.
func (s *Session) NextPingID() int64 {
	return atomic.AddInt64(&s.pingSeq, 1)
}

// ArmPingWatchdog records that a ping_delay_disconnect was just sent, so the
// connection layer can later tell whether the server's Pong arrived before
// disconnectDelay elapsed.
func (s *Session) ArmPingWatchdog(pingID int64, disconnectDelay time.Duration) {
	s.pingMu.Lock()
	defer s.pingMu.Unlock()
	s.lastPingID = pingID
	s.lastPingSentAt = time.Now()
	s.disconnectDelay = disconnectDelay
}

// CheckPingWatchdog reports whether the armed ping has exceeded its
// disconnect delay without being acknowledged via AcknowledgePong.
func (s *Session) CheckPingWatchdog() (expired bool) {
	s.pingMu.Lock()
	defer s.pingMu.Unlock()
	if s.lastPingID == 0 {
		return false
	}
	return time.Since(s.lastPingSentAt) > s.disconnectDelay
}

// PingDue reports whether a new keepalive ping should be sent: no ping is
// currently outstanding, and at least interval has passed since the last one
// was sent (or none ever has). It's distinct from CheckPingWatchdog, which
// instead detects a currently-outstanding ping that the server has failed to
// acknowledge in time.
func (s *Session) PingDue(interval time.Duration) bool {
	s.pingMu.Lock()
	defer s.pingMu.Unlock()
	if s.lastPingID != 0 {
		return false
	}
	return s.lastPingSentAt.IsZero() || time.Since(s.lastPingSentAt) >= interval
}

// AcknowledgePong disarms the watchdog for the given ping_id. A Pong whose
// ping_id doesn't match the last one sent is ignored, since it answers an
// older, already-expired ping.
func (s *Session) AcknowledgePong(pingID int64) {
	s.pingMu.Lock()
	defer s.pingMu.Unlock()
	if s.lastPingID == pingID {
		s.lastPingID = 0
	}
}
