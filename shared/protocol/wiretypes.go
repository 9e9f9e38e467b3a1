package protocol

import (
	"fmt"
	"math/big"
)

// Constructor ids for every boxed object this client sends or receives.
// Values are fixed by the wire format; they are never recomputed at runtime.
const (
	CrcResPQ                    uint32 = 0x05162463
	CrcPQInnerData               uint32 = 0x83c95aec
	CrcPQInnerDataDc              uint32 = 0xa9f55f95
	CrcPQInnerDataTempDc          uint32 = 0x56fddf88
	CrcServerDHParamsFail        uint32 = 0x79cb045d
	CrcServerDHParamsOk          uint32 = 0xd0e8075c
	CrcServerDHInnerData         uint32 = 0xb5890dba
	CrcClientDHInnerData         uint32 = 0x6643b654
	CrcDHGenOk                   uint32 = 0x3bcbf734
	CrcDHGenRetry                uint32 = 0x46dc1fb9
	CrcDHGenFail                 uint32 = 0xa69dae02
	CrcPing                      uint32 = 0x7abe77ec
	CrcPong                      uint32 = 0x347773c5
	CrcPingDelayDisconnect       uint32 = 0xf3427b8c
	CrcMsgsAck                   uint32 = 0x62d6b459
	CrcMsgContainer              uint32 = 0x73f1f8dc
	CrcRPCError                  uint32 = 0x2144ca19
	CrcNewSessionCreated         uint32 = 0x9ec20908
	CrcBadMsgNotification        uint32 = 0xa7eff811
	CrcBadServerSalt             uint32 = 0xedab447b
)

const (
	CrcReqPQMulti       uint32 = 0xbe7e8ef1
	CrcReqDHParams      uint32 = 0xd712e4be
	CrcSetClientDHParams uint32 = 0xf5045f1f
	CrcMessage           uint32 = 0x5bb8e511
)

// ReqPQMulti is the first message the client sends: a single 128-bit nonce,
// unencrypted, requesting the server's available RSA fingerprints.
type ReqPQMulti struct {
	Nonce Int128
}

func (r *ReqPQMulti) Encode(b *Buffer) {
	b.WriteUint32(CrcReqPQMulti)
	b.WriteInt128(r.Nonce)
}

// ReqDHParams carries the client's chosen p/q factors and the RSA-encrypted
// PQInnerData, keyed by the server's RSA fingerprint.
type ReqDHParams struct {
	Nonce           Int128
	ServerNonce     Int128
	P               []byte
	Q               []byte
	PublicKeyFingerprint int64
	EncryptedData   []byte
}

func (r *ReqDHParams) Encode(b *Buffer) {
	b.WriteUint32(CrcReqDHParams)
	b.WriteInt128(r.Nonce)
	b.WriteInt128(r.ServerNonce)
	b.WriteBytes(r.P)
	b.WriteBytes(r.Q)
	b.WriteInt64(r.PublicKeyFingerprint)
	b.WriteBytes(r.EncryptedData)
}

// SetClientDHParams carries the AES-IGE-wrapped ClientDHInnerData.
type SetClientDHParams struct {
	Nonce         Int128
	ServerNonce   Int128
	EncryptedData []byte
}

func (s *SetClientDHParams) Encode(b *Buffer) {
	b.WriteUint32(CrcSetClientDHParams)
	b.WriteInt128(s.Nonce)
	b.WriteInt128(s.ServerNonce)
	b.WriteBytes(s.EncryptedData)
}

// ResPQ is the server's reply to req_pq_multi: nonce, server_nonce, pq (the
// product of two primes to be factorized) and the server's RSA fingerprints.
type ResPQ struct {
	Nonce          Int128
	ServerNonce    Int128
	Pq             []byte
	Fingerprints   []int64
}

func (r *ResPQ) Decode(b *Buffer) error {
	tag, err := b.ReadUint32()
	if err != nil {
		return err
	}
	if tag != CrcResPQ {
		return fmt.Errorf("%w: res_pq 0x%08x", ErrUnknownConstructor, tag)
	}
	if r.Nonce, err = b.ReadInt128(); err != nil {
		return err
	}
	if r.ServerNonce, err = b.ReadInt128(); err != nil {
		return err
	}
	if r.Pq, err = b.ReadBytes(); err != nil {
		return err
	}
	n, err := b.ReadVectorHeader()
	if err != nil {
		return err
	}
	r.Fingerprints = make([]int64, n)
	for i := range r.Fingerprints {
		if r.Fingerprints[i], err = b.ReadInt64(); err != nil {
			return err
		}
	}
	return nil
}

// PQInnerData is the plaintext wrapped inside req_DH_params' encrypted_data,
// RSA-encrypted under the server's public key. DC variants carry the
// destination datacenter id; TempDc variants additionally carry an
// expires_in for temporary auth keys.
type PQInnerData struct {
	Pq          []byte
	P           []byte
	Q           []byte
	Nonce       Int128
	ServerNonce Int128
	NewNonce    Int256
	DC          int32
	TempDC      bool
	ExpiresIn   int32
}

func (p *PQInnerData) Encode(b *Buffer) {
	tag := CrcPQInnerDataDc
	if p.TempDC {
		tag = CrcPQInnerDataTempDc
	}
	b.WriteUint32(tag)
	b.WriteBytes(p.Pq)
	b.WriteBytes(p.P)
	b.WriteBytes(p.Q)
	b.WriteInt128(p.Nonce)
	b.WriteInt128(p.ServerNonce)
	b.WriteInt256(p.NewNonce)
	b.WriteInt32(p.DC)
	if p.TempDC {
		b.WriteInt32(p.ExpiresIn)
	}
}

// ServerDHParams is either the Fail or Ok variant of server_DH_params; Fail
// carries only the new_nonce_hash for client-side verification of a rejected
// handshake, Ok carries server_DH_inner_data encrypted with AES-256-IGE under
// the temporary key derived from the two nonces.
type ServerDHParams struct {
	Ok            bool
	Nonce         Int128
	ServerNonce   Int128
	NewNonceHash  Int128 // valid when !Ok
	EncryptedAnswer []byte // valid when Ok
}

func (s *ServerDHParams) Decode(b *Buffer) error {
	tag, err := b.ReadUint32()
	if err != nil {
		return err
	}
	if s.Nonce, err = b.ReadInt128(); err != nil {
		return err
	}
	if s.ServerNonce, err = b.ReadInt128(); err != nil {
		return err
	}
	switch tag {
	case CrcServerDHParamsFail:
		s.Ok = false
		s.NewNonceHash, err = b.ReadInt128()
		return err
	case CrcServerDHParamsOk:
		s.Ok = true
		s.EncryptedAnswer, err = b.ReadBytes()
		return err
	default:
		return fmt.Errorf("%w: server_DH_params 0x%08x", ErrUnknownConstructor, tag)
	}
}

// ServerDHInnerData is the payload of ServerDHParams.EncryptedAnswer once
// decrypted: the classic Diffie-Hellman domain parameters and the server's
// half of the key exchange.
type ServerDHInnerData struct {
	Nonce       Int128
	ServerNonce Int128
	G           int32
	DHPrime     *big.Int
	GA          *big.Int
	ServerTime  int32
}

func (s *ServerDHInnerData) Decode(b *Buffer) error {
	tag, err := b.ReadUint32()
	if err != nil {
		return err
	}
	if tag != CrcServerDHInnerData {
		return fmt.Errorf("%w: server_DH_inner_data 0x%08x", ErrUnknownConstructor, tag)
	}
	if s.Nonce, err = b.ReadInt128(); err != nil {
		return err
	}
	if s.ServerNonce, err = b.ReadInt128(); err != nil {
		return err
	}
	if s.G, err = b.ReadInt32(); err != nil {
		return err
	}
	if s.DHPrime, err = b.ReadBigInt(); err != nil {
		return err
	}
	if s.GA, err = b.ReadBigInt(); err != nil {
		return err
	}
	s.ServerTime, err = b.ReadInt32()
	return err
}

// ClientDHInnerData is the plaintext the client AES-IGE-wraps into
// set_client_DH_params, carrying its half of the key exchange and a retry
// counter so the server can detect a client resending after DHGenRetry.
type ClientDHInnerData struct {
	Nonce       Int128
	ServerNonce Int128
	RetryID     int64
	GB          *big.Int
}

func (c *ClientDHInnerData) Encode(b *Buffer) {
	b.WriteUint32(CrcClientDHInnerData)
	b.WriteInt128(c.Nonce)
	b.WriteInt128(c.ServerNonce)
	b.WriteInt64(c.RetryID)
	b.WriteBigIntBytes(c.GB.Bytes())
}

// DHGenResult is the Ok/Retry/Fail outcome of set_client_DH_params, each
// variant carrying a different hash of (new_nonce || constructor-specific
// byte || auth_key_aux_hash) for the client to verify.
type DHGenResult struct {
	Outcome     DHGenOutcome
	Nonce       Int128
	ServerNonce Int128
	NewNonceHash Int128
}

// DHGenOutcome enumerates the three possible set_client_DH_params_answer tags.
type DHGenOutcome int

const (
	DHGenUnknown DHGenOutcome = iota
	DHGenOk
	DHGenRetry
	DHGenFail
)

func (d *DHGenResult) Decode(b *Buffer) error {
	tag, err := b.ReadUint32()
	if err != nil {
		return err
	}
	if d.Nonce, err = b.ReadInt128(); err != nil {
		return err
	}
	if d.ServerNonce, err = b.ReadInt128(); err != nil {
		return err
	}
	switch tag {
	case CrcDHGenOk:
		d.Outcome = DHGenOk
	case CrcDHGenRetry:
		d.Outcome = DHGenRetry
	case CrcDHGenFail:
		d.Outcome = DHGenFail
	default:
		return fmt.Errorf("%w: dh_gen_result 0x%08x", ErrUnknownConstructor, tag)
	}
	d.NewNonceHash, err = b.ReadInt128()
	return err
}

// Pong answers a Ping with the same ping_id, scoped to the msg_id of the
// request it answers.
type Pong struct {
	MsgID  int64
	PingID int64
}

func (p *Pong) Encode(b *Buffer) {
	b.WriteUint32(CrcPong)
	b.WriteInt64(p.MsgID)
	b.WriteInt64(p.PingID)
}

func (p *Pong) Decode(b *Buffer) error {
	tag, err := b.ReadUint32()
	if err != nil {
		return err
	}
	if tag != CrcPong {
		return fmt.Errorf("%w: pong 0x%08x", ErrUnknownConstructor, tag)
	}
	if p.MsgID, err = b.ReadInt64(); err != nil {
		return err
	}
	p.PingID, err = b.ReadInt64()
	return err
}

// PingDelayDisconnect is sent by the client to arm a server-side watchdog:
// if no further message arrives within DisconnectDelay seconds, the server
// drops the connection.
type PingDelayDisconnect struct {
	PingID         int64
	DisconnectDelay int32
}

func (p *PingDelayDisconnect) Encode(b *Buffer) {
	b.WriteUint32(0xf3427b8c)
	b.WriteInt64(p.PingID)
	b.WriteInt32(p.DisconnectDelay)
}

// Message wraps a single TL object with the envelope fields a session layer
// assigns it: msg_id, seqno, and (once encoded) its serialized body length.
type Message struct {
	MsgID  int64
	Seqno  int32
	Body   []byte
}

// MsgContainer batches several Messages into a single encrypted envelope,
// used when multiple outgoing requests are coalesced into one transport
// write.
type MsgContainer struct {
	Messages []Message
}

func (c *MsgContainer) Encode(b *Buffer) {
	b.WriteUint32(CrcMsgContainer)
	b.WriteInt32(int32(len(c.Messages)))
	for _, m := range c.Messages {
		b.WriteInt64(m.MsgID)
		b.WriteInt32(m.Seqno)
		b.WriteInt32(int32(len(m.Body)))
		b.buf = append(b.buf, m.Body...)
	}
}

func (c *MsgContainer) Decode(b *Buffer) error {
	tag, err := b.ReadUint32()
	if err != nil {
		return err
	}
	if tag != CrcMsgContainer {
		return fmt.Errorf("%w: msg_container 0x%08x", ErrUnknownConstructor, tag)
	}
	n, err := b.ReadInt32()
	if err != nil {
		return err
	}
	if n < 0 || n > maxVectorElements {
		return ErrVectorTooLarge
	}
	c.Messages = make([]Message, n)
	for i := range c.Messages {
		m := &c.Messages[i]
		if m.MsgID, err = b.ReadInt64(); err != nil {
			return err
		}
		if m.Seqno, err = b.ReadInt32(); err != nil {
			return err
		}
		l, err := b.ReadInt32()
		if err != nil {
			return err
		}
		if l < 0 {
			return ErrTruncated
		}
		if err := b.need(int(l)); err != nil {
			return err
		}
		m.Body = make([]byte, l)
		copy(m.Body, b.buf[b.pos:b.pos+int(l)])
		b.pos += int(l)
	}
	return nil
}
