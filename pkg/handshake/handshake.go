// Package handshake drives the unencrypted key-exchange dialogue that
// establishes a shared auth_key with a datacenter: req_pq_multi,
// req_DH_params, and set_client_DH_params, each built and verified per
// MTProto's 2048-bit Diffie-Hellman handshake.
package handshake

import (
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/shadowmesh/mtclient/shared/crypto"
	"github.com/shadowmesh/mtclient/shared/protocol"
)

// TempAuthKeyExpireSeconds is the lifetime requested for a temporary
// auth_key negotiated by a NewTemp handshake.
const TempAuthKeyExpireSeconds = 86400

// Errors a caller can receive from the handshake steps below; each names a
// verification this client is required to perform on the server's replies
// before trusting the resulting auth_key.
var (
	ErrNonceMismatch       = errors.New("handshake: nonce echoed by server does not match")
	ErrInvalidPQSize       = errors.New("handshake: pq is not exactly 8 bytes")
	ErrAnswerHashMismatch  = errors.New("handshake: SHA1 of server_DH_inner_data does not match")
	ErrServerNonceMismatch = errors.New("handshake: server_nonce echoed by server does not match")
	ErrNoMatchingRSAKey    = errors.New("handshake: no configured RSA public key matches server fingerprints")
	ErrServerDHParamsFail  = errors.New("handshake: server rejected the handshake (server_DH_params_fail)")
	ErrNewNonceHashMismatch = errors.New("handshake: new_nonce_hash verification failed")
	ErrDHGenRetry          = errors.New("handshake: server requested set_client_DH_params retry")
	ErrDHGenFail           = errors.New("handshake: server reported dh_gen_fail")
	ErrWrongStep           = errors.New("handshake: called out of order")
)

// Step enumerates where a State is in the four-message exchange, so callers
// (and State's own methods) can reject out-of-order calls.
type Step int

const (
	StepNotStarted Step = iota
	StepAwaitingResPQ
	StepAwaitingServerDHParams
	StepAwaitingDHGenResult
	StepComplete
)

// State carries one handshake's mutable data across its four round trips.
// A State is single-use: create a new one per handshake attempt.
type State struct {
	step Step

	dc        int32
	temp      bool
	expiresIn int32
	rsaKeys   map[int64]*crypto.RSAPublicKey

	nonce       protocol.Int128
	serverNonce protocol.Int128
	newNonce    protocol.Int256

	p, q []byte // the two prime factors of pq, big-endian

	dhPrime *big.Int
	g       int32
	serverGA *big.Int
	serverTime int32

	clientPrivate *big.Int
	clientGB      *big.Int
	retryID       int64

	AuthKey     [256]byte
	Salt        uint64
	TimeDiff    int32 // server_time - local clock, seconds, captured at step 3
	Fingerprint int64 // RSA fingerprint the server accepted at step 2
}

// New starts a handshake for the given datacenter against the supplied RSA
// public keys (keyed by fingerprint, as advertised in the client's static
// configuration for that DC).
func New(dc int32, rsaKeys map[int64]*crypto.RSAPublicKey) *State {
	return &State{dc: dc, rsaKeys: rsaKeys}
}

// NewTemp starts a handshake for a temporary auth_key that the server
// discards after TempAuthKeyExpireSeconds.
func NewTemp(dc int32, rsaKeys map[int64]*crypto.RSAPublicKey) *State {
	return &State{dc: dc, rsaKeys: rsaKeys, temp: true, expiresIn: TempAuthKeyExpireSeconds}
}

func randomInt128() (protocol.Int128, error) {
	var v protocol.Int128
	_, err := rand.Read(v[:])
	return v, err
}

func randomInt256() (protocol.Int256, error) {
	var v protocol.Int256
	_, err := rand.Read(v[:])
	return v, err
}

// BuildReqPQMulti returns the serialized req_pq_multi body, the first
// message of the handshake.
func (s *State) BuildReqPQMulti() ([]byte, error) {
	if s.step != StepNotStarted {
		return nil, ErrWrongStep
	}
	nonce, err := randomInt128()
	if err != nil {
		return nil, err
	}
	s.nonce = nonce

	b := protocol.NewWriteBuffer()
	(&protocol.ReqPQMulti{Nonce: nonce}).Encode(b)
	s.step = StepAwaitingResPQ
	return b.Bytes(), nil
}

// ProcessResPQ verifies the server's ResPQ, factorizes pq, and builds
// req_DH_params, the handshake's second message.
func (s *State) ProcessResPQ(data []byte) ([]byte, error) {
	if s.step != StepAwaitingResPQ {
		return nil, ErrWrongStep
	}
	var resPQ protocol.ResPQ
	if err := resPQ.Decode(protocol.NewBuffer(data)); err != nil {
		return nil, fmt.Errorf("handshake: decode ResPQ: %w", err)
	}
	if resPQ.Nonce != s.nonce {
		return nil, ErrNonceMismatch
	}
	s.serverNonce = resPQ.ServerNonce

	var rsaKey *crypto.RSAPublicKey
	var fingerprint int64
	for _, fp := range resPQ.Fingerprints {
		if k, ok := s.rsaKeys[fp]; ok {
			rsaKey = k
			fingerprint = fp
			break
		}
	}
	if rsaKey == nil {
		return nil, ErrNoMatchingRSAKey
	}
	s.Fingerprint = fingerprint

	if len(resPQ.Pq) != 8 {
		return nil, ErrInvalidPQSize
	}
	var pqVal uint64
	for _, b := range resPQ.Pq {
		pqVal = pqVal<<8 | uint64(b)
	}
	p, q, err := crypto.FactorizePQ(pqVal)
	if err != nil {
		return nil, fmt.Errorf("handshake: factorize pq: %w", err)
	}
	s.p = big.NewInt(0).SetUint64(p).Bytes()
	s.q = big.NewInt(0).SetUint64(q).Bytes()

	newNonce, err := randomInt256()
	if err != nil {
		return nil, err
	}
	s.newNonce = newNonce

	inner := &protocol.PQInnerData{
		Pq:          resPQ.Pq,
		P:           s.p,
		Q:           s.q,
		Nonce:       s.nonce,
		ServerNonce: s.serverNonce,
		NewNonce:    s.newNonce,
		DC:          s.dc,
		TempDC:      s.temp,
		ExpiresIn:   s.expiresIn,
	}
	innerBuf := protocol.NewWriteBuffer()
	inner.Encode(innerBuf)

	encrypted, err := crypto.RSAPadEncrypt(rsaKey, innerBuf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("handshake: rsa_pad encrypt PQInnerData: %w", err)
	}

	req := &protocol.ReqDHParams{
		Nonce:                s.nonce,
		ServerNonce:          s.serverNonce,
		P:                    s.p,
		Q:                    s.q,
		PublicKeyFingerprint: fingerprint,
		EncryptedData:        encrypted,
	}
	out := protocol.NewWriteBuffer()
	req.Encode(out)
	s.step = StepAwaitingServerDHParams
	return out.Bytes(), nil
}

// ProcessServerDHParams decrypts and validates server_DH_params, then builds
// set_client_DH_params, the handshake's third message.
func (s *State) ProcessServerDHParams(data []byte) ([]byte, error) {
	if s.step != StepAwaitingServerDHParams {
		return nil, ErrWrongStep
	}
	var params protocol.ServerDHParams
	if err := params.Decode(protocol.NewBuffer(data)); err != nil {
		return nil, fmt.Errorf("handshake: decode ServerDHParams: %w", err)
	}
	if params.Nonce != s.nonce {
		return nil, ErrNonceMismatch
	}
	if params.ServerNonce != s.serverNonce {
		return nil, ErrServerNonceMismatch
	}
	if !params.Ok {
		// server_DH_params_fail echoes SHA1(new_nonce)[4..20] so the client
		// can tell a genuine rejection from a forged one.
		sum := sha1.Sum(s.newNonce[:])
		var want protocol.Int128
		copy(want[:], sum[4:20])
		if want != params.NewNonceHash {
			return nil, ErrNewNonceHashMismatch
		}
		return nil, ErrServerDHParamsFail
	}

	tmpKey, tmpIV := crypto.TmpAESKeyIV(s.serverNonce, s.newNonce)
	plain, err := crypto.IGEDecrypt(tmpKey, tmpIV, params.EncryptedAnswer)
	if err != nil {
		return nil, fmt.Errorf("handshake: decrypt server_DH_inner_data: %w", err)
	}
	// The plaintext is SHA1(answer) || answer || padding.
	if len(plain) < sha1.Size {
		return nil, ErrAnswerHashMismatch
	}

	answer := protocol.NewBuffer(plain[sha1.Size:])
	var inner protocol.ServerDHInnerData
	if err := inner.Decode(answer); err != nil {
		return nil, fmt.Errorf("handshake: decode ServerDHInnerData: %w", err)
	}
	consumed := len(plain) - sha1.Size - answer.Remaining()
	gotHash := sha1.Sum(plain[sha1.Size : sha1.Size+consumed])
	if !bytes.Equal(gotHash[:], plain[:sha1.Size]) {
		return nil, ErrAnswerHashMismatch
	}
	if inner.Nonce != s.nonce || inner.ServerNonce != s.serverNonce {
		return nil, ErrNonceMismatch
	}
	if err := crypto.ValidateDHPrime(inner.DHPrime, inner.G); err != nil {
		return nil, err
	}
	if err := crypto.ValidateDHPublicValue(inner.GA, inner.DHPrime); err != nil {
		return nil, err
	}

	s.dhPrime = inner.DHPrime
	s.g = inner.G
	s.serverGA = inner.GA
	s.serverTime = inner.ServerTime
	s.TimeDiff = int32(int64(inner.ServerTime) - time.Now().Unix())

	return s.buildSetClientDHParams()
}

func (s *State) buildSetClientDHParams() ([]byte, error) {
	private, err := crypto.GenerateDHPrivate(s.dhPrime)
	if err != nil {
		return nil, err
	}
	gb := crypto.ComputePublicValue(s.g, private, s.dhPrime)
	if err := crypto.ValidateDHPublicValue(gb, s.dhPrime); err != nil {
		return nil, err
	}
	s.clientPrivate = private
	s.clientGB = gb

	clientInner := &protocol.ClientDHInnerData{
		Nonce:       s.nonce,
		ServerNonce: s.serverNonce,
		RetryID:     s.retryID,
		GB:          gb,
	}
	innerBuf := protocol.NewWriteBuffer()
	clientInner.Encode(innerBuf)
	// The server expects SHA1(data) || data || padding, the mirror of the
	// framing it used for its own encrypted_answer.
	innerHash := sha1.Sum(innerBuf.Bytes())
	padded := padToBlock(append(innerHash[:], innerBuf.Bytes()...))

	tmpKey, tmpIV := crypto.TmpAESKeyIV(s.serverNonce, s.newNonce)
	encrypted, err := crypto.IGEEncrypt(tmpKey, tmpIV, padded)
	if err != nil {
		return nil, err
	}

	req := &protocol.SetClientDHParams{
		Nonce:         s.nonce,
		ServerNonce:   s.serverNonce,
		EncryptedData: encrypted,
	}
	out := protocol.NewWriteBuffer()
	req.Encode(out)
	s.step = StepAwaitingDHGenResult
	return out.Bytes(), nil
}

// ProcessDHGenResult verifies the server's final confirmation and derives
// the completed auth_key and initial salt. A dh_gen_retry response rebuilds
// set_client_DH_params with an incremented retry_id and returns it for the
// caller to resend; every other outcome is terminal.
func (s *State) ProcessDHGenResult(data []byte) (retry []byte, done bool, err error) {
	if s.step != StepAwaitingDHGenResult {
		return nil, false, ErrWrongStep
	}
	var result protocol.DHGenResult
	if err := result.Decode(protocol.NewBuffer(data)); err != nil {
		return nil, false, fmt.Errorf("handshake: decode DHGenResult: %w", err)
	}
	if result.Nonce != s.nonce || result.ServerNonce != s.serverNonce {
		return nil, false, ErrNonceMismatch
	}

	shared := crypto.ComputeSharedSecret(s.serverGA, s.clientPrivate, s.dhPrime)
	authKey := crypto.AuthKeyFromSharedSecret(shared)
	authKeyAuxHash := sha1.Sum(authKey[:])

	switch result.Outcome {
	case protocol.DHGenOk:
		if err := s.verifyNewNonceHash(result.NewNonceHash, 1, authKeyAuxHash[:8]); err != nil {
			return nil, false, err
		}
		s.AuthKey = authKey
		s.Salt = initialSalt(s.newNonce, s.serverNonce)
		s.step = StepComplete
		return nil, true, nil
	case protocol.DHGenRetry:
		if err := s.verifyNewNonceHash(result.NewNonceHash, 2, authKeyAuxHash[:8]); err != nil {
			return nil, false, err
		}
		s.retryID++
		again, err := s.buildSetClientDHParams()
		if err != nil {
			return nil, false, err
		}
		return again, false, nil
	case protocol.DHGenFail:
		s.verifyNewNonceHash(result.NewNonceHash, 3, authKeyAuxHash[:8]) //nolint:errcheck
		return nil, false, ErrDHGenFail
	default:
		return nil, false, fmt.Errorf("handshake: unknown dh_gen outcome %d", result.Outcome)
	}
}

// verifyNewNonceHash checks new_nonce_hash{1,2,3} = substr(SHA1(new_nonce ||
// marker || suffix), 4, 16) against the value the server sent, per the
// verification MTProto requires at every terminal handshake step.
func (s *State) verifyNewNonceHash(got protocol.Int128, marker byte, suffix []byte) error {
	payload := append(append([]byte{}, s.newNonce[:]...), marker)
	payload = append(payload, suffix...)
	sum := sha1.Sum(payload)
	var want protocol.Int128
	copy(want[:], sum[4:20])
	if want != got {
		return ErrNewNonceHashMismatch
	}
	return nil
}

// initialSalt is the first server_salt: the XOR of the first 8 bytes of
// new_nonce with the first 8 bytes of server_nonce, read little-endian.
func initialSalt(newNonce protocol.Int256, serverNonce protocol.Int128) uint64 {
	var salt uint64
	for i := 0; i < 8; i++ {
		salt |= uint64(newNonce[i]^serverNonce[i]) << (8 * uint(i))
	}
	return salt
}

func padToBlock(data []byte) []byte {
	const block = 16
	if rem := len(data) % block; rem != 0 {
		pad := make([]byte, block-rem)
		rand.Read(pad) //nolint:errcheck
		data = append(data, pad...)
	}
	return data
}
