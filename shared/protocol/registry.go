package protocol

import "fmt"

// Decodable is any boxed wire object that can reconstruct itself from a
// Buffer positioned at its constructor tag.
type Decodable interface {
	Decode(b *Buffer) error
}

// decoders maps each known constructor id to a factory for the Go type that
// carries it. Variant tags of one sum type (server_DH_params,
// set_client_DH_params_answer) all map to the same struct, whose Decode
// branches on the tag itself.
var decoders = map[uint32]func() Decodable{
	CrcResPQ:               func() Decodable { return &ResPQ{} },
	CrcServerDHParamsOk:    func() Decodable { return &ServerDHParams{} },
	CrcServerDHParamsFail:  func() Decodable { return &ServerDHParams{} },
	CrcServerDHInnerData:   func() Decodable { return &ServerDHInnerData{} },
	CrcDHGenOk:             func() Decodable { return &DHGenResult{} },
	CrcDHGenRetry:          func() Decodable { return &DHGenResult{} },
	CrcDHGenFail:           func() Decodable { return &DHGenResult{} },
	CrcPong:                func() Decodable { return &Pong{} },
	CrcMsgContainer:        func() Decodable { return &MsgContainer{} },
}

// DecodeBoxed reads the constructor id leading data and dispatches to the
// registered type, returning the decoded object. An unregistered id comes
// back as ErrUnknownConstructor; callers routing a live connection treat
// that as "not mine" and pass the raw message on.
func DecodeBoxed(data []byte) (Decodable, error) {
	b := NewBuffer(data)
	tag, err := b.ReadUint32()
	if err != nil {
		return nil, err
	}
	factory, ok := decoders[tag]
	if !ok {
		return nil, fmt.Errorf("%w: 0x%08x", ErrUnknownConstructor, tag)
	}
	obj := factory()
	if err := obj.Decode(NewBuffer(data)); err != nil {
		return nil, err
	}
	return obj, nil
}
