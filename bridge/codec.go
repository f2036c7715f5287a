package bridge

import (
	"reflect"
	"sync"

	"github.com/gokit/actorcore"
	"github.com/gokit/errors"
	msgpack "gopkg.in/vmihailenco/msgpack.v2"
)

// ErrUnknownKind is returned when a payload kind was never registered.
var ErrUnknownKind = errors.New("payload kind is not registered")

// Message is the wire form of an envelope crossing a bridge.
type Message struct {
	// Target is the destination on the receiving node. It is null for
	// messages sent to an exported topic.
	Target actorcore.Address `msgpack:"target"`

	// ReplyTopic and ReplyAddr route responses of a request back to
	// the requesting node and address.
	ReplyTopic string            `msgpack:"reply_topic"`
	ReplyAddr  actorcore.Address `msgpack:"reply_addr"`

	Kind        actorcore.Kind      `msgpack:"kind"`
	RequestID   actorcore.RequestID `msgpack:"request_id"`
	Trace       string              `msgpack:"trace"`
	Header      map[string]string   `msgpack:"header"`
	PayloadKind string              `msgpack:"payload_kind"`
	Payload     []byte              `msgpack:"payload"`

	// Data is the decoded payload.
	Data interface{} `msgpack:"-"`
}

// Codec turns messages into bytes and back.
type Codec interface {
	Marshal(Message) ([]byte, error)
	Unmarshal([]byte) (Message, error)
}

//*****************************************************************************
// Registry
//*****************************************************************************

// Registry maps payload kinds, as returned by actorcore.KindOf, to the
// Go types they decode into.
type Registry struct {
	rl    sync.RWMutex
	types map[string]reflect.Type
}

// NewRegistry returns a Registry with the builtin scalar kinds and
// actorcore.Terminated registered.
func NewRegistry() *Registry {
	reg := &Registry{types: map[string]reflect.Type{}}
	reg.Register("")
	reg.Register([]byte(nil))
	reg.Register(int(0))
	reg.Register(int64(0))
	reg.Register(uint64(0))
	reg.Register(float64(0))
	reg.Register(false)
	reg.Register(actorcore.Terminated{})
	return reg
}

// Register adds the type of sample under its kind, returning the kind.
func (r *Registry) Register(sample interface{}) string {
	kind := actorcore.KindOf(sample)

	r.rl.Lock()
	r.types[kind] = reflect.TypeOf(sample)
	r.rl.Unlock()
	return kind
}

// Has reports if giving kind is registered.
func (r *Registry) Has(kind string) bool {
	r.rl.RLock()
	defer r.rl.RUnlock()
	_, ok := r.types[kind]
	return ok
}

func (r *Registry) typeOf(kind string) (reflect.Type, bool) {
	r.rl.RLock()
	defer r.rl.RUnlock()
	typ, ok := r.types[kind]
	return typ, ok
}

//*****************************************************************************
// MsgPackCodec
//*****************************************************************************

// MsgPackCodec implements Codec with msgpack, encoding payloads of
// registered kinds only.
type MsgPackCodec struct {
	Registry *Registry
}

// NewMsgPackCodec returns a new instance of MsgPackCodec.
func NewMsgPackCodec(registry *Registry) *MsgPackCodec {
	if registry == nil {
		registry = NewRegistry()
	}
	return &MsgPackCodec{Registry: registry}
}

// Marshal implements the Codec interface.
func (m *MsgPackCodec) Marshal(msg Message) ([]byte, error) {
	if msg.Data != nil {
		kind := actorcore.KindOf(msg.Data)
		if !m.Registry.Has(kind) {
			return nil, errors.Wrap(ErrUnknownKind, "marshal kind %q", kind)
		}

		payload, err := msgpack.Marshal(msg.Data)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal payload of kind %q", kind)
		}

		msg.PayloadKind = kind
		msg.Payload = payload
	}

	data, err := msgpack.Marshal(&msg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal message")
	}
	return data, nil
}

// Unmarshal implements the Codec interface.
func (m *MsgPackCodec) Unmarshal(data []byte) (Message, error) {
	var msg Message
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return msg, errors.Wrap(err, "failed to unmarshal message")
	}

	if msg.PayloadKind == "" {
		return msg, nil
	}

	typ, ok := m.Registry.typeOf(msg.PayloadKind)
	if !ok {
		return msg, errors.Wrap(ErrUnknownKind, "unmarshal kind %q", msg.PayloadKind)
	}

	target := reflect.New(typ)
	if err := msgpack.Unmarshal(msg.Payload, target.Interface()); err != nil {
		return msg, errors.Wrap(err, "failed to unmarshal payload of kind %q", msg.PayloadKind)
	}

	msg.Data = target.Elem().Interface()
	return msg, nil
}
