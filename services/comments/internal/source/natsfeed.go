package source

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubjectPrefix is where change events are published; the op is
// appended as the last token (comments.changes.insert, ...).
const DefaultSubjectPrefix = "comments.changes"

// NATSFeed broadcasts change events over core NATS. Every subscribing
// process gets every event, which is what a refresh trigger needs; a
// JetStream queue consumer would hand each event to one process only.
type NATSFeed struct {
	nc     *nats.Conn
	prefix string
	log    *zap.Logger
}

// NewNATSFeed wraps an open connection. An empty prefix uses
// DefaultSubjectPrefix.
func NewNATSFeed(nc *nats.Conn, prefix string, log *zap.Logger) *NATSFeed {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &NATSFeed{nc: nc, prefix: prefix, log: log}
}

func (f *NATSFeed) subject(op Op) string {
	return f.prefix + "." + string(op)
}

func (f *NATSFeed) Publish(_ context.Context, ch Change) error {
	if f == nil || f.nc == nil {
		return errors.New("nats feed: no connection")
	}
	body, err := encodeChange(stamp(ch))
	if err != nil {
		return err
	}
	return f.nc.Publish(f.subject(ch.Op), body)
}

func (f *NATSFeed) Subscribe(fn func(Change)) (func(), error) {
	if f == nil || f.nc == nil {
		return nil, errors.New("nats feed: no connection")
	}
	sub, err := f.nc.Subscribe(f.prefix+".*", func(m *nats.Msg) {
		ch, err := decodeChange(m.Subject, m.Data)
		if err != nil {
			f.log.Warn("nats feed: invalid change event", zap.String("subject", m.Subject), zap.Error(err))
			return
		}
		fn(ch)
	})
	if err != nil {
		return nil, err
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
			f.log.Warn("nats feed: unsubscribe", zap.Error(err))
		}
	}, nil
}

func encodeChange(ch Change) ([]byte, error) {
	return json.Marshal(ch)
}

// decodeChange parses an event body. The op falls back to the last subject
// token when the body does not carry one.
func decodeChange(subject string, data []byte) (Change, error) {
	var ch Change
	if len(data) > 0 {
		if err := json.Unmarshal(data, &ch); err != nil {
			return Change{}, err
		}
	}
	if ch.Op == "" {
		ch.Op = Op(subject[strings.LastIndex(subject, ".")+1:])
	}
	switch ch.Op {
	case OpInsert, OpUpdate, OpDelete:
		return ch, nil
	default:
		return Change{}, errors.New("unknown op " + string(ch.Op))
	}
}
