package authority

import (
	"context"
	"fmt"
	"sync"

	"github.com/rolltable/rolltable.go/pkg/channel"
	"github.com/rolltable/rolltable.go/pkg/logger"
)

// Loopback implements channel.Channel against an in-process Authority.
// Requests round-trip through the CBOR codec so the wire shapes and type
// mapping are exercised exactly as on a remote channel.
type Loopback struct {
	authority *Authority
	userID    string
	log       logger.Logger

	marshaler   channel.CborMarshaler
	unmarshaler channel.CborUnmarshaler

	notifications chan channel.Notification

	mu     sync.Mutex
	closed bool
}

type LoopbackParams struct {
	Authority *Authority
	// UserID identifies the session user on this end of the channel; the
	// authority stamps it into _stats.
	UserID string
	Logger logger.Logger
}

func NewLoopback(p LoopbackParams) *Loopback {
	log := p.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Loopback{
		authority:     p.Authority,
		userID:        p.UserID,
		log:           log,
		notifications: make(chan channel.Notification, 256),
	}
}

func (l *Loopback) Connect(ctx context.Context) error {
	l.authority.attach(l)
	return nil
}

// Close marks the channel closed, then detaches from the authority outside
// l.mu: the authority's broadcast path holds its own lock while calling
// push, so taking the locks in the other order here would invert them.
func (l *Loopback) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.authority.detach(l)
	close(l.notifications)
	return nil
}

func (l *Loopback) Notifications() <-chan channel.Notification {
	return l.notifications
}

func (l *Loopback) push(n channel.Notification) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.notifications <- n:
	default:
		l.log.Warn("notification dropped, consumer too slow", "method", n.Method, "type", n.Type)
	}
}

func (l *Loopback) Send(ctx context.Context, dest any, method string, params ...any) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return channel.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Round-trip the params through the codec so the authority sees the
	// same decoded forms a remote peer would.
	decoded := make([]any, len(params))
	for i, p := range params {
		data, err := l.marshaler.Marshal(p)
		if err != nil {
			return &channel.TransportError{Op: "encode", Err: err}
		}
		var v any
		if err := l.unmarshaler.Unmarshal(data, &v); err != nil {
			return &channel.TransportError{Op: "decode", Err: err}
		}
		decoded[i] = v
	}

	result, rpcErr := l.authority.handle(l, method, decoded)
	if rpcErr != nil {
		return rpcErr
	}
	if dest == nil || result == nil {
		return nil
	}

	data, err := l.marshaler.Marshal(result)
	if err != nil {
		return &channel.TransportError{Op: "encode", Err: err}
	}
	if err := l.unmarshaler.Unmarshal(data, dest); err != nil {
		return &channel.TransportError{Op: "decode", Err: fmt.Errorf("error unmarshaling response: %w", err)}
	}
	return nil
}
