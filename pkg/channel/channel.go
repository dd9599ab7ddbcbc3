package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/rolltable/rolltable.go/internal/codec"
	"github.com/rolltable/rolltable.go/pkg/logger"
)

// Channel is the transport collaborator: a send/receive primitive plus
// connection lifecycle. Send blocks until the authoritative response
// arrives (the only suspension point in the core); Notifications delivers
// peer broadcasts.
type Channel interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	// Send issues a request and unmarshals the authoritative result into
	// dest (which may be nil to discard it). An authoritative rejection is
	// returned as *RPCError; channel failures as *TransportError.
	Send(ctx context.Context, dest any, method string, params ...any) error
	Notifications() <-chan Notification
}

// NewChannelParams configures a channel implementation.
type NewChannelParams struct {
	Marshaler   codec.Marshaler
	Unmarshaler codec.Unmarshaler
	BaseURL     string
	Logger      logger.Logger
}

// BaseChannel carries the request/response correlation state shared by
// every transport implementation.
type BaseChannel struct {
	baseURL     string
	marshaler   codec.Marshaler
	unmarshaler codec.Unmarshaler
	logger      logger.Logger

	responseChannels     map[string]chan inboundFrame
	responseChannelsLock sync.RWMutex

	notifications     chan Notification
	notificationsOnce sync.Once
}

func newBaseChannel(p NewChannelParams) BaseChannel {
	log := p.Logger
	if log == nil {
		log = logger.Default()
	}
	return BaseChannel{
		baseURL:          p.BaseURL,
		marshaler:        p.Marshaler,
		unmarshaler:      p.Unmarshaler,
		logger:           log,
		responseChannels: make(map[string]chan inboundFrame),
		notifications:    make(chan Notification, 256),
	}
}

func (bc *BaseChannel) Notifications() <-chan Notification {
	return bc.notifications
}

// closeNotifications ends the broadcast stream so consumers ranging over
// Notifications terminate. Callers must guarantee no further route calls.
func (bc *BaseChannel) closeNotifications() {
	bc.notificationsOnce.Do(func() { close(bc.notifications) })
}

func (bc *BaseChannel) createResponseChannel(id string) (chan inboundFrame, error) {
	bc.responseChannelsLock.Lock()
	defer bc.responseChannelsLock.Unlock()

	if _, ok := bc.responseChannels[id]; ok {
		return nil, fmt.Errorf("%w: %v", ErrIDInUse, id)
	}

	ch := make(chan inboundFrame, 1)
	bc.responseChannels[id] = ch
	return ch, nil
}

func (bc *BaseChannel) removeResponseChannel(id string) {
	bc.responseChannelsLock.Lock()
	defer bc.responseChannelsLock.Unlock()
	delete(bc.responseChannels, id)
}

func (bc *BaseChannel) getResponseChannel(id string) (chan inboundFrame, bool) {
	bc.responseChannelsLock.RLock()
	defer bc.responseChannelsLock.RUnlock()
	ch, ok := bc.responseChannels[id]
	return ch, ok
}

// route delivers one decoded frame: responses to their waiting sender,
// notifications to the broadcast stream. A response whose sender already
// gave up is dropped.
func (bc *BaseChannel) route(frame inboundFrame) {
	if frame.ID == "" {
		select {
		case bc.notifications <- Notification{Method: frame.Method, Type: frame.Type, Payload: frame.Payload}:
		default:
			bc.logger.Warn("notification dropped, consumer too slow", "method", frame.Method, "type", frame.Type)
		}
		return
	}

	ch, ok := bc.getResponseChannel(frame.ID)
	if !ok {
		bc.logger.Debug("response for unknown request dropped", "id", frame.ID)
		return
	}
	select {
	case ch <- frame:
	default:
	}
}

func (bc *BaseChannel) preConnectionChecks() error {
	if bc.baseURL == "" {
		return ErrNoBaseURL
	}
	if bc.marshaler == nil {
		return ErrNoMarshaler
	}
	if bc.unmarshaler == nil {
		return ErrNoUnmarshaler
	}
	return nil
}
