package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/rolltable/rolltable.go/internal/rand"
)

const (
	requestIDLength  = 16
	defaultWSTimeout = 30 * time.Second
	closeMessageCode = 1000
)

// DefaultDialer is the gorilla dialer used by WebSocketChannel, with
// compression enabled and the cbor subprotocol announced.
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
	Subprotocols:      []string{"cbor"},
}

// WebSocketChannel speaks the session protocol over a websocket.
type WebSocketChannel struct {
	BaseChannel

	Conn     *gorilla.Conn
	connLock sync.Mutex

	// Timeout bounds the wait for a response after a successful send.
	// Zero disables it in favor of caller-provided context deadlines.
	Timeout time.Duration

	closeChan  chan struct{}
	closeOnce  sync.Once
	closeError error
	readDone   chan struct{}
}

func NewWebSocketChannel(p NewChannelParams) *WebSocketChannel {
	return &WebSocketChannel{
		BaseChannel: newBaseChannel(p),
		Timeout:     defaultWSTimeout,
		closeChan:   make(chan struct{}),
		closeError:  ErrClosed,
	}
}

func (ws *WebSocketChannel) Connect(ctx context.Context) error {
	if err := ws.preConnectionChecks(); err != nil {
		return err
	}

	conn, res, err := DefaultDialer.DialContext(ctx, fmt.Sprintf("%s/session", ws.baseURL), nil)
	if err != nil {
		return &TransportError{Op: "dial", Err: err}
	}
	defer res.Body.Close()

	ws.Conn = conn
	ws.readDone = make(chan struct{})
	go ws.readLoop()
	return nil
}

func (ws *WebSocketChannel) readLoop() {
	defer close(ws.readDone)
	for {
		select {
		case <-ws.closeChan:
			return
		default:
		}

		_, data, err := ws.Conn.ReadMessage()
		if err != nil {
			select {
			case <-ws.closeChan:
			default:
				ws.logger.Error("read failed, channel unusable", "error", err)
			}
			return
		}

		var frame inboundFrame
		if err := ws.unmarshaler.Unmarshal(data, &frame); err != nil {
			ws.logger.Error("failed to decode inbound frame", "error", err)
			continue
		}
		ws.route(frame)
	}
}

// Close sends a close frame, then tears the connection down regardless of
// whether the frame write succeeded, so local resources never leak.
func (ws *WebSocketChannel) Close(ctx context.Context) error {
	ws.connLock.Lock()
	defer ws.connLock.Unlock()

	ws.closeOnce.Do(func() { close(ws.closeChan) })

	if ws.Conn == nil {
		ws.closeNotifications()
		return nil
	}

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- ws.Conn.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(closeMessageCode, ""))
	}()

	select {
	case err := <-writeErr:
		if err != nil {
			ws.logger.Error("failed to write close message", "error", err)
		}
	case <-ctx.Done():
	}

	err := ws.Conn.Close()

	// The read loop exits promptly once the conn is closed; only after it
	// stops routing frames is the notification stream safe to close.
	<-ws.readDone
	ws.closeNotifications()
	return err
}

// Send issues one request and blocks until the correlated response, the
// context deadline or channel closure.
func (ws *WebSocketChannel) Send(ctx context.Context, dest any, method string, params ...any) error {
	if ws.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ws.Timeout)
		defer cancel()
	}

	select {
	case <-ws.closeChan:
		return ws.closeError
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	id := rand.NewRequestID(requestIDLength)
	request := &RPCRequest{
		ID:     id,
		Method: method,
		Params: params,
	}

	responseChan, err := ws.createResponseChannel(id)
	if err != nil {
		return err
	}
	defer ws.removeResponseChannel(id)

	if err := ws.write(request); err != nil {
		return &TransportError{Op: "write", Err: err}
	}

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrTimeout, method)
		}
		return ctx.Err()
	case <-ws.closeChan:
		return ws.closeError
	case frame, open := <-responseChan:
		if !open {
			return &TransportError{Op: "receive", Err: errors.New("response channel closed")}
		}
		return decodeResult(ws.unmarshaler, frame, dest)
	}
}

func decodeResult(unmarshaler interface {
	Unmarshal(data []byte, dst any) error
}, frame inboundFrame, dest any,
) error {
	if frame.Error != nil {
		return frame.Error
	}
	if dest == nil || len(frame.Result) == 0 {
		return nil
	}
	if err := unmarshaler.Unmarshal(frame.Result, dest); err != nil {
		return fmt.Errorf("error unmarshaling response: %w", err)
	}
	return nil
}

func (ws *WebSocketChannel) write(v any) error {
	data, err := ws.marshaler.Marshal(v)
	if err != nil {
		return err
	}

	ws.connLock.Lock()
	defer ws.connLock.Unlock()
	if ws.Conn == nil {
		return ErrClosed
	}
	return ws.Conn.WriteMessage(gorilla.BinaryMessage, data)
}
