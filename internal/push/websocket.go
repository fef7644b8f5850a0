package push

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"
)

const (
	defaultClientBuffer    = 32
	maxDecodeErrorsPerConn = 5
)

// UserIDFunc extracts the authenticated user from a request context.
type UserIDFunc func(ctx context.Context) (uuid.UUID, bool)

// ErrorCoder maps a subscription error to a client-facing code and message.
type ErrorCoder func(err error) (code, message string)

// HandlerOption configures the websocket handler.
type HandlerOption func(*wsHandler)

// WithClientBuffer sets how many frames may queue per connection before the
// client is considered slow.
func WithClientBuffer(n int) HandlerOption {
	return func(h *wsHandler) { h.buffer = n }
}

// WithErrorCoder sets how subscription errors are reported to clients.
func WithErrorCoder(f ErrorCoder) HandlerOption {
	return func(h *wsHandler) { h.codeFor = f }
}

type wsHandler struct {
	gateway *Gateway
	userID  UserIDFunc
	buffer  int
	codeFor ErrorCoder
}

// Handler serves the push socket. The request must already be authenticated;
// userID reads the user the auth middleware stored in the context.
func (g *Gateway) Handler(userID UserIDFunc, opts ...HandlerOption) http.Handler {
	h := &wsHandler{
		gateway: g,
		userID:  userID,
		buffer:  defaultClientBuffer,
		codeFor: func(err error) (string, string) { return "UNAVAILABLE", "subscription failed" },
	}
	for _, opt := range opts {
		opt(h)
	}

	ws := websocket.Handler(h.serveConn)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if _, ok := userID(r.Context()); !ok {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		ws.ServeHTTP(w, r)
	})
}

func (h *wsHandler) serveConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	ctx := conn.Request().Context()
	userID, _ := h.userID(ctx)
	log := h.gateway.logger.With("user_id", userID)

	client := NewClient(userID, h.buffer)
	h.gateway.Connect(client)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(conn, client)
	}()

	h.readLoop(ctx, conn, client)

	h.gateway.Disconnect(client)
	<-writerDone
	log.Debug("push connection closed", "client_id", client.ID())
}

// writeLoop drains the client's buffer onto the socket until the gateway
// drops the client or a write fails.
func (h *wsHandler) writeLoop(conn *websocket.Conn, client *Client) {
	encoder := json.NewEncoder(conn)
	for {
		select {
		case <-client.Closed():
			_ = conn.Close()
			return
		case frame := <-client.Outbound():
			if err := encoder.Encode(frame); err != nil {
				h.gateway.Disconnect(client)
				_ = conn.Close()
				return
			}
		}
	}
}

func (h *wsHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *Client) {
	decoder := json.NewDecoder(conn)
	decodeErrors := 0

	for {
		var frame Frame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) || isClosed(client) {
				return
			}
			decodeErrors++
			client.send(errorFrame("", "INVALID_ARGUMENT", "invalid frame payload"))
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		switch frame.Type {
		case FrameSubscribe:
			h.handleSubscribe(ctx, client, frame)
		case FrameUnsubscribe:
			h.handleUnsubscribe(client, frame)
		case FrameResync:
			h.handleResync(ctx, client, frame)
		default:
			client.send(errorFrame(frame.RequestID, "INVALID_ARGUMENT", "unsupported frame type"))
		}
	}
}

func (h *wsHandler) handleSubscribe(ctx context.Context, client *Client, frame Frame) {
	req, ok := h.decodeRequest(client, frame)
	if !ok {
		return
	}

	if strings.TrimSpace(req.SessionID) == "" {
		if err := h.gateway.SubscribeUser(client); err != nil {
			return
		}
		h.ack(client, frame.RequestID, "subscribed", "")
		return
	}

	sessionID, ok := h.parseSessionID(client, frame.RequestID, req.SessionID)
	if !ok {
		return
	}
	if err := h.gateway.Subscribe(ctx, client, sessionID, frame.RequestID); err != nil {
		h.reportError(client, frame.RequestID, err)
		return
	}
	h.ack(client, frame.RequestID, "subscribed", sessionID.String())
}

func (h *wsHandler) handleUnsubscribe(client *Client, frame Frame) {
	req, ok := h.decodeRequest(client, frame)
	if !ok {
		return
	}

	if strings.TrimSpace(req.SessionID) == "" {
		h.gateway.UnsubscribeUser(client)
		h.ack(client, frame.RequestID, "unsubscribed", "")
		return
	}

	sessionID, ok := h.parseSessionID(client, frame.RequestID, req.SessionID)
	if !ok {
		return
	}
	h.gateway.Unsubscribe(client, sessionID)
	h.ack(client, frame.RequestID, "unsubscribed", sessionID.String())
}

func (h *wsHandler) handleResync(ctx context.Context, client *Client, frame Frame) {
	req, ok := h.decodeRequest(client, frame)
	if !ok {
		return
	}
	sessionID, ok := h.parseSessionID(client, frame.RequestID, req.SessionID)
	if !ok {
		return
	}
	if err := h.gateway.Resync(ctx, client, sessionID, frame.RequestID); err != nil {
		h.reportError(client, frame.RequestID, err)
	}
}

func (h *wsHandler) decodeRequest(client *Client, frame Frame) (SessionRequest, bool) {
	var req SessionRequest
	if len(frame.Payload) == 0 {
		return req, true
	}
	if err := json.Unmarshal(frame.Payload, &req); err != nil {
		client.send(errorFrame(frame.RequestID, "INVALID_ARGUMENT", "invalid session payload"))
		return req, false
	}
	return req, true
}

func (h *wsHandler) parseSessionID(client *Client, requestID, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil || id == uuid.Nil {
		client.send(errorFrame(requestID, "INVALID_ARGUMENT", "session_id must be a valid UUID"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *wsHandler) ack(client *Client, requestID, status, sessionID string) {
	frame, err := newFrame(FrameAck, requestID, AckPayload{Status: status, SessionID: sessionID})
	if err == nil {
		client.send(frame)
	}
}

func (h *wsHandler) reportError(client *Client, requestID string, err error) {
	if errors.Is(err, ErrClientClosed) {
		return
	}
	code, message := h.codeFor(err)
	client.send(errorFrame(requestID, code, message))
}

func isClosed(c *Client) bool {
	select {
	case <-c.Closed():
		return true
	default:
		return false
	}
}
