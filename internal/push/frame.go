package push

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/pomo-api/internal/domain"
	"github.com/phrazzld/pomo-api/internal/events"
)

// Frame types exchanged over the socket.
const (
	FrameSubscribe   = "session.subscribe"
	FrameUnsubscribe = "session.unsubscribe"
	FrameResync      = "session.resync"
	FrameState       = "session.state"
	FrameError       = "session.error"
	FrameAck         = "session.ack"
)

// Frame is the envelope for every socket message.
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// SessionRequest is the payload of client subscribe, unsubscribe and resync
// frames. An empty SessionID on subscribe means every session of the user.
type SessionRequest struct {
	SessionID string `json:"session_id"`
}

// StatePayload is the payload of a session.state frame.
type StatePayload struct {
	SessionID     uuid.UUID             `json:"session_id"`
	TaskID        uuid.UUID             `json:"task_id"`
	Reason        events.Reason         `json:"reason,omitempty"`
	Status        domain.SessionStatus  `json:"status"`
	PlannedMs     int64                 `json:"planned_ms"`
	AccumulatedMs int64                 `json:"accumulated_ms"`
	RemainingMs   int64                 `json:"remaining_ms"`
	Interruptions []domain.Interruption `json:"interruptions"`
	ServerTime    time.Time             `json:"server_time"`
}

// ErrorPayload is the payload of a session.error frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AckPayload confirms a subscription change.
type AckPayload struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
}

func newStatePayload(reason events.Reason, snap domain.SessionSnapshot) StatePayload {
	interruptions := snap.Interruptions
	if interruptions == nil {
		interruptions = []domain.Interruption{}
	}
	return StatePayload{
		SessionID:     snap.SessionID,
		TaskID:        snap.TaskID,
		Reason:        reason,
		Status:        snap.Status,
		PlannedMs:     snap.PlannedMs,
		AccumulatedMs: snap.AccumulatedMs,
		RemainingMs:   snap.RemainingMs,
		Interruptions: interruptions,
		ServerTime:    snap.ServerTime,
	}
}

func newFrame(frameType, requestID string, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: frameType, RequestID: requestID, Payload: raw}, nil
}

func stateFrame(requestID string, reason events.Reason, snap domain.SessionSnapshot) (Frame, error) {
	return newFrame(FrameState, requestID, newStatePayload(reason, snap))
}

func errorFrame(requestID, code, message string) Frame {
	f, _ := newFrame(FrameError, requestID, ErrorPayload{Code: code, Message: message})
	return f
}
