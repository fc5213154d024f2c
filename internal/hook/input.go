// Package hook defines the typed payloads the host session manager passes to
// nous lifecycle entry points on stdin, and decoders for them.
package hook

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/aeo-labs/nous/internal/errors"
)

// Hook event names as sent by the host session manager.
const (
	EventSessionStart = "SessionStart"
	EventStop         = "Stop"
)

// Session source values for SessionStart.
const (
	SourceStartup = "startup"
	SourceResume  = "resume"
	SourceClear   = "clear"
	SourceCompact = "compact"
)

// SessionStartInput is the SessionStart hook payload.
type SessionStartInput struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	CWD            string `json:"cwd"`
	HookEventName  string `json:"hook_event_name"`
	Source         string `json:"source"`
	PermissionMode string `json:"permission_mode,omitempty"`
	Model          string `json:"model,omitempty"` // not always provided (resume, clear)
	AgentType      string `json:"agent_type,omitempty"`
}

// StopInput is the Stop hook payload.
type StopInput struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	CWD            string `json:"cwd"`
	HookEventName  string `json:"hook_event_name"`
	PermissionMode string `json:"permission_mode,omitempty"`
	StopHookActive bool   `json:"stop_hook_active"`
}

// StopDecision is the structured response a Stop hook may print to instruct
// the host to prevent normal session termination.
type StopDecision struct {
	Decision string `json:"decision"` // "block"
	Reason   string `json:"reason"`
}

// Envelope carries the fields common to every hook payload, used to route
// before full decoding.
type Envelope struct {
	HookEventName string `json:"hook_event_name"`
	SessionID     string `json:"session_id"`
	CWD           string `json:"cwd"`
}

// ReadEnvelope reads all of r and peeks at the routing fields.
// The raw bytes are returned for a second, typed decode.
func ReadEnvelope(r io.Reader) (Envelope, []byte, error) {
	var env Envelope
	raw, err := io.ReadAll(r)
	if err != nil {
		return env, nil, errors.NewInternal(fmt.Errorf("read stdin: %w", err))
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, raw, errors.NewInvalidRequest(fmt.Sprintf("hook payload is not valid JSON: %v", err))
	}
	return env, raw, nil
}

// DecodeSessionStart decodes and validates a SessionStart payload.
func DecodeSessionStart(raw []byte) (*SessionStartInput, error) {
	var in SessionStartInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("SessionStart payload: %v", err))
	}
	if in.SessionID == "" {
		return nil, errors.NewInvalidRequest("session_id is required")
	}
	if in.CWD == "" {
		return nil, errors.NewInvalidRequest("cwd is required")
	}
	return &in, nil
}

// DecodeStop decodes and validates a Stop payload.
func DecodeStop(raw []byte) (*StopInput, error) {
	var in StopInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("Stop payload: %v", err))
	}
	if in.SessionID == "" {
		return nil, errors.NewInvalidRequest("session_id is required")
	}
	if in.CWD == "" {
		return nil, errors.NewInvalidRequest("cwd is required")
	}
	if in.TranscriptPath == "" {
		return nil, errors.NewInvalidRequest("transcript_path is required")
	}
	return &in, nil
}
