package domain

import "time"

// SessionState models the voice session lifecycle.
type SessionState string

const (
	SessionStateIdle       SessionState = "idle"
	SessionStateConnecting SessionState = "connecting"
	SessionStateActive     SessionState = "active"
	SessionStateError      SessionState = "error"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonReady          SessionStateReason = "ready"
	SessionReasonConnecting     SessionStateReason = "connecting"
	SessionReasonSessionStarted SessionStateReason = "session_started"
	SessionReasonSessionEnded   SessionStateReason = "session_ended"
	SessionReasonSessionStopped SessionStateReason = "session_stopped"
	SessionReasonStartFailed    SessionStateReason = "start_failed"
	SessionReasonVendorError    SessionStateReason = "vendor_error"
	SessionReasonConnectTimeout SessionStateReason = "connect_timeout"
	SessionReasonDisposed       SessionStateReason = "disposed"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup        ErrorCode = "startup"
	ErrorCodeCredential     ErrorCode = "credential"
	ErrorCodeVendorStart    ErrorCode = "vendor_start"
	ErrorCodeVendorRuntime  ErrorCode = "vendor_runtime"
	ErrorCodeVendorStop     ErrorCode = "vendor_stop"
	ErrorCodeConnectTimeout ErrorCode = "connect_timeout"
)

// Activity tells whether the agent is talking while a session is active.
type Activity string

const (
	ActivityListening Activity = "listening"
	ActivitySpeaking  Activity = "speaking"
)

// Mode selects the spoken language or agent variant for a session.
type Mode string

// Role identifies who produced a transcript line.
type Role string

const (
	RoleCaller Role = "caller"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// Message is one finalized, immutable transcript entry.
type Message struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// LiveFragment previews an utterance that is still being transcribed.
type LiveFragment struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// TranscriptSnapshot is a copy of the transcript log and live preview.
type TranscriptSnapshot struct {
	Messages []Message     `json:"messages"`
	Live     *LiveFragment `json:"live,omitempty"`
}

// TranscriptKind identifies how a vendor transcript update must be merged.
type TranscriptKind string

const (
	TranscriptKindPartial TranscriptKind = "partial"
	TranscriptKindFinal   TranscriptKind = "final"
	TranscriptKindBatch   TranscriptKind = "batch"
)

// TranscriptEntry is a single role/text pair reported by a vendor.
type TranscriptEntry struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// TranscriptUpdate carries one or more entries. Partial and final updates
// carry exactly one entry, batch updates carry the vendor's cumulative list.
type TranscriptUpdate struct {
	Kind    TranscriptKind    `json:"kind"`
	Entries []TranscriptEntry `json:"entries"`
}

// VendorEventKind is the normalized vendor event contract.
type VendorEventKind string

const (
	VendorEventSessionStarted       VendorEventKind = "session_started"
	VendorEventSessionEnded         VendorEventKind = "session_ended"
	VendorEventAgentSpeakingStarted VendorEventKind = "agent_speaking_started"
	VendorEventAgentSpeakingStopped VendorEventKind = "agent_speaking_stopped"
	VendorEventTranscript           VendorEventKind = "transcript"
	VendorEventError                VendorEventKind = "error"
)

// VendorEvent is one event delivered by a vendor client. Attempt echoes the
// StartRequest.Attempt of the connection that produced it.
type VendorEvent struct {
	Kind       VendorEventKind   `json:"kind"`
	Attempt    uint64            `json:"attempt,omitempty"`
	Transcript *TranscriptUpdate `json:"transcript,omitempty"`
	Detail     string            `json:"detail,omitempty"`
}

// Credential is a short-lived, single-use right to open one vendor session.
type Credential struct {
	Token     string `json:"credential"`
	SessionID string `json:"sessionId"`
	URL       string `json:"url,omitempty"`
}

// StartRequest is handed to the vendor client when a session opens. The
// client must tag every event of the resulting connection with Attempt.
type StartRequest struct {
	Credential Credential
	Mode       Mode
	SampleRate int
	Attempt    uint64
}

// Status summarizes the current runtime status.
type Status struct {
	State          SessionState `json:"state"`
	Active         bool         `json:"active"`
	Activity       Activity     `json:"activity,omitempty"`
	Mode           Mode         `json:"mode,omitempty"`
	ModeSelectable bool         `json:"modeSelectable"`
	Ready          bool         `json:"ready"`
}

// ModeConfig holds the server-side secrets needed to issue a credential.
type ModeConfig struct {
	Mode    Mode
	AgentID string
	APIKey  string
}

// LeadInput is the lead-capture form payload.
type LeadInput struct {
	Name        string `json:"name"`
	Mobile      string `json:"mobile"`
	Description string `json:"description"`
}

// Lead is a persisted lead-capture record.
type Lead struct {
	ID          string    `json:"id" msgpack:"id"`
	Name        string    `json:"name" msgpack:"name"`
	Mobile      string    `json:"mobile" msgpack:"mobile"`
	Description string    `json:"description" msgpack:"description"`
	CreatedAt   time.Time `json:"created_at" msgpack:"created_at"`
}
