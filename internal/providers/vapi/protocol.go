package vapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"cosmosai/internal/domain"
	"cosmosai/internal/providers"
)

// Protocol decodes Vapi web call events.
type Protocol struct{}

func (Protocol) Name() string { return "vapi" }

// DialURL joins the call's own URL unless an events base is configured.
func (Protocol) DialURL(base string, req domain.StartRequest) (string, http.Header, error) {
	callURL := strings.TrimSpace(req.Credential.URL)
	callID := strings.TrimSpace(req.Credential.SessionID)

	var target string
	switch {
	case strings.TrimSpace(base) != "":
		if callID == "" {
			return "", nil, errors.New("vapi call id is empty")
		}
		target = providers.WebSocketURL(base) + "/" + url.PathEscape(callID)
	case callURL != "":
		target = providers.WebSocketURL(callURL)
	default:
		return "", nil, errors.New("vapi web call url is empty")
	}

	eventsURL, err := url.Parse(target)
	if err != nil {
		return "", nil, fmt.Errorf("invalid vapi events url: %w", err)
	}
	if req.SampleRate > 0 {
		query := eventsURL.Query()
		query.Set("sample_rate", strconv.Itoa(req.SampleRate))
		eventsURL.RawQuery = query.Encode()
	}

	header := http.Header{}
	if token := strings.TrimSpace(req.Credential.Token); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return eventsURL.String(), header, nil
}

func (p Protocol) Decode(payload []byte) ([]domain.VendorEvent, error) {
	var frame eventFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return nil, fmt.Errorf("invalid vapi event: %w", err)
	}
	if frame.Type == "message" && len(frame.Message) > 0 && frame.Message[0] == '{' {
		return p.Decode(frame.Message)
	}

	switch frame.Type {
	case "call-start":
		return []domain.VendorEvent{{Kind: domain.VendorEventSessionStarted}}, nil
	case "call-end":
		return []domain.VendorEvent{{Kind: domain.VendorEventSessionEnded}}, nil
	case "speech-start", "speech-end":
		if frame.Role != "" && frame.Role != "assistant" {
			return nil, nil
		}
		kind := domain.VendorEventAgentSpeakingStarted
		if frame.Type == "speech-end" {
			kind = domain.VendorEventAgentSpeakingStopped
		}
		return []domain.VendorEvent{{Kind: kind}}, nil
	case "transcript":
		return decodeTranscript(frame)
	case "error":
		return []domain.VendorEvent{{Kind: domain.VendorEventError, Detail: errorDetail(frame)}}, nil
	default:
		return nil, nil
	}
}

type eventFrame struct {
	Type           string          `json:"type"`
	Role           string          `json:"role"`
	TranscriptType string          `json:"transcriptType"`
	Transcript     string          `json:"transcript"`
	Message        json.RawMessage `json:"message"`
	Error          json.RawMessage `json:"error"`
}

func decodeTranscript(frame eventFrame) ([]domain.VendorEvent, error) {
	var kind domain.TranscriptKind
	switch frame.TranscriptType {
	case "partial":
		kind = domain.TranscriptKindPartial
	case "final":
		kind = domain.TranscriptKindFinal
	default:
		return nil, fmt.Errorf("unknown vapi transcript type %q", frame.TranscriptType)
	}
	return []domain.VendorEvent{{
		Kind: domain.VendorEventTranscript,
		Transcript: &domain.TranscriptUpdate{
			Kind:    kind,
			Entries: []domain.TranscriptEntry{{Role: mapRole(frame.Role), Text: frame.Transcript}},
		},
	}}, nil
}

// errorDetail accepts both a plain string and an object carrying a message.
func errorDetail(frame eventFrame) string {
	for _, raw := range []json.RawMessage{frame.Error, frame.Message} {
		if len(raw) == 0 {
			continue
		}
		var text string
		if err := json.Unmarshal(raw, &text); err == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text)
		}
		var object struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(raw, &object); err == nil && strings.TrimSpace(object.Message) != "" {
			return strings.TrimSpace(object.Message)
		}
	}
	return ""
}

func mapRole(role string) domain.Role {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "assistant", "bot":
		return domain.RoleAgent
	case "user":
		return domain.RoleCaller
	default:
		return domain.Role(role)
	}
}
