package retell

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

const defaultEventsURL = "wss://api.retellai.com/audio-websocket"

// Protocol decodes Retell web-call events.
type Protocol struct{}

func (Protocol) Name() string { return "retell" }

func (Protocol) DialURL(base string, req domain.StartRequest) (string, http.Header, error) {
	token := strings.TrimSpace(req.Credential.Token)
	if token == "" {
		return "", nil, errors.New("retell access token is empty")
	}
	callID := strings.TrimSpace(req.Credential.SessionID)
	if callID == "" {
		return "", nil, errors.New("retell call id is empty")
	}

	if strings.TrimSpace(base) == "" {
		base = defaultEventsURL
	}
	eventsURL, err := url.Parse(providers.WebSocketURL(base) + "/" + url.PathEscape(callID))
	if err != nil {
		return "", nil, fmt.Errorf("invalid retell events url: %w", err)
	}

	query := eventsURL.Query()
	query.Set("enable_update", "true")
	if req.SampleRate > 0 {
		query.Set("sample_rate", strconv.Itoa(req.SampleRate))
	}
	eventsURL.RawQuery = query.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	return eventsURL.String(), header, nil
}

func (Protocol) Decode(payload []byte) ([]domain.VendorEvent, error) {
	var frame eventFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return nil, fmt.Errorf("invalid retell event: %w", err)
	}

	switch frame.EventType {
	case "call_started":
		return []domain.VendorEvent{{Kind: domain.VendorEventSessionStarted}}, nil
	case "call_ended":
		return []domain.VendorEvent{{Kind: domain.VendorEventSessionEnded}}, nil
	case "agent_start_talking":
		return []domain.VendorEvent{{Kind: domain.VendorEventAgentSpeakingStarted}}, nil
	case "agent_stop_talking":
		return []domain.VendorEvent{{Kind: domain.VendorEventAgentSpeakingStopped}}, nil
	case "update":
		if len(frame.Transcript) == 0 {
			return nil, nil
		}
		entries := make([]domain.TranscriptEntry, 0, len(frame.Transcript))
		for _, utterance := range frame.Transcript {
			entries = append(entries, domain.TranscriptEntry{Role: mapRole(utterance.Role), Text: utterance.Content})
		}

		// The newest utterance may still be growing, so it also feeds the
		// live preview.
		var events []domain.VendorEvent
		if last := entries[len(entries)-1]; strings.TrimSpace(last.Text) != "" {
			events = append(events, domain.VendorEvent{
				Kind:       domain.VendorEventTranscript,
				Transcript: &domain.TranscriptUpdate{Kind: domain.TranscriptKindPartial, Entries: []domain.TranscriptEntry{last}},
			})
		}
		return append(events, domain.VendorEvent{
			Kind:       domain.VendorEventTranscript,
			Transcript: &domain.TranscriptUpdate{Kind: domain.TranscriptKindBatch, Entries: entries},
		}), nil
	case "error":
		return []domain.VendorEvent{{Kind: domain.VendorEventError, Detail: strings.TrimSpace(frame.Message)}}, nil
	default:
		return nil, nil
	}
}

type eventFrame struct {
	EventType  string      `json:"event_type"`
	Message    string      `json:"message"`
	Transcript []utterance `json:"transcript"`
}

type utterance struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func mapRole(role string) domain.Role {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "agent":
		return domain.RoleAgent
	case "user":
		return domain.RoleCaller
	default:
		return domain.Role(role)
	}
}
