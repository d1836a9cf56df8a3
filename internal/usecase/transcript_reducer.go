package usecase

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cosmosai/internal/domain"
	"cosmosai/internal/ports"
)

// transcriptReducer owns the message log and the live fragment. It only
// receives updates and reports them to the sink; it never calls back into
// the controller.
type transcriptReducer struct {
	mu       sync.Mutex
	messages []domain.Message
	live     *domain.LiveFragment

	events ports.EventSink
	log    zerolog.Logger
	newID  func() string
}

func newTranscriptReducer(events ports.EventSink, logger zerolog.Logger) *transcriptReducer {
	return &transcriptReducer{
		events: events,
		log:    logger,
		newID:  uuid.NewString,
	}
}

// Apply merges one vendor transcript update. Malformed updates are dropped.
func (r *transcriptReducer) Apply(update domain.TranscriptUpdate) {
	switch update.Kind {
	case domain.TranscriptKindPartial:
		entry, ok := r.singleEntry(update)
		if !ok {
			return
		}
		r.setLive(entry)
	case domain.TranscriptKindFinal:
		entry, ok := r.singleEntry(update)
		if !ok {
			return
		}
		r.appendFinal(entry)
	case domain.TranscriptKindBatch:
		r.appendBatch(update.Entries)
	default:
		r.log.Debug().Str("kind", string(update.Kind)).Msg("ignoring transcript update of unknown kind")
	}
}

// AppendSystem appends a locally synthesized notice without deduplication.
func (r *transcriptReducer) AppendSystem(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	r.mu.Lock()
	message := domain.Message{ID: r.newID(), Role: domain.RoleSystem, Text: text}
	r.messages = append(r.messages, message)
	r.mu.Unlock()

	r.events.MessageAppended(message)
}

// ClearLive drops the live fragment, if any.
func (r *transcriptReducer) ClearLive() {
	r.mu.Lock()
	had := r.live != nil
	r.live = nil
	r.mu.Unlock()

	if had {
		r.events.LiveTranscript(nil)
	}
}

func (r *transcriptReducer) Snapshot() domain.TranscriptSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := domain.TranscriptSnapshot{Messages: make([]domain.Message, len(r.messages))}
	copy(snapshot.Messages, r.messages)
	if r.live != nil {
		live := *r.live
		snapshot.Live = &live
	}
	return snapshot
}

func (r *transcriptReducer) setLive(entry domain.TranscriptEntry) {
	fragment := domain.LiveFragment{Role: entry.Role, Text: entry.Text}

	r.mu.Lock()
	r.live = &fragment
	r.mu.Unlock()

	r.events.LiveTranscript(&fragment)
}

func (r *transcriptReducer) appendFinal(entry domain.TranscriptEntry) {
	r.mu.Lock()
	hadLive := r.live != nil
	r.live = nil

	var appended *domain.Message
	last := len(r.messages) - 1
	if last < 0 || r.messages[last].Role != entry.Role || r.messages[last].Text != entry.Text {
		message := domain.Message{ID: r.newID(), Role: entry.Role, Text: entry.Text}
		r.messages = append(r.messages, message)
		appended = &message
	}
	r.mu.Unlock()

	if hadLive {
		r.events.LiveTranscript(nil)
	}
	if appended == nil {
		r.log.Debug().Str("role", string(entry.Role)).Msg("dropping duplicate final transcript")
		return
	}
	r.events.MessageAppended(*appended)
}

// appendBatch diffs a cumulative vendor list against the log by role and
// text and appends only unseen entries, in vendor order.
func (r *transcriptReducer) appendBatch(entries []domain.TranscriptEntry) {
	if len(entries) == 0 {
		r.log.Debug().Msg("ignoring empty transcript batch")
		return
	}

	r.mu.Lock()
	seen := make(map[domain.TranscriptEntry]struct{}, len(r.messages)+len(entries))
	for _, message := range r.messages {
		if message.Role == domain.RoleSystem {
			continue
		}
		seen[domain.TranscriptEntry{Role: message.Role, Text: message.Text}] = struct{}{}
	}

	var appended []domain.Message
	for _, raw := range entries {
		entry, ok := normalizeEntry(raw)
		if !ok {
			continue
		}
		if _, exists := seen[entry]; exists {
			continue
		}
		seen[entry] = struct{}{}
		message := domain.Message{ID: r.newID(), Role: entry.Role, Text: entry.Text}
		r.messages = append(r.messages, message)
		appended = append(appended, message)
	}
	r.mu.Unlock()

	for _, message := range appended {
		r.events.MessageAppended(message)
	}
}

func (r *transcriptReducer) singleEntry(update domain.TranscriptUpdate) (domain.TranscriptEntry, bool) {
	if len(update.Entries) != 1 {
		r.log.Debug().
			Str("kind", string(update.Kind)).
			Int("entries", len(update.Entries)).
			Msg("ignoring malformed transcript update")
		return domain.TranscriptEntry{}, false
	}
	entry, ok := normalizeEntry(update.Entries[0])
	if !ok {
		r.log.Debug().Str("kind", string(update.Kind)).Msg("ignoring empty transcript entry")
	}
	return entry, ok
}

func normalizeEntry(entry domain.TranscriptEntry) (domain.TranscriptEntry, bool) {
	text := strings.TrimSpace(entry.Text)
	if text == "" {
		return domain.TranscriptEntry{}, false
	}
	switch entry.Role {
	case domain.RoleCaller, domain.RoleAgent:
		return domain.TranscriptEntry{Role: entry.Role, Text: text}, true
	default:
		return domain.TranscriptEntry{}, false
	}
}
