package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"cosmosai/internal/domain"
	"cosmosai/internal/leads"
	"cosmosai/internal/ports"
	"cosmosai/internal/providers"
)

const maxBodyBytes = 64 << 10

// ModeLookup resolves server-side secrets for a mode.
type ModeLookup interface {
	ModeNames() []domain.Mode
	LookupMode(mode domain.Mode) (domain.ModeConfig, bool)
}

// Handler serves the token broker and lead capture endpoints.
type Handler struct {
	Modes  ModeLookup
	Issuer ports.CallIssuer
	Leads  ports.LeadStore
	Log    zerolog.Logger
}

// Token exchanges a mode for a vendor session credential. Secrets never
// leave the server; vendor failures are reported generically.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var body struct {
		Mode string `json:"mode"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.Log.Warn().Err(err).Msg("token request body rejected")
	}

	mode := domain.Mode(strings.TrimSpace(body.Mode))
	modeCfg, ok := h.Modes.LookupMode(mode)
	if mode == "" || !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid mode. Must be one of: " + joinModes(h.Modes.ModeNames())})
		return
	}
	if strings.TrimSpace(modeCfg.APIKey) == "" || strings.TrimSpace(modeCfg.AgentID) == "" {
		h.Log.Error().Str("mode", string(mode)).Msg("missing vendor configuration for mode")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Server configuration error"})
		return
	}

	credential, err := h.Issuer.IssueCall(r.Context(), modeCfg)
	if err != nil {
		var statusErr *providers.StatusError
		if errors.As(err, &statusErr) {
			h.Log.Error().Int("status", statusErr.StatusCode).Str("body", statusErr.Body).Str("mode", string(mode)).Msg("vendor rejected web call")
			writeJSON(w, statusErr.StatusCode, map[string]string{"error": "Failed to create call"})
			return
		}
		h.Log.Error().Err(err).Str("mode", string(mode)).Msg("web call creation failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	h.Log.Info().Str("mode", string(mode)).Str("session_id", credential.SessionID).Msg("credential issued")
	writeJSON(w, http.StatusOK, credential)
}

// CreateLead stores a lead-capture submission.
func (h *Handler) CreateLead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var input domain.LeadInput
	if err := decodeBody(r, &input); err != nil {
		h.Log.Warn().Err(err).Msg("lead request body rejected")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	input, err := leads.Normalize(input)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Name and mobile are required"})
		return
	}

	lead, err := h.Leads.CreateLead(r.Context(), input)
	if err != nil {
		h.Log.Error().Err(err).Msg("lead store failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": []domain.Lead{lead}})
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func joinModes(modes []domain.Mode) string {
	names := make([]string, 0, len(modes))
	for _, mode := range modes {
		names = append(names, string(mode))
	}
	return strings.Join(names, ", ")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
