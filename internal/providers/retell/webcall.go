package retell

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cosmosai/internal/domain"
	"cosmosai/internal/providers"
)

const defaultAPIBase = "https://api.retellai.com"

// WebCallConfig controls the Retell REST API.
type WebCallConfig struct {
	APIBase    string
	HTTPClient *http.Client
}

// WebCallIssuer implements ports.CallIssuer for Retell.
type WebCallIssuer struct {
	cfg WebCallConfig
}

func NewWebCallIssuer(cfg WebCallConfig) *WebCallIssuer {
	if strings.TrimSpace(cfg.APIBase) == "" {
		cfg.APIBase = defaultAPIBase
	}
	cfg.APIBase = strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &WebCallIssuer{cfg: cfg}
}

func (i *WebCallIssuer) IssueCall(ctx context.Context, mode domain.ModeConfig) (domain.Credential, error) {
	if strings.TrimSpace(mode.APIKey) == "" || strings.TrimSpace(mode.AgentID) == "" {
		return domain.Credential{}, errors.New("retell api key and agent id are required")
	}

	body, err := json.Marshal(map[string]string{"agent_id": mode.AgentID})
	if err != nil {
		return domain.Credential{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.cfg.APIBase+"/v2/create-web-call", bytes.NewReader(body))
	if err != nil {
		return domain.Credential{}, fmt.Errorf("failed to build retell request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+mode.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.cfg.HTTPClient.Do(req)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("retell create-web-call failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.Credential{}, fmt.Errorf("failed to read retell response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.Credential{}, &providers.StatusError{Vendor: "retell", StatusCode: resp.StatusCode, Body: string(payload)}
	}

	var created struct {
		AccessToken string `json:"access_token"`
		CallID      string `json:"call_id"`
	}
	if err := json.Unmarshal(payload, &created); err != nil {
		return domain.Credential{}, fmt.Errorf("invalid retell response: %w", err)
	}
	if strings.TrimSpace(created.AccessToken) == "" {
		return domain.Credential{}, errors.New("retell response is missing access_token")
	}
	return domain.Credential{Token: created.AccessToken, SessionID: created.CallID}, nil
}
