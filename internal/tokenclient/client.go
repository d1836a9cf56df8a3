package tokenclient

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

	"github.com/rs/zerolog"

	"cosmosai/internal/domain"
)

var ErrEmptyCredential = errors.New("could not obtain access token")

// Client implements ports.CredentialSource against the token broker.
type Client struct {
	url  string
	http *http.Client
	log  zerolog.Logger
}

func New(brokerURL string, httpClient *http.Client, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &Client{url: strings.TrimSpace(brokerURL), http: httpClient, log: logger}
}

// FetchCredential asks the broker for a session credential. Broker failures
// come back with the broker's own error message.
func (c *Client) FetchCredential(ctx context.Context, mode domain.Mode) (domain.Credential, error) {
	if c.url == "" {
		return domain.Credential{}, errors.New("token broker url is not configured")
	}

	body, err := json.Marshal(map[string]string{"mode": string(mode)})
	if err != nil {
		return domain.Credential{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return domain.Credential{}, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("token broker unreachable: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.Credential{}, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var failure struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(payload, &failure)
		c.log.Warn().Int("status", resp.StatusCode).Str("mode", string(mode)).Str("error", failure.Error).Msg("token request rejected")
		if message := strings.TrimSpace(failure.Error); message != "" {
			return domain.Credential{}, errors.New(message)
		}
		return domain.Credential{}, fmt.Errorf("token broker returned status %d", resp.StatusCode)
	}

	var credential domain.Credential
	if err := json.Unmarshal(payload, &credential); err != nil {
		return domain.Credential{}, fmt.Errorf("invalid token response: %w", err)
	}
	if strings.TrimSpace(credential.Token) == "" && strings.TrimSpace(credential.URL) == "" {
		return domain.Credential{}, ErrEmptyCredential
	}
	return credential, nil
}
