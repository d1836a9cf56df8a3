package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"cosmosai/internal/domain"
	"cosmosai/internal/ports"
)

var (
	ErrNotReady          = errors.New("voice client is not ready")
	ErrSessionInProgress = errors.New("a voice session is already starting or active")
	ErrSessionAborted    = errors.New("voice session start was aborted")
	ErrModeRequired      = errors.New("select a mode before starting a session")
)

const (
	messageConnected     = "Connected. You can speak now."
	messageSessionEnded  = "Session ended."
	messageConnectFailed = "Connection failed: "
	messageVendorError   = "Error: "

	defaultConnectTimeout = 15 * time.Second
	defaultSampleRate     = 24000
	disposeGrace          = 2 * time.Second
)

// Config controls voice session behavior.
type Config struct {
	SettleDelay    time.Duration
	ConnectTimeout time.Duration
	SampleRate     int
}

// SessionController owns the vendor client and the single voice session.
type SessionController struct {
	provider    ports.VendorProvider
	credentials ports.CredentialSource
	events      ports.EventSink
	transcript  *transcriptReducer
	log         zerolog.Logger
	cfg         Config

	initMu  sync.Mutex
	startMu sync.Mutex

	mu       sync.Mutex
	client   ports.VendorClient
	pumpDone chan struct{}
	current  sessionRecord
}

func NewSessionController(
	provider ports.VendorProvider,
	credentials ports.CredentialSource,
	events ports.EventSink,
	logger zerolog.Logger,
	cfg Config,
) *SessionController {
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	return &SessionController{
		provider:    provider,
		credentials: credentials,
		events:      events,
		transcript:  newTranscriptReducer(events, logger),
		log:         logger,
		cfg:         cfg,
		current:     newSessionRecord(),
	}
}

// Init constructs the vendor client once, after the settle delay, and
// subscribes to its events. Calling Init again while a client is held is a
// no-op.
func (c *SessionController) Init(ctx context.Context) error {
	if c.ready() {
		return nil
	}

	if c.cfg.SettleDelay > 0 {
		timer := time.NewTimer(c.cfg.SettleDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	c.initMu.Lock()
	defer c.initMu.Unlock()
	if c.ready() {
		return nil
	}

	client, err := c.provider.NewClient(ctx)
	if err != nil {
		c.events.SessionError(domain.ErrorCodeStartup, err.Error())
		return fmt.Errorf("failed to initialize voice client: %w", err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.client = client
	c.pumpDone = done
	c.mu.Unlock()

	go c.pumpVendorEvents(client, done)

	c.log.Info().Msg("voice client initialized")
	c.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonReady)
	return nil
}

// StartSession opens a voice session for mode. Outcomes after the guard are
// reported through the event sink; the returned error mirrors them.
func (c *SessionController) StartSession(ctx context.Context, mode domain.Mode) error {
	c.mu.Lock()
	client := c.client
	if client == nil {
		c.mu.Unlock()
		c.log.Warn().Str("mode", string(mode)).Msg("start blocked: voice client not ready")
		return ErrNotReady
	}
	if c.current.state != domain.SessionStateIdle {
		state := c.current.state
		c.mu.Unlock()
		c.log.Info().Str("mode", string(mode)).Str("state", string(state)).Msg("start blocked: session already in flight")
		return ErrSessionInProgress
	}

	startCtx, cancel := context.WithCancel(ctx)
	generation := c.current.begin(mode, cancel)
	c.current.timeout = time.AfterFunc(c.cfg.ConnectTimeout, func() {
		c.connectTimedOut(generation)
	})
	c.mu.Unlock()

	c.log.Info().Str("mode", string(mode)).Uint64("generation", generation).Msg("session_start")
	c.events.SessionStateChanged(domain.SessionStateConnecting, domain.SessionReasonConnecting)

	credential, err := c.credentials.FetchCredential(startCtx, mode)
	if err != nil {
		return c.failStart(generation, domain.ErrorCodeCredential, err)
	}
	if strings.TrimSpace(credential.Token) == "" && strings.TrimSpace(credential.URL) == "" {
		return c.failStart(generation, domain.ErrorCodeCredential, errors.New("could not obtain access token"))
	}

	c.startMu.Lock()
	defer c.startMu.Unlock()

	if !c.isCurrent(generation, domain.SessionStateConnecting) {
		c.log.Info().Uint64("generation", generation).Msg("discarding stale session start after credential fetch")
		c.abandon(generation)
		return ErrSessionAborted
	}

	err = client.Start(startCtx, domain.StartRequest{
		Credential: credential,
		Mode:       mode,
		SampleRate: c.cfg.SampleRate,
		Attempt:    generation,
	})
	if err != nil {
		return c.failStart(generation, domain.ErrorCodeVendorStart, err)
	}

	if !c.isCurrent(generation, domain.SessionStateConnecting, domain.SessionStateActive) {
		c.log.Info().Uint64("generation", generation).Msg("session aborted while vendor start was in flight")
		c.stopClient(client)
		c.abandon(generation)
		return ErrSessionAborted
	}
	return nil
}

// StopSession ends a connecting or active session. It is a no-op when idle.
func (c *SessionController) StopSession() error {
	c.mu.Lock()
	client := c.client
	state := c.current.state
	if client == nil || state == domain.SessionStateIdle {
		c.mu.Unlock()
		return nil
	}
	c.current.reset(true)
	c.mu.Unlock()

	c.log.Info().Str("state", string(state)).Msg("manual stop requested")
	c.stopClient(client)

	c.transcript.ClearLive()
	if state == domain.SessionStateActive {
		c.transcript.AppendSystem(messageSessionEnded)
	}
	c.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonSessionStopped)
	return nil
}

// ToggleSession stops a session in flight or restarts the remembered mode.
func (c *SessionController) ToggleSession(ctx context.Context) error {
	c.mu.Lock()
	state := c.current.state
	mode := c.current.mode
	c.mu.Unlock()

	if state != domain.SessionStateIdle {
		return c.StopSession()
	}
	if mode == "" {
		return ErrModeRequired
	}
	return c.StartSession(ctx, mode)
}

// ResetMode forgets the selected mode. It only applies while idle.
func (c *SessionController) ResetMode() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current.state != domain.SessionStateIdle {
		return
	}
	c.current.mode = ""
	c.current.modeSelectable = true
}

// Dispose stops any session and releases the vendor client. It never fails.
func (c *SessionController) Dispose() {
	c.mu.Lock()
	client := c.client
	done := c.pumpDone
	state := c.current.state
	c.client = nil
	c.pumpDone = nil
	if state != domain.SessionStateIdle {
		c.current.reset(true)
	}
	c.mu.Unlock()

	if client == nil {
		return
	}

	c.log.Info().Msg("disposing voice client")
	c.stopClient(client)
	c.closeClient(client)

	if done != nil {
		timer := time.NewTimer(disposeGrace)
		select {
		case <-done:
			timer.Stop()
		case <-timer.C:
			c.log.Warn().Msg("vendor event stream did not close during dispose")
		}
	}

	c.transcript.ClearLive()
	if state != domain.SessionStateIdle {
		c.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonDisposed)
	}
}

// Status returns the current controller status.
func (c *SessionController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := domain.Status{
		State:          c.current.state,
		Active:         c.current.state == domain.SessionStateActive,
		Mode:           c.current.mode,
		ModeSelectable: c.current.modeSelectable && c.current.state == domain.SessionStateIdle,
		Ready:          c.client != nil,
	}
	if status.Active {
		status.Activity = c.current.activity
	}
	return status
}

// Transcript returns a copy of the message log and the live fragment.
func (c *SessionController) Transcript() domain.TranscriptSnapshot {
	return c.transcript.Snapshot()
}

func (c *SessionController) ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil
}

func (c *SessionController) isCurrent(generation uint64, states ...domain.SessionState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.matches(generation, states...)
}

// abandon returns generation's session to Idle if it is still the current
// one. A continuation that finds its own session in an unexpected state must
// not leave it there.
func (c *SessionController) abandon(generation uint64) {
	c.mu.Lock()
	if c.current.generation != generation || c.current.state == domain.SessionStateIdle {
		c.mu.Unlock()
		return
	}
	state := c.current.state
	c.current.reset(true)
	c.mu.Unlock()

	c.log.Warn().Uint64("generation", generation).Str("state", string(state)).Msg("resetting session left behind by an aborted start")
	c.transcript.ClearLive()
	c.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonSessionStopped)
}

func (c *SessionController) failStart(generation uint64, code domain.ErrorCode, cause error) error {
	c.mu.Lock()
	if !c.current.matches(generation, domain.SessionStateConnecting) {
		c.mu.Unlock()
		c.log.Info().Err(cause).Uint64("generation", generation).Msg("ignoring failure of a superseded session start")
		return ErrSessionAborted
	}
	c.current.reset(true)
	c.mu.Unlock()

	detail := failureDetail(cause, "Could not establish connection")
	c.log.Error().Err(cause).Str("code", string(code)).Msg("session start failed")

	c.transcript.AppendSystem(messageConnectFailed + detail)
	c.events.SessionError(code, detail)
	c.events.SessionStateChanged(domain.SessionStateError, domain.SessionReasonStartFailed)
	c.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonStartFailed)
	return cause
}

func (c *SessionController) connectTimedOut(generation uint64) {
	c.mu.Lock()
	if !c.current.matches(generation, domain.SessionStateConnecting) {
		c.mu.Unlock()
		return
	}
	client := c.client
	c.current.reset(true)
	c.mu.Unlock()

	c.log.Warn().Dur("timeout", c.cfg.ConnectTimeout).Msg("session did not start in time")
	if client != nil {
		c.stopClient(client)
	}

	detail := "timed out waiting for the agent"
	c.transcript.AppendSystem(messageConnectFailed + detail)
	c.events.SessionError(domain.ErrorCodeConnectTimeout, detail)
	c.events.SessionStateChanged(domain.SessionStateError, domain.SessionReasonConnectTimeout)
	c.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonConnectTimeout)
}

func (c *SessionController) pumpVendorEvents(client ports.VendorClient, done chan struct{}) {
	defer close(done)

	for event := range client.Events() {
		c.handleVendorEvent(client, event)
	}
}

func (c *SessionController) handleVendorEvent(client ports.VendorClient, event domain.VendorEvent) {
	switch event.Kind {
	case domain.VendorEventSessionStarted:
		c.mu.Lock()
		if !c.ownsEvent(client, event) || c.current.state != domain.SessionStateConnecting {
			state := c.current.state
			c.mu.Unlock()
			c.log.Info().Str("state", string(state)).Uint64("attempt", event.Attempt).Msg("ignoring session started outside of connecting")
			return
		}
		c.current.activate()
		c.mu.Unlock()

		c.log.Info().Msg("session started")
		c.transcript.AppendSystem(messageConnected)
		c.events.SessionStateChanged(domain.SessionStateActive, domain.SessionReasonSessionStarted)

	case domain.VendorEventSessionEnded:
		c.mu.Lock()
		if !c.ownsEvent(client, event) || c.current.state == domain.SessionStateIdle {
			c.mu.Unlock()
			c.log.Debug().Uint64("attempt", event.Attempt).Msg("ignoring session ended of an inactive attempt")
			return
		}
		c.current.reset(false)
		c.mu.Unlock()

		c.log.Info().Msg("session ended")
		c.transcript.ClearLive()
		c.transcript.AppendSystem(messageSessionEnded)
		c.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonSessionEnded)

	case domain.VendorEventAgentSpeakingStarted, domain.VendorEventAgentSpeakingStopped:
		activity := domain.ActivityListening
		if event.Kind == domain.VendorEventAgentSpeakingStarted {
			activity = domain.ActivitySpeaking
		}
		c.mu.Lock()
		if !c.ownsEvent(client, event) || c.current.state != domain.SessionStateActive || c.current.activity == activity {
			c.mu.Unlock()
			return
		}
		c.current.activity = activity
		c.mu.Unlock()
		c.events.ActivityChanged(activity)

	case domain.VendorEventTranscript:
		if event.Transcript == nil {
			c.log.Debug().Msg("ignoring transcript event without payload")
			return
		}
		c.mu.Lock()
		accept := c.ownsEvent(client, event) && c.current.state != domain.SessionStateIdle
		c.mu.Unlock()
		if !accept {
			c.log.Debug().Uint64("attempt", event.Attempt).Msg("ignoring transcript event of an inactive attempt")
			return
		}
		c.transcript.Apply(*event.Transcript)

	case domain.VendorEventError:
		c.mu.Lock()
		if !c.ownsEvent(client, event) || c.current.state == domain.SessionStateIdle {
			c.mu.Unlock()
			c.log.Warn().Str("detail", event.Detail).Uint64("attempt", event.Attempt).Msg("vendor error of an inactive attempt")
			return
		}
		c.current.reset(true)
		c.mu.Unlock()

		detail := strings.TrimSpace(event.Detail)
		if detail == "" {
			detail = "Connection Error"
		}
		c.log.Error().Str("detail", detail).Msg("vendor error event")
		c.stopClient(client)

		c.transcript.ClearLive()
		c.transcript.AppendSystem(messageVendorError + detail)
		c.events.SessionError(domain.ErrorCodeVendorRuntime, detail)
		c.events.SessionStateChanged(domain.SessionStateError, domain.SessionReasonVendorError)
		c.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonVendorError)

	default:
		c.log.Debug().Str("kind", string(event.Kind)).Msg("ignoring unknown vendor event")
	}
}

// ownsEvent reports whether event belongs to the current session attempt on
// the held client. Callers hold c.mu.
func (c *SessionController) ownsEvent(client ports.VendorClient, event domain.VendorEvent) bool {
	return c.client == client && event.Attempt == c.current.generation
}

func (c *SessionController) stopClient(client ports.VendorClient) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("vendor stop panicked")
		}
	}()
	if err := client.Stop(); err != nil {
		c.log.Warn().Err(err).Msg("vendor stop failed")
		c.events.SessionError(domain.ErrorCodeVendorStop, "failed to stop voice session cleanly")
	}
}

func (c *SessionController) closeClient(client ports.VendorClient) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("vendor close panicked")
		}
	}()
	if err := client.Close(); err != nil {
		c.log.Warn().Err(err).Msg("vendor close failed")
	}
}

func failureDetail(err error, fallback string) string {
	if err == nil {
		return fallback
	}
	if text := strings.TrimSpace(err.Error()); text != "" {
		return text
	}
	return fallback
}
