package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"cosmosai/internal/api"
	"cosmosai/internal/config"
	"cosmosai/internal/leads"
	"cosmosai/internal/logging"
	"cosmosai/internal/ports"
	"cosmosai/internal/providers/retell"
	"cosmosai/internal/providers/vapi"
	"cosmosai/internal/providers/wsevents"
	"cosmosai/internal/tokenclient"
	"cosmosai/internal/usecase"
)

const shutdownGrace = 10 * time.Second

// Services is the assembled voice runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Config     config.Config
}

// BuildVoice wires the session controller for the configured vendor.
func BuildVoice(cfg config.Config, eventSink ports.EventSink, logger zerolog.Logger) (Services, error) {
	protocol, err := vendorProtocol(cfg.Vendor.Name)
	if err != nil {
		return Services{}, err
	}

	controller := usecase.NewSessionController(
		wsevents.NewProvider(protocol, wsevents.Config{EventsURL: cfg.Vendor.EventsURL}, logging.Component(logger, "vendor")),
		tokenclient.New(cfg.Session.BrokerURL, nil, logging.Component(logger, "tokenclient")),
		eventSink,
		logging.Component(logger, "controller"),
		usecase.Config{
			SettleDelay:    cfg.Session.SettleDelay,
			ConnectTimeout: cfg.Session.ConnectTimeout,
			SampleRate:     cfg.Session.SampleRate,
		},
	)

	return Services{Controller: controller, Config: cfg}, nil
}

// Server is the token broker and lead capture HTTP server.
type Server struct {
	HTTP  *http.Server
	Leads ports.LeadStore
	log   zerolog.Logger
}

// BuildServer wires the broker handlers, the vendor issuer and the lead store.
func BuildServer(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Server, error) {
	issuer, err := callIssuer(cfg.Vendor)
	if err != nil {
		return nil, err
	}

	store, err := OpenLeads(ctx, cfg.Leads, logging.Component(logger, "leads"))
	if err != nil {
		return nil, err
	}

	handler := &api.Handler{
		Modes:  cfg,
		Issuer: issuer,
		Leads:  store,
		Log:    logging.Component(logger, "api"),
	}
	return &Server{
		HTTP: &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           api.NewRouter(handler),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
		},
		Leads: store,
		log:   logger,
	}, nil
}

// Run serves until ctx is done, then drains requests and closes the store.
func (s *Server) Run(ctx context.Context) error {
	defer func() {
		if err := s.Leads.Close(); err != nil {
			s.log.Warn().Err(err).Msg("lead store close failed")
		}
	}()

	listenErrCh := make(chan error, 1)
	go func() {
		err := s.HTTP.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	s.log.Info().Str("addr", s.HTTP.Addr).Msg("broker listening")

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		s.log.Info().Msg("shutdown requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := s.HTTP.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	s.log.Info().Msg("broker stopped")
	return nil
}

func vendorProtocol(vendor string) (wsevents.Protocol, error) {
	switch vendor {
	case config.VendorRetell:
		return retell.Protocol{}, nil
	case config.VendorVapi:
		return vapi.Protocol{}, nil
	default:
		return nil, fmt.Errorf("unsupported vendor %q", vendor)
	}
}

func callIssuer(cfg config.VendorConfig) (ports.CallIssuer, error) {
	switch cfg.Name {
	case config.VendorRetell:
		return retell.NewWebCallIssuer(retell.WebCallConfig{APIBase: cfg.APIBase}), nil
	case config.VendorVapi:
		return vapi.NewWebCallIssuer(vapi.WebCallConfig{APIBase: cfg.APIBase}), nil
	default:
		return nil, fmt.Errorf("unsupported vendor %q", cfg.Name)
	}
}

// LeadRepository is a lead store that can also list what it captured.
type LeadRepository interface {
	ports.LeadStore
	ports.LeadReader
}

// OpenLeads prefers Postgres when a DSN is configured.
func OpenLeads(ctx context.Context, cfg config.LeadsConfig, logger zerolog.Logger) (LeadRepository, error) {
	if cfg.DSN != "" {
		store, err := leads.OpenPostgres(ctx, cfg.DSN, logger)
		if err != nil {
			return nil, err
		}
		logger.Info().Msg("lead store: postgres")
		return store, nil
	}

	store, err := leads.OpenBadger(leads.BadgerOptions{Dir: cfg.Dir}, logger)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("dir", cfg.Dir).Msg("lead store: badger")
	return store, nil
}
