// Package app assembles and serves the publisher: storage, chain reader,
// channel API client, content store, and the HTTP API on top of them.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/louisbranch/castgate/internal/platform/timeouts"
	"github.com/louisbranch/castgate/internal/services/publisher/api/httpapi"
	"github.com/louisbranch/castgate/internal/services/publisher/chain"
	"github.com/louisbranch/castgate/internal/services/publisher/channelapi"
	"github.com/louisbranch/castgate/internal/services/publisher/content"
	"github.com/louisbranch/castgate/internal/services/publisher/entitlement"
	"github.com/louisbranch/castgate/internal/services/publisher/identity"
	"github.com/louisbranch/castgate/internal/services/publisher/publish"
	"github.com/louisbranch/castgate/internal/services/publisher/storage/sqlite"
	"github.com/louisbranch/castgate/internal/services/publisher/subscription"
)

// Config holds the publisher's runtime configuration.
type Config struct {
	Port                 int    `env:"CASTGATE_PORT" envDefault:"8080"`
	DBPath               string `env:"CASTGATE_DB_PATH" envDefault:"data/castgate.db"`
	TokenSecret          string `env:"CASTGATE_JWT_SECRET"`
	ChainRPCURL          string `env:"CASTGATE_CHAIN_RPC_URL"`
	SubscriptionContract string `env:"CASTGATE_SUBSCRIPTION_CONTRACT"`
	PaymentTokenContract string `env:"CASTGATE_USDC_CONTRACT"`
	SubscriptionPrice    string `env:"CASTGATE_SUBSCRIPTION_PRICE" envDefault:"5 USDC"`
	ChannelAPIURL        string `env:"CASTGATE_CHANNEL_API_URL"`
	ChannelAPIKey        string `env:"CASTGATE_CHANNEL_API_KEY"`
	ContentStoreURL      string `env:"CASTGATE_CONTENT_STORE_URL"`
	ContentStoreAPIKey   string `env:"CASTGATE_CONTENT_STORE_API_KEY"`
	FanoutWorkers        int    `env:"CASTGATE_FANOUT_WORKERS" envDefault:"4"`
}

// Server hosts the publisher HTTP API.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *sqlite.Store
}

// New creates a configured publisher server listening on cfg.Port.
func New(cfg Config) (*Server, error) {
	if strings.TrimSpace(cfg.TokenSecret) == "" {
		return nil, fmt.Errorf("token secret is required")
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", cfg.Port, err)
	}
	store, err := openStore(cfg.DBPath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	handler, err := buildHandler(cfg, store)
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}

	httpServer := &http.Server{
		Handler:           handler.Routes(),
		ReadHeaderTimeout: timeouts.ReadHeader,
	}
	return &Server{listener: listener, httpServer: httpServer, store: store}, nil
}

func buildHandler(cfg Config, store *sqlite.Store) (*httpapi.Handler, error) {
	reader, err := chain.NewRPCReader(chain.RPCConfig{
		Endpoint:        cfg.ChainRPCURL,
		ContractAddress: cfg.SubscriptionContract,
	})
	if err != nil {
		return nil, fmt.Errorf("build chain reader: %w", err)
	}
	channels, err := channelapi.NewClient(channelapi.ClientConfig{
		BaseURL: cfg.ChannelAPIURL,
		APIKey:  cfg.ChannelAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("build channel api client: %w", err)
	}
	contentStore, err := content.NewHTTPStore(content.HTTPStoreConfig{
		AddURL: cfg.ContentStoreURL,
		APIKey: cfg.ContentStoreAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("build content store: %w", err)
	}
	verifier, err := identity.NewVerifier(cfg.TokenSecret, channels)
	if err != nil {
		return nil, fmt.Errorf("build token verifier: %w", err)
	}

	fanout, err := publish.NewFanout(publish.FanoutConfig{
		Channels:   channels,
		Ledger:     store,
		Provenance: store,
		Workers:    cfg.FanoutWorkers,
	})
	if err != nil {
		return nil, fmt.Errorf("build fanout: %w", err)
	}
	publisher, err := publish.NewPublisher(publish.PublisherConfig{
		Gate:       entitlement.NewGate(reader),
		Store:      contentStore,
		Channels:   channels,
		Ledger:     store,
		Provenance: store,
		Fanout:     fanout,
	})
	if err != nil {
		return nil, fmt.Errorf("build publisher: %w", err)
	}
	subscriptions, err := subscription.NewService(subscription.ServiceConfig{
		Reader:          reader,
		Store:           store,
		ContractAddress: cfg.SubscriptionContract,
		TokenAddress:    cfg.PaymentTokenContract,
		Price:           cfg.SubscriptionPrice,
	})
	if err != nil {
		return nil, fmt.Errorf("build subscription service: %w", err)
	}
	return httpapi.NewHandler(verifier, publisher, subscriptions)
}

// Addr returns the listener address for the publisher server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a publisher server until the context ends.
func Run(ctx context.Context, cfg Config) error {
	server, err := New(cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the publisher server and blocks until it stops or the context
// ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.closeStore()

	log.Printf("publisher listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		err := <-serveErr
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	}
}

func (s *Server) closeStore() {
	if s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		log.Printf("close publisher store: %v", err)
	}
}

func openStore(path string) (*sqlite.Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = filepath.Join("data", "castgate.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open publisher sqlite store: %w", err)
	}
	return store, nil
}
