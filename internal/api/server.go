// ABOUTME: HTTP JSON API server exposing chat, tool listing and conversation lookup
// ABOUTME: Listens on TCP or joins the tailnet through tsnet, with graceful shutdown

package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/coven-assistant/internal/assistant"
	"github.com/2389/coven-assistant/internal/auth"
	"github.com/2389/coven-assistant/internal/config"
	"github.com/2389/coven-assistant/internal/conversation"
	"github.com/2389/coven-assistant/internal/keylock"
	"github.com/2389/coven-assistant/internal/packs"
)

// Platform is the platform name conversations are stored under.
const Platform = "http"

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 5 * time.Second
)

// Service runs and commits turns. *assistant.Service implements it.
type Service interface {
	Turn(ctx context.Context, req *assistant.TurnRequest) (*conversation.Update, error)
	Commit(ctx context.Context, update *conversation.Update, platform, contextKey string) (*conversation.Conversation, error)
}

// ConversationFinder looks conversations up by id. store.ConversationStore implements it.
type ConversationFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*conversation.Conversation, error)
}

// ToolLister lists the registered tools. *assistant.Engine implements it.
type ToolLister interface {
	Tools() []packs.Descriptor
}

// Config holds the dependencies of a Server.
type Config struct {
	HTTP          config.HTTPConfig
	Tailscale     config.TailscaleConfig
	Service       Service
	Conversations ConversationFinder
	Tools         ToolLister
	Logger        *slog.Logger
}

// Server is the HTTP API platform.
type Server struct {
	config        Config
	service       Service
	conversations ConversationFinder
	tools         ToolLister
	contexts      keylock.Map
	logger        *slog.Logger
	newContextKey func() string

	httpServer  *http.Server
	tsnetServer *tsnet.Server
}

// New creates a Server. Auth is required on /api routes when a JWT secret is set.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config:        cfg,
		service:       cfg.Service,
		conversations: cfg.Conversations,
		tools:         cfg.Tools,
		logger:        logger.With("component", "api"),
		newContextKey: uuid.NewString,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	api := http.NewServeMux()
	api.HandleFunc("GET /api/tools", s.handleListTools)
	api.HandleFunc("POST /api/chat", s.handleChat)
	api.HandleFunc("GET /api/conversations/{id}", s.handleGetConversation)

	if s.config.HTTP.JWTSecret != "" {
		verifier := auth.NewJWTVerifier([]byte(s.config.HTTP.JWTSecret))
		mux.Handle("/api/", auth.HTTPAuthMiddleware(verifier)(api))
	} else {
		s.logger.Warn("platform.http.jwt_secret not set, API is unauthenticated")
		mux.Handle("/api/", api)
	}
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.listen(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := s.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// Shutdown stops the HTTP server and leaves the tailnet.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.tsnetServer != nil {
		if closeErr := s.tsnetServer.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}

func (s *Server) listen(ctx context.Context) (net.Listener, error) {
	if s.config.Tailscale.Enabled {
		return s.listenTailscale(ctx)
	}
	ln, err := net.Listen("tcp", s.config.HTTP.Addr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "coven-assistant", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or the TS_AUTHKEY environment variable.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set tailscale.auth_key or TS_AUTHKEY")
	}
	return authKey, nil
}

func (s *Server) listenTailscale(ctx context.Context) (net.Listener, error) {
	tsCfg := s.config.Tailscale
	if s.config.HTTP.Addr != "" {
		s.logger.Debug("platform.http.addr is ignored when tailscale is enabled", "addr", s.config.HTTP.Addr)
	}

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}
	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	s.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	s.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := s.tsnetServer.Up(ctx)
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	s.logTailscaleStatus(tsCfg.Hostname, status)

	if !tsCfg.HTTPS {
		ln, err := s.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = s.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}

	ln, err := s.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := s.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

func (s *Server) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		s.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	s.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}
