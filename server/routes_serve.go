// routes_serve.go - Server-Start und Lifecycle-Management
// Enthaelt: Serve() - Hauptfunktion zum Starten des HTTP-Servers

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/7blacky7/omnivlm/envconfig"
	"github.com/7blacky7/omnivlm/logutil"
	"github.com/7blacky7/omnivlm/version"
	"github.com/7blacky7/omnivlm/vlm"
)

// Serve startet den HTTP-Server. Modell und Projektor werden erst ueber /api/load geladen.
func Serve(ln net.Listener) error {
	slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
	slog.Info("server config", "env", envconfig.Values())

	cfg, err := BaseConfig(envconfig.ConfigPath())
	if err != nil {
		return err
	}
	if path := envconfig.ConfigPath(); path != "" {
		slog.Info("loaded config", "path", path)
	}

	s := NewServer(ln.Addr(), nil, cfg)

	ctx, done := context.WithCancel(context.Background())
	slog.Info(fmt.Sprintf("Listening on %s (version %s)", ln.Addr(), version.Version))
	srvr := &http.Server{
		Handler: s.GenerateRoutes(),
	}

	// bei Ctrl+C die Session freigeben
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		srvr.Close()
		s.shutdown()
		done()
	}()

	err = srvr.Serve(ln)
	// Wurde der Server vom Signal-Handler geschlossen, auf das Aufraeumen warten
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-ctx.Done()
	return nil
}

// shutdown schliesst die aktuelle Session, falls vorhanden
func (s *Server) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return
	}

	if err := s.current.session.Close(); err != nil && !errors.Is(err, vlm.ErrClosed) {
		slog.Warn("failed to close session", "session", s.current.session.ID, "error", err)
	}
	s.current = nil
}
