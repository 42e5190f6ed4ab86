// Package vlm - Generierungsschleife für Vision-Language-Modelle
//
// Dieses Modul enthält:
// - Session: Dekodier-Kontext mit Positionszähler, geschützt durch eine Semaphore
// - Template: Prompt-Rahmen mit Bild-Marker
// - Backend/ImageEncoder: Schnittstellen zur Laufzeitbibliothek
// - Fehlertypen: InitializationError, ImageLoadError, InvariantViolation
package vlm

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Session besitzt Backend und Encoder von NewSession bis Close.
// Aufrufe derselben Session werden nacheinander ausgeführt.
type Session struct {
	ID      string
	Created time.Time

	backend  Backend
	encoder  ImageEncoder
	template Template
	defaults Options

	// sem serialisiert Inferenz und Close
	sem *semaphore.Weighted

	// pos ist die nächste freie Position im Kontext (n_past)
	pos atomic.Int64

	closed atomic.Bool
}

// NewSession übernimmt backend und encoder. Das Template wird hier einmalig validiert.
func NewSession(backend Backend, encoder ImageEncoder, cfg Config) (*Session, error) {
	if backend == nil {
		return nil, &InitializationError{Op: "session", Err: fmt.Errorf("no backend")}
	}
	if encoder == nil {
		return nil, &InitializationError{Op: "session", Err: fmt.Errorf("no image encoder")}
	}

	if err := cfg.Template.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		ID:       uuid.NewString(),
		Created:  time.Now(),
		backend:  backend,
		encoder:  encoder,
		template: cfg.Template,
		defaults: cfg.Options,
		sem:      semaphore.NewWeighted(1),
	}

	slog.Debug("session created", "session", s.ID, "marker", cfg.Template.Marker)
	return s, nil
}

// Position liefert den aktuellen Positionszähler
func (s *Session) Position() int {
	return int(s.pos.Load())
}

// Defaults liefert eine Kopie der Standard-Optionen
func (s *Session) Defaults() Options {
	return s.defaults
}

// Template liefert das validierte Template
func (s *Session) Template() Template {
	return s.template
}

// Closed meldet, ob Close bereits aufgerufen wurde
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// Close wartet auf eine laufende Inferenz und gibt dann Encoder und Backend frei
func (s *Session) Close() error {
	if err := s.sem.Acquire(context.Background(), 1); err != nil {
		return err
	}
	defer s.sem.Release(1)

	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	s.encoder.Close()
	err := s.backend.Close()

	slog.Debug("session closed", "session", s.ID)
	return err
}

// acquire sperrt die Session für einen Aufruf
func (s *Session) acquire(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	if s.closed.Load() {
		s.sem.Release(1)
		return ErrClosed
	}

	return nil
}

// TokenPiece ist ein Token mit seinem Text
type TokenPiece struct {
	ID    int
	Piece string
}

// PromptTokens liefert die Tokens von System- und Benutzer-Teil des Prompts,
// so wie sie bei einer Inferenz dekodiert würden
func (s *Session) PromptTokens(ctx context.Context, prompt string) (system, user []TokenPiece, err error) {
	if err := s.acquire(ctx); err != nil {
		return nil, nil, err
	}
	defer s.sem.Release(1)

	systemTokens, userTokens, err := s.tokenizePrompt(prompt)
	if err != nil {
		return nil, nil, err
	}

	return s.pieces(systemTokens), s.pieces(userTokens), nil
}

func (s *Session) pieces(tokens []int) []TokenPiece {
	out := make([]TokenPiece, len(tokens))
	for i, t := range tokens {
		out[i] = TokenPiece{ID: t, Piece: s.backend.TokenToPiece(t)}
	}
	return out
}

// tokenizePrompt teilt den Prompt am Marker. Nur der System-Teil bekommt BOS.
func (s *Session) tokenizePrompt(prompt string) (system, user []int, err error) {
	if prompt == "" {
		prompt = DefaultPrompt
	}

	systemSpan, userSpan, err := s.template.Split(prompt)
	if err != nil {
		return nil, nil, err
	}

	system, err = s.backend.Tokenize(systemSpan, true)
	if err != nil {
		return nil, nil, fmt.Errorf("tokenize system prompt: %w", err)
	}

	user, err = s.backend.Tokenize(userSpan, false)
	if err != nil {
		return nil, nil, fmt.Errorf("tokenize user prompt: %w", err)
	}

	return system, user, nil
}
