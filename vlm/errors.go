package vlm

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed wird nach Close() von jeder Session-Operation zurückgegeben
	ErrClosed = errors.New("session closed")

	// ErrDecode umhüllt Fehler des Backends beim Dekodieren
	ErrDecode = errors.New("decode failed")
)

// InitializationError meldet einen Fehler beim Laden von Modell, Projektor oder Kontext.
// Die Session ist in diesem Fall nicht benutzbar.
type InitializationError struct {
	Op  string
	Err error
}

func (e *InitializationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("initialization failed: %s", e.Op)
	}
	return fmt.Sprintf("initialization failed: %s: %v", e.Op, e.Err)
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}

// ImageLoadError meldet ein Bild, das nicht gelesen oder eingebettet werden konnte.
// Die Session bleibt gültig.
type ImageLoadError struct {
	Path string
	Err  error
}

func (e *ImageLoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("failed to load image: %v", e.Err)
	}
	return fmt.Sprintf("failed to load image %s: %v", e.Path, e.Err)
}

func (e *ImageLoadError) Unwrap() error {
	return e.Err
}

// InvariantViolation meldet einen Programmierfehler, z.B. ein Template ohne Bild-Marker
type InvariantViolation struct {
	Msg string
}

func (e *InvariantViolation) Error() string {
	return "invariant violation: " + e.Msg
}
