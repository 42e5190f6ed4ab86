// types.go - Basis-Typen der omnivlm HTTP-API
// Enthaelt: StatusError, ImageData, Metrics, Load-/Infer-/Status-Typen

package api

import (
	"fmt"
	"os"
	"time"
)

// StatusError is an error with an HTTP status code and message.
type StatusError struct {
	StatusCode   int
	Status       string
	ErrorMessage string `json:"error"`
}

func (e StatusError) Error() string {
	switch {
	case e.Status != "" && e.ErrorMessage != "":
		return fmt.Sprintf("%s: %s", e.Status, e.ErrorMessage)
	case e.Status != "":
		return e.Status
	case e.ErrorMessage != "":
		return e.ErrorMessage
	default:
		// this should not happen
		return "something went wrong, please see the omnivlm server logs for details"
	}
}

// ImageData represents the raw binary data of an image file.
type ImageData []byte

// LoadRequest laedt Sprachmodell und Projektor in eine neue Session.
// Eine bereits geladene Session wird vorher geschlossen.
type LoadRequest struct {
	// Model ist der Pfad zur GGUF-Datei des Sprachmodells
	Model string `json:"model"`

	// Projector ist der Pfad zur GGUF-Datei des Vision-Projektors
	Projector string `json:"projector"`

	// Config ist eine optionale YAML-Datei mit Template und Standard-Optionen
	Config string `json:"config,omitempty"`

	// Options enthaelt Runner- und Sampling-Optionen, siehe [Options]
	Options map[string]any `json:"options,omitempty"`
}

// LoadResponse beschreibt die geladene Session
type LoadResponse struct {
	SessionID    string        `json:"session_id"`
	NumCtx       int           `json:"num_ctx"`
	LoadDuration time.Duration `json:"load_duration,omitempty"`
}

// InferRequest beschreibt einen Generierungszyklus. Genau eines von
// ImagePath und Image muss gesetzt sein.
type InferRequest struct {
	Prompt string `json:"prompt"`

	// ImagePath ist ein Pfad auf dem Server-Rechner
	ImagePath string `json:"image_path,omitempty"`

	// Image enthaelt die Bilddaten (base64 in JSON)
	Image ImageData `json:"image,omitempty"`

	// Stream liefert NDJSON-Stuecke, Standard ist true
	Stream *bool `json:"stream,omitempty"`

	// VerbosePrompt loggt die Prompt-Tokens auf dem Server
	VerbosePrompt bool `json:"verbose_prompt,omitempty"`

	Options map[string]any `json:"options,omitempty"`
}

// InferResponse ist ein Stueck der Antwort oder, mit Done, die abschliessende Antwort
type InferResponse struct {
	SessionID  string    `json:"session_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Response   string    `json:"response"`
	Done       bool      `json:"done"`
	DoneReason string    `json:"done_reason,omitempty"`

	Metrics
}

// StatusResponse beschreibt den Zustand des Servers
type StatusResponse struct {
	Loaded    bool      `json:"loaded"`
	SessionID string    `json:"session_id,omitempty"`
	Model     string    `json:"model,omitempty"`
	Projector string    `json:"projector,omitempty"`
	NumCtx    int       `json:"num_ctx,omitempty"`
	Position  int       `json:"position"`
	LoadedAt  time.Time `json:"loaded_at,omitzero"`
}

// Metrics enthaelt Performance-Metriken fuer Anfragen
type Metrics struct {
	TotalDuration      time.Duration `json:"total_duration,omitempty"`
	PromptEvalCount    int           `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration time.Duration `json:"prompt_eval_duration,omitempty"`
	EvalCount          int           `json:"eval_count,omitempty"`
	EvalDuration       time.Duration `json:"eval_duration,omitempty"`
}

func (m *Metrics) Summary() {
	if m.TotalDuration > 0 {
		fmt.Fprintf(os.Stderr, "total duration:       %v\n", m.TotalDuration)
	}

	if m.PromptEvalCount > 0 {
		fmt.Fprintf(os.Stderr, "prompt eval count:    %d token(s)\n", m.PromptEvalCount)
	}

	if m.PromptEvalDuration > 0 {
		fmt.Fprintf(os.Stderr, "prompt eval duration: %s\n", m.PromptEvalDuration)
		fmt.Fprintf(os.Stderr, "prompt eval rate:     %.2f tokens/s\n", float64(m.PromptEvalCount)/m.PromptEvalDuration.Seconds())
	}

	if m.EvalCount > 0 {
		fmt.Fprintf(os.Stderr, "eval count:           %d token(s)\n", m.EvalCount)
	}

	if m.EvalDuration > 0 {
		fmt.Fprintf(os.Stderr, "eval duration:        %s\n", m.EvalDuration)
		fmt.Fprintf(os.Stderr, "eval rate:            %.2f tokens/s\n", float64(m.EvalCount)/m.EvalDuration.Seconds())
	}
}
