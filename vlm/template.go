package vlm

import (
	"fmt"
	"strings"
)

// Template beschreibt den Prompt-Rahmen um die Benutzereingabe.
// Der Prompt wird zwischen System und Footer eingesetzt, der Marker
// steht genau einmal im Footer und markiert die Stelle des Bildes.
type Template struct {
	System string `yaml:"system"`
	Marker string `yaml:"marker"`
	Footer string `yaml:"footer"`
}

const (
	defaultSystem = "<|im_start|>system\nYou are Nano-Omni-VLM, created by Nexa AI. You are a helpful assistant.<|im_end|>\n<|im_start|>user\n"
	defaultMarker = "<|image_pad|>"
)

// DefaultTemplate liefert das ChatML-Template von Nano-Omni-VLM
func DefaultTemplate() Template {
	return Template{
		System: defaultSystem,
		Marker: defaultMarker,
		Footer: "\n<|vision_start|>" + defaultMarker + "<|vision_end|><|im_end|>",
	}
}

// Validate prüft, dass der Marker genau einmal vorkommt und hinter dem Prompt liegt
func (t Template) Validate() error {
	if t.Marker == "" {
		return &InvariantViolation{Msg: "template image marker is empty"}
	}

	if strings.Contains(t.System, t.Marker) {
		return &InvariantViolation{Msg: fmt.Sprintf("image marker %q must not appear before the prompt", t.Marker)}
	}

	switch n := strings.Count(t.System+t.Footer, t.Marker); n {
	case 1:
		return nil
	case 0:
		return &InvariantViolation{Msg: fmt.Sprintf("image marker %q not found in template", t.Marker)}
	default:
		return &InvariantViolation{Msg: fmt.Sprintf("image marker %q occurs %d times in template", t.Marker, n)}
	}
}

// Assemble setzt den vollständigen Prompt zusammen
func (t Template) Assemble(prompt string) string {
	return t.System + prompt + t.Footer
}

// Split teilt den zusammengesetzten Prompt am Marker in System- und Benutzer-Teil.
// Gesucht wird erst hinter dem Prompt, ein Marker im Benutzertext verschiebt die Trennstelle nicht.
func (t Template) Split(prompt string) (system, user string, err error) {
	full := t.Assemble(prompt)
	offset := len(t.System) + len(prompt)

	idx := strings.Index(full[offset:], t.Marker)
	if t.Marker == "" || idx < 0 {
		return "", "", &InvariantViolation{Msg: fmt.Sprintf("image marker %q not found in template", t.Marker)}
	}

	start := offset + idx
	return full[:start], full[start+len(t.Marker):], nil
}
