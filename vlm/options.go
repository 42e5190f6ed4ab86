package vlm

import "slices"

// DoneReason beschreibt, warum die Generierung beendet wurde
type DoneReason int

const (
	// DoneReasonStop - Stop-Sequenz oder End-of-Generation Token
	DoneReasonStop DoneReason = iota
	// DoneReasonLength - Token-Budget ausgeschöpft
	DoneReasonLength
)

func (d DoneReason) String() string {
	switch d {
	case DoneReasonLength:
		return "length"
	case DoneReasonStop:
		return "stop"
	default:
		return ""
	}
}

const (
	// DefaultNumPredict gilt, wenn NumPredict <= 0 ist
	DefaultNumPredict = 256

	// DefaultPrompt wird verwendet, wenn kein Prompt angegeben ist
	DefaultPrompt = "describe the image in detail."

	// eogPiece ersetzt den Text von End-of-Generation Tokens
	eogPiece = "</s>"
)

// DefaultStop sind die Stop-Sequenzen des ChatML-Templates
var DefaultStop = []string{"<|im_end|>", eogPiece}

// SamplingParams steuern die Token-Auswahl
type SamplingParams struct {
	Temperature      float32 `yaml:"temperature"`
	TopK             int     `yaml:"top_k"`
	TopP             float32 `yaml:"top_p"`
	MinP             float32 `yaml:"min_p"`
	TypicalP         float32 `yaml:"typical_p"`
	RepeatLastN      int     `yaml:"repeat_last_n"`
	RepeatPenalty    float32 `yaml:"repeat_penalty"`
	FrequencyPenalty float32 `yaml:"frequency_penalty"`
	PresencePenalty  float32 `yaml:"presence_penalty"`

	// Seed -1 bedeutet zufällig
	Seed int `yaml:"seed"`
}

// Options gelten für einen einzelnen Inferenz-Aufruf
type Options struct {
	NumPredict    int      `yaml:"num_predict"`
	Stop          []string `yaml:"stop"`
	VerbosePrompt bool     `yaml:"verbose_prompt"`

	Sampling SamplingParams `yaml:",inline"`
}

// DefaultOptions entspricht den Sampling-Standardwerten von llama.cpp
func DefaultOptions() Options {
	return Options{
		NumPredict: DefaultNumPredict,
		Stop:       slices.Clone(DefaultStop),
		Sampling: SamplingParams{
			Temperature:   0.8,
			TopK:          40,
			TopP:          0.95,
			MinP:          0.05,
			TypicalP:      1.0,
			RepeatLastN:   64,
			RepeatPenalty: 1.0,
			Seed:          -1,
		},
	}
}

// numPredict liefert das effektive Token-Budget
func (o Options) numPredict() int {
	if o.NumPredict <= 0 {
		return DefaultNumPredict
	}
	return o.NumPredict
}

// stops liefert die effektiven Stop-Sequenzen. Das EOG-Stück beendet immer.
func (o Options) stops() []string {
	stops := o.Stop
	if len(stops) == 0 {
		stops = DefaultStop
	}
	if !slices.Contains(stops, eogPiece) {
		stops = append(slices.Clone(stops), eogPiece)
	}
	return stops
}
