// options.go - Umwandlung zwischen API-Optionen und Session-Optionen
// Enthaelt: BaseConfig(), RunnerParams(), SessionOptions(), APIOptions(), statusFor()

package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/7blacky7/omnivlm/api"
	"github.com/7blacky7/omnivlm/envconfig"
	"github.com/7blacky7/omnivlm/runner/llamarunner"
	"github.com/7blacky7/omnivlm/vlm"
	"github.com/ollama/ollama/ml"
)

// errNoSession wird gemeldet, solange kein Modell geladen ist
var errNoSession = errors.New("no model loaded, call /api/load first")

// BaseConfig liefert die Session-Konfiguration aus der Umgebung, optional
// ueberlagert von der YAML-Datei path
func BaseConfig(path string) (vlm.Config, error) {
	cfg := vlm.DefaultConfig()
	cfg.Options.NumPredict = int(envconfig.NumPredict())
	if path == "" {
		return cfg, nil
	}
	return cfg.Overlay(path)
}

// RunnerParams baut die Ladeparameter aus den Runner-Optionen und der Umgebung
func RunnerParams(model, projector string, opts api.Options) llamarunner.LoadParams {
	// ohne Variable entscheidet llama.cpp
	fa := ml.FlashAttentionAuto
	if envconfig.Var("OMNIVLM_FLASH_ATTENTION") != "" {
		if envconfig.FlashAttention(false) {
			fa = ml.FlashAttentionEnabled
		} else {
			fa = ml.FlashAttentionDisabled
		}
	}

	useMmap := !envconfig.NoMmap()
	if opts.UseMMap != nil {
		useMmap = *opts.UseMMap
	}

	return llamarunner.LoadParams{
		ModelPath:      model,
		ProjectorPath:  projector,
		NumCtx:         opts.NumCtx,
		BatchSize:      opts.NumBatch,
		NumThreads:     opts.NumThread,
		NumGPULayers:   opts.NumGPU,
		MainGPU:        opts.MainGPU,
		UseMmap:        useMmap,
		FlashAttention: fa,
		KvCacheType:    envconfig.KvCacheType(),
	}
}

// APIOptions uebertraegt Session-Optionen in die API-Darstellung, damit
// FromMap nur die gesetzten Schluessel ueberschreibt
func APIOptions(o vlm.Options) api.Options {
	opts := api.DefaultOptions()
	opts.NumPredict = o.NumPredict
	opts.Stop = o.Stop
	opts.Temperature = o.Sampling.Temperature
	opts.TopK = o.Sampling.TopK
	opts.TopP = o.Sampling.TopP
	opts.MinP = o.Sampling.MinP
	opts.TypicalP = o.Sampling.TypicalP
	opts.RepeatLastN = o.Sampling.RepeatLastN
	opts.RepeatPenalty = o.Sampling.RepeatPenalty
	opts.FrequencyPenalty = o.Sampling.FrequencyPenalty
	opts.PresencePenalty = o.Sampling.PresencePenalty
	opts.Seed = o.Sampling.Seed
	return opts
}

// SessionOptions ist die Umkehrung von APIOptions
func SessionOptions(opts api.Options) vlm.Options {
	return vlm.Options{
		NumPredict: opts.NumPredict,
		Stop:       opts.Stop,
		Sampling: vlm.SamplingParams{
			Temperature:      opts.Temperature,
			TopK:             opts.TopK,
			TopP:             opts.TopP,
			MinP:             opts.MinP,
			TypicalP:         opts.TypicalP,
			RepeatLastN:      opts.RepeatLastN,
			RepeatPenalty:    opts.RepeatPenalty,
			FrequencyPenalty: opts.FrequencyPenalty,
			PresencePenalty:  opts.PresencePenalty,
			Seed:             opts.Seed,
		},
	}
}

// statusFor bildet Fehler der Generierungsschleife auf HTTP-Status ab
func statusFor(err error) int {
	var imgErr *vlm.ImageLoadError
	var initErr *vlm.InitializationError
	var invErr *vlm.InvariantViolation

	switch {
	case errors.As(err, &imgErr):
		return http.StatusBadRequest
	case errors.As(err, &invErr), errors.As(err, &initErr):
		return http.StatusInternalServerError
	case errors.Is(err, vlm.ErrClosed), errors.Is(err, errNoSession):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
