// Package llamarunner - Batch-Verarbeitung
//
// Dieses Modul enthält die Dekodier-Logik:
// - Decode: Schreibt Tokens und Bild-Embeddings batchweise in den Kontext
// - planBatches: Teilt Inputs in Batches eines Typs auf
// - Tokenize/TokenToPiece/NewSampler: Vokabular und Sampling
package llamarunner

import (
	"errors"
	"fmt"
	"time"

	"github.com/7blacky7/omnivlm/logutil"
	"github.com/7blacky7/omnivlm/vlm"
	"github.com/ollama/ollama/llama"
)

// span ist ein zusammenhängender Bereich von Inputs gleichen Typs
type span struct {
	start, end int
	embedding  bool
}

// planBatches teilt inputs so auf, dass jeder Batch höchstens batchSize
// Einträge hat und nur Tokens oder nur Embeddings enthält
func planBatches(inputs []vlm.Input, batchSize int) []span {
	var spans []span

	for start := 0; start < len(inputs); {
		embedding := inputs[start].Embed != nil

		end := start
		for end < len(inputs) && end-start < batchSize && (inputs[end].Embed != nil) == embedding {
			end++
		}

		spans = append(spans, span{start: start, end: end, embedding: embedding})
		start = end
	}

	return spans
}

// Decode schreibt inputs ab Position pos in Sequenz 0.
// Logits werden nur für den letzten Input berechnet.
func (r *Runner) Decode(inputs []vlm.Input, pos int) error {
	if len(inputs) == 0 {
		return nil
	}

	t := time.Now()
	for _, sp := range planBatches(inputs, r.batchSize) {
		batch := r.tokenBatch
		if sp.embedding {
			batch = r.embedBatch
		}
		batch.Clear()

		for i := sp.start; i < sp.end; i++ {
			output := i+1 == len(inputs)
			batch.Add(inputs[i].Token, inputs[i].Embed, pos+i, output, 0)
			if output {
				r.iBatch = batch.NumTokens() - 1
			}
		}

		if err := r.lc.Decode(batch); err != nil {
			if errors.Is(err, llama.ErrKvCacheFull) {
				return fmt.Errorf("context length of %d exceeded at position %d: %w", r.numCtx, pos+sp.start, err)
			}
			return fmt.Errorf("failed to decode batch: %w", err)
		}
	}

	r.lc.Synchronize()

	logutil.Trace("decoded", "inputs", len(inputs), "pos", pos, "duration", time.Since(t))
	return nil
}

// Tokenize wandelt Text in Tokens um; Spezial-Tokens im Text werden erkannt
func (r *Runner) Tokenize(text string, addSpecial bool) ([]int, error) {
	return r.model.Tokenize(text, addSpecial, true)
}

func (r *Runner) TokenToPiece(token int) string {
	return r.model.TokenToPiece(token)
}

func (r *Runner) TokenIsEog(token int) bool {
	return r.model.TokenIsEog(token)
}

// ClearCache leert den KV-Cache
func (r *Runner) ClearCache() {
	r.lc.KvCacheClear()
}

// NewSampler erstellt einen Sampling-Kontext mit den Parametern der Anfrage
func (r *Runner) NewSampler(params vlm.SamplingParams) (vlm.Sampler, error) {
	sc, err := llama.NewSamplingContext(r.model, samplingParams(params))
	if err != nil {
		return nil, fmt.Errorf("failed to create sampling context: %w", err)
	}

	return &sampler{sc: sc, r: r}, nil
}

// samplingParams übersetzt die Parameter; Seed -1 wird zum zufälligen Seed von llama.cpp
func samplingParams(p vlm.SamplingParams) llama.SamplingParams {
	return llama.SamplingParams{
		TopK:           p.TopK,
		TopP:           p.TopP,
		MinP:           p.MinP,
		TypicalP:       p.TypicalP,
		Temp:           p.Temperature,
		RepeatLastN:    p.RepeatLastN,
		PenaltyRepeat:  p.RepeatPenalty,
		PenaltyFreq:    p.FrequencyPenalty,
		PenaltyPresent: p.PresencePenalty,
		Seed:           uint32(p.Seed),
	}
}

// Sample wählt ein Token aus den Logits des zuletzt dekodierten Batches
func (s *sampler) Sample() int {
	return s.sc.Sample(s.r.lc, s.r.iBatch)
}

func (s *sampler) Accept(token int) {
	s.sc.Accept(token, true)
}
