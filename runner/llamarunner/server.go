// Package llamarunner - Modell-Laden und Freigabe
//
// Dieses Modul enthält:
// - Load: Lädt Modell, Kontext und Projektor
// - Close: Gibt alle Ressourcen genau einmal frei
package llamarunner

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/7blacky7/omnivlm/vlm"
	"github.com/ollama/ollama/llama"
)

var backendOnce sync.Once

// Load lädt Sprachmodell und Projektor. Bei einem Fehler wird alles bereits
// Geladene wieder freigegeben und ein *vlm.InitializationError zurückgegeben.
func Load(params LoadParams) (*Runner, error) {
	backendOnce.Do(llama.BackendInit)

	numCtx := max(params.NumCtx, minContextLength)

	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	threads := params.NumThreads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	numGPU := params.NumGPULayers
	if numGPU < 0 {
		// alle Schichten auf die GPU
		numGPU = 999
	}

	slog.Info("loading model", "model", params.ModelPath, "projector", params.ProjectorPath,
		"num_ctx", numCtx, "batch_size", batchSize, "threads", threads, "gpu_layers", numGPU)

	model, err := llama.LoadModelFromFile(params.ModelPath, llama.ModelParams{
		NumGpuLayers: numGPU,
		MainGpu:      params.MainGPU,
		UseMmap:      params.UseMmap,
		Progress:     params.Progress,
	})
	if err != nil {
		return nil, &vlm.InitializationError{Op: "load model", Err: err}
	}

	ctxParams := llama.NewContextParams(numCtx, batchSize, 1, threads, params.FlashAttention, params.KvCacheType)
	lc, err := llama.NewContextWithModel(model, ctxParams)
	if err != nil {
		llama.FreeModel(model)
		return nil, &vlm.InitializationError{Op: "create context", Err: err}
	}

	r := &Runner{
		model:     model,
		lc:        lc,
		batchSize: batchSize,
		numCtx:    numCtx,
	}

	r.image, err = NewImageContext(lc, params.ProjectorPath)
	if err != nil {
		r.Close()
		return nil, &vlm.InitializationError{Op: "load projector", Err: err}
	}

	r.tokenBatch, err = llama.NewBatch(batchSize, 1, 0)
	if err != nil {
		r.Close()
		return nil, &vlm.InitializationError{Op: "allocate batch", Err: err}
	}

	r.embedBatch, err = llama.NewBatch(batchSize, 1, model.NEmbd())
	if err != nil {
		r.Close()
		return nil, &vlm.InitializationError{Op: "allocate batch", Err: err}
	}

	slog.Info("model loaded", "n_embd", model.NEmbd())
	return r, nil
}

// Encoder liefert den Bildkontext als vlm.ImageEncoder
func (r *Runner) Encoder() *ImageContext {
	return r.image
}

// NumCtx liefert die tatsächliche Kontextlänge
func (r *Runner) NumCtx() int {
	return r.numCtx
}

// Close gibt Batches, Projektor und Modell frei.
// Für den llama.cpp Kontext gibt es keine Freigabe-Funktion in den Bindings.
func (r *Runner) Close() error {
	r.closeOnce.Do(func() {
		if r.tokenBatch != nil {
			r.tokenBatch.Free()
		}
		if r.embedBatch != nil {
			r.embedBatch.Free()
		}

		r.image.Close()

		if r.model != nil {
			llama.FreeModel(r.model)
			r.model = nil
		}

		slog.Debug("runner closed")
	})
	return nil
}

var _ vlm.Backend = (*Runner)(nil)

func (r *Runner) String() string {
	return fmt.Sprintf("llamarunner(ctx=%d, batch=%d)", r.numCtx, r.batchSize)
}
