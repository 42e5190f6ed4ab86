// Package llamarunner - llama.cpp Backend für die Generierungsschleife
//
// Dieses Modul definiert die Kerntypen des Runners:
// - LoadParams: Parameter für Modell, Projektor und Kontext
// - Runner: Modell + Dekodier-Kontext, implementiert vlm.Backend
// - sampler: Sampling-Kontext, implementiert vlm.Sampler
package llamarunner

import (
	"sync"

	"github.com/ollama/ollama/llama"
	"github.com/ollama/ollama/ml"
)

const (
	// minContextLength lässt Platz für die Bild-Embeddings
	minContextLength = 2048

	defaultBatchSize = 512
)

// LoadParams beschreibt, was beim Initialisieren geladen wird
type LoadParams struct {
	// ModelPath ist die GGUF-Datei des Sprachmodells
	ModelPath string

	// ProjectorPath ist die GGUF-Datei des Vision-Projektors (mmproj)
	ProjectorPath string

	NumCtx     int
	BatchSize  int
	NumThreads int

	// NumGPULayers < 0 lagert alle Schichten aus
	NumGPULayers int
	MainGPU      int
	UseMmap      bool

	FlashAttention ml.FlashAttentionType
	KvCacheType    string

	// Progress meldet den Lade-Fortschritt zwischen 0 und 1
	Progress func(float32)
}

// Runner hält Modell und Kontext einer Session
type Runner struct {
	// model ist das geladene LLM-Modell
	model *llama.Model

	// lc ist der LLaMA-Dekodier-Kontext
	lc *llama.Context

	// image ist der Bildkontext des Projektors
	image *ImageContext

	// batchSize ist die maximale Anzahl Inputs pro llama_decode
	batchSize int

	numCtx int

	// Batches werden einmalig allokiert
	tokenBatch *llama.Batch
	embedBatch *llama.Batch

	// iBatch ist der Index des Inputs mit Logits im zuletzt dekodierten Batch
	iBatch int

	closeOnce sync.Once
}

// sampler verbindet einen Sampling-Kontext mit dem Dekodier-Kontext des Runners
type sampler struct {
	sc *llama.SamplingContext
	r  *Runner
}
