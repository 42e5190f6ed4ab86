// config_features.go - Runner-, Sampling- und Feature-Variablen
//
// Dieses Modul enthaelt:
// - Runner-Parameter (Kontextlaenge, Batch-Groesse, Threads, GPU-Layer)
// - Generierungs-Parameter (Token-Budget)
// - Feature-Flags (FlashAttention, KV-Cache-Typ, mmap, History)
package envconfig

// =============================================================================
// Runner-Parameter
// =============================================================================

var (
	// ContextLength setzt die Kontextlaenge des Dekodier-Kontexts.
	// Werte unter 2048 werden beim Laden angehoben, damit Bild-Embeddings passen.
	ContextLength = Uint("OMNIVLM_CONTEXT_LENGTH", 4096)

	// BatchSize ist die maximale Anzahl Inputs pro Decode-Aufruf
	BatchSize = Uint("OMNIVLM_BATCH_SIZE", 512)

	// NumThread setzt die Anzahl CPU-Threads (0 = Runtime entscheidet)
	NumThread = Uint("OMNIVLM_NUM_THREAD", 0)

	// NumGPU setzt die Anzahl auf die GPU ausgelagerter Layer (-1 = alle)
	NumGPU = Int("OMNIVLM_NUM_GPU", -1)
)

// =============================================================================
// Generierungs-Parameter
// =============================================================================

var (
	// NumPredict ist das Token-Budget pro Inferenz
	NumPredict = Uint("OMNIVLM_NUM_PREDICT", 256)
)

// =============================================================================
// Feature-Flags
// =============================================================================

var (
	// FlashAttention aktiviert Flash Attention im Dekodier-Kontext
	FlashAttention = BoolWithDefault("OMNIVLM_FLASH_ATTENTION")

	// KvCacheType ist der Quantisierungstyp fuer den K/V Cache
	KvCacheType = String("OMNIVLM_KV_CACHE_TYPE")

	// NoMmap deaktiviert Memory-Mapping der Modell-Gewichte
	NoMmap = Bool("OMNIVLM_NOMMAP")

	// NoHistory deaktiviert Readline-History im interaktiven Modus
	NoHistory = Bool("OMNIVLM_NOHISTORY")
)
