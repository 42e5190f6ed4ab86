// config_utils.go - Utility-Funktionen und Export fuer Konfiguration
//
// Dieses Modul enthaelt:
// - BoolWithDefault/Bool: Boolean-Getter mit Default-Wert
// - String: String-Getter
// - Uint/Int: Integer-Getter mit Default-Wert
// - EnvVar: Struktur fuer Environment-Variablen-Info
// - AsMap: Gibt alle Konfigurationen als Map zurueck
// - Values: Gibt alle Konfigurationswerte als String-Map zurueck
package envconfig

import (
	"fmt"
	"log/slog"
	"strconv"
)

// =============================================================================
// Boolean-Getter
// =============================================================================

// BoolWithDefault gibt eine Funktion zurueck, die einen Bool mit Default-Wert liest
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Bool gibt eine Funktion zurueck, die einen Bool liest (Default: false)
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// =============================================================================
// String-Getter
// =============================================================================

// String gibt eine Funktion zurueck, die einen String liest
func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

// =============================================================================
// Integer-Getter
// =============================================================================

// Uint gibt eine Funktion zurueck, die einen uint mit Default-Wert liest
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// Int gibt eine Funktion zurueck, die einen int mit Default-Wert liest
// Negative Werte sind erlaubt (z.B. -1 fuer "alle")
func Int(key string, defaultValue int) func() int {
	return func() int {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseInt(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return int(n)
			}
		}
		return defaultValue
	}
}

// =============================================================================
// Export-Strukturen und -Funktionen
// =============================================================================

// EnvVar repraesentiert eine Environment-Variable mit Metadaten
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle Konfigurationen als Map zurueck
// Enthaelt Namen, aktuelle Werte und Beschreibungen
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"OMNIVLM_DEBUG":           {"OMNIVLM_DEBUG", LogLevel(), "Show additional debug information (e.g. OMNIVLM_DEBUG=1, 2 for token trace)"},
		"OMNIVLM_HOST":            {"OMNIVLM_HOST", Host(), "IP Address for the omnivlm server (default 127.0.0.1:11500)"},
		"OMNIVLM_ORIGINS":         {"OMNIVLM_ORIGINS", AllowedOrigins(), "A comma separated list of allowed origins"},
		"OMNIVLM_CONFIG":          {"OMNIVLM_CONFIG", ConfigPath(), "YAML file with prompt template and generation options"},
		"OMNIVLM_CONTEXT_LENGTH":  {"OMNIVLM_CONTEXT_LENGTH", ContextLength(), "Context length of the decode context (default: 4096, minimum 2048)"},
		"OMNIVLM_BATCH_SIZE":      {"OMNIVLM_BATCH_SIZE", BatchSize(), "Maximum number of inputs per decode call (default: 512)"},
		"OMNIVLM_NUM_THREAD":      {"OMNIVLM_NUM_THREAD", NumThread(), "Number of CPU threads (default: runtime decides)"},
		"OMNIVLM_NUM_GPU":         {"OMNIVLM_NUM_GPU", NumGPU(), "Number of layers to offload to the GPU (default: -1, all)"},
		"OMNIVLM_NUM_PREDICT":     {"OMNIVLM_NUM_PREDICT", NumPredict(), "Maximum number of generated tokens per inference (default: 256)"},
		"OMNIVLM_FLASH_ATTENTION": {"OMNIVLM_FLASH_ATTENTION", FlashAttention(false), "Enable flash attention"},
		"OMNIVLM_KV_CACHE_TYPE":   {"OMNIVLM_KV_CACHE_TYPE", KvCacheType(), "Quantization type for the K/V cache (default: f16)"},
		"OMNIVLM_NOMMAP":          {"OMNIVLM_NOMMAP", NoMmap(), "Do not memory-map model weights"},
		"OMNIVLM_NOHISTORY":       {"OMNIVLM_NOHISTORY", NoHistory(), "Do not preserve readline history"},
	}
}

// Values gibt alle Konfigurationswerte als String-Map zurueck
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
