// types_options.go - Options und Runner Konfiguration
// Enthaelt: Options, Runner, DefaultOptions(), FromMap(), FormatParams()

package api

import (
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"

	"github.com/7blacky7/omnivlm/envconfig"
)

// Options werden in [LoadRequest] (Standardwerte der Session) und
// [InferRequest] (pro Aufruf) als Map uebergeben.
type Options struct {
	Runner

	// Predict options used at runtime
	Seed             int      `json:"seed,omitempty"`
	NumPredict       int      `json:"num_predict,omitempty"`
	TopK             int      `json:"top_k,omitempty"`
	TopP             float32  `json:"top_p,omitempty"`
	MinP             float32  `json:"min_p,omitempty"`
	TypicalP         float32  `json:"typical_p,omitempty"`
	RepeatLastN      int      `json:"repeat_last_n,omitempty"`
	Temperature      float32  `json:"temperature,omitempty"`
	RepeatPenalty    float32  `json:"repeat_penalty,omitempty"`
	PresencePenalty  float32  `json:"presence_penalty,omitempty"`
	FrequencyPenalty float32  `json:"frequency_penalty,omitempty"`
	Stop             []string `json:"stop,omitempty"`
}

// Runner Optionen die beim Laden des Modells gesetzt werden muessen
type Runner struct {
	NumCtx    int   `json:"num_ctx,omitempty"`
	NumBatch  int   `json:"num_batch,omitempty"`
	NumGPU    int   `json:"num_gpu,omitempty"`
	MainGPU   int   `json:"main_gpu,omitempty"`
	UseMMap   *bool `json:"use_mmap,omitempty"`
	NumThread int   `json:"num_thread,omitempty"`
}

// DefaultOptions liefert die Runner-Werte aus der Umgebung und die
// Sampling-Standardwerte von llama.cpp
func DefaultOptions() Options {
	return Options{
		NumPredict: int(envconfig.NumPredict()),

		Temperature:      0.8,
		TopK:             40,
		TopP:             0.95,
		MinP:             0.05,
		TypicalP:         1.0,
		RepeatLastN:      64,
		RepeatPenalty:    1.0,
		PresencePenalty:  0.0,
		FrequencyPenalty: 0.0,
		Seed:             -1,

		Runner: Runner{
			NumCtx:    int(envconfig.ContextLength()),
			NumBatch:  int(envconfig.BatchSize()),
			NumGPU:    envconfig.NumGPU(),
			NumThread: int(envconfig.NumThread()),
			UseMMap:   nil,
		},
	}
}

// FromMap laedt Options-Werte aus einer Map
func (opts *Options) FromMap(m map[string]any) error {
	valueOpts := reflect.ValueOf(opts).Elem() // names of the fields in the options struct
	typeOpts := reflect.TypeOf(opts).Elem()   // types of the fields in the options struct

	// build map of json struct tags to their types
	jsonOpts := make(map[string]reflect.StructField)
	for _, field := range reflect.VisibleFields(typeOpts) {
		jsonTag := strings.Split(field.Tag.Get("json"), ",")[0]
		if jsonTag != "" {
			jsonOpts[jsonTag] = field
		}
	}

	for key, val := range m {
		opt, ok := jsonOpts[key]
		if !ok {
			slog.Warn("invalid option provided", "option", key)
			continue
		}

		field := valueOpts.FieldByIndex(opt.Index)
		if !field.IsValid() || !field.CanSet() || val == nil {
			continue
		}

		switch field.Kind() {
		case reflect.Int:
			switch t := val.(type) {
			case int:
				field.SetInt(int64(t))
			case int64:
				field.SetInt(t)
			case float64:
				// when JSON unmarshals numbers, it uses float64, not int
				field.SetInt(int64(t))
			default:
				return fmt.Errorf("option %q must be of type integer", key)
			}
		case reflect.Float32:
			switch t := val.(type) {
			case float64:
				field.SetFloat(t)
			case float32:
				field.SetFloat(float64(t))
			default:
				return fmt.Errorf("option %q must be of type float32", key)
			}
		case reflect.Slice:
			switch t := val.(type) {
			case []string:
				field.Set(reflect.ValueOf(t))
			case []any:
				// JSON unmarshals to []any, not []string
				slice := make([]string, len(t))
				for i, item := range t {
					str, ok := item.(string)
					if !ok {
						return fmt.Errorf("option %q must be of an array of strings", key)
					}
					slice[i] = str
				}
				field.Set(reflect.ValueOf(slice))
			default:
				return fmt.Errorf("option %q must be of type array", key)
			}
		case reflect.Pointer:
			b, ok := val.(bool)
			if !ok || field.Type() != reflect.TypeOf(&b) {
				return fmt.Errorf("option %q must be of type boolean", key)
			}
			field.Set(reflect.ValueOf(&b))
		default:
			return fmt.Errorf("unknown type loading config params: %v", field.Kind())
		}
	}

	return nil
}

// FormatParams wandelt Kommandozeilen-Parameter (Schluessel -> Werte) in eine
// Map um, die FromMap versteht. Unbekannte Schluessel sind hier ein Fehler.
func FormatParams(params map[string][]string) (map[string]any, error) {
	jsonOpts := make(map[string]reflect.StructField)
	for _, field := range reflect.VisibleFields(reflect.TypeOf(Options{})) {
		jsonTag := strings.Split(field.Tag.Get("json"), ",")[0]
		if jsonTag != "" {
			jsonOpts[jsonTag] = field
		}
	}

	out := make(map[string]any)
	for key, vals := range params {
		opt, ok := jsonOpts[key]
		if !ok {
			return nil, fmt.Errorf("unknown parameter '%s'", key)
		}
		if len(vals) == 0 {
			return nil, fmt.Errorf("missing value for parameter '%s'", key)
		}

		switch opt.Type.Kind() {
		case reflect.Float32:
			f, err := strconv.ParseFloat(vals[0], 32)
			if err != nil {
				return nil, fmt.Errorf("invalid float value %s", vals)
			}
			out[key] = float32(f)
		case reflect.Int:
			i, err := strconv.ParseInt(vals[0], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid int value %s", vals)
			}
			out[key] = i
		case reflect.Slice:
			// nur String-Slices
			out[key] = vals
		case reflect.Pointer:
			b, err := strconv.ParseBool(vals[0])
			if err != nil {
				return nil, fmt.Errorf("invalid bool value %s", vals)
			}
			out[key] = b
		default:
			return nil, fmt.Errorf("unknown type %s for %s", opt.Type.Kind(), key)
		}
	}

	return out, nil
}
