package vlm

import "sync"

// Input ist eine Dekodier-Position: entweder ein Text-Token oder eine Zeile eines Bild-Embeddings
type Input struct {
	Token int

	// Embed ist gesetzt, wenn die Position aus dem Bild-Encoder stammt
	Embed []float32
}

// Backend kapselt Modell und Dekodier-Kontext der Laufzeitbibliothek
type Backend interface {
	// Tokenize zerlegt Text in Tokens; addSpecial fügt BOS hinzu
	Tokenize(text string, addSpecial bool) ([]int, error)

	// Decode schreibt inputs ab Position pos in den Kontext.
	// Logits werden nur für den letzten Input berechnet.
	Decode(inputs []Input, pos int) error

	NewSampler(params SamplingParams) (Sampler, error)
	TokenIsEog(token int) bool
	TokenToPiece(token int) string

	// ClearCache verwirft den gesamten KV-Cache
	ClearCache()

	Close() error
}

// Sampler wählt das nächste Token aus den Logits der letzten Dekodierung
type Sampler interface {
	Sample() int
	Accept(token int)
}

// ImageEncoder erzeugt aus Bild-Bytes die Embedding-Zeilen für den Kontext
type ImageEncoder interface {
	EncodeImage(data []byte) (*ImageEmbed, error)
	Close()
}

// ImageEmbed gehört nach EncodeImage dem Aufrufer und muss mit Release freigegeben werden
type ImageEmbed struct {
	Inputs []Input

	once    sync.Once
	release func()
}

// NewImageEmbed erzeugt ein Embedding; release darf nil sein
func NewImageEmbed(inputs []Input, release func()) *ImageEmbed {
	return &ImageEmbed{Inputs: inputs, release: release}
}

// Len liefert die Anzahl der Positionen, die das Bild im Kontext belegt
func (e *ImageEmbed) Len() int {
	if e == nil {
		return 0
	}
	return len(e.Inputs)
}

// Release gibt das Embedding frei. Mehrfache Aufrufe sind erlaubt.
func (e *ImageEmbed) Release() {
	if e == nil {
		return
	}
	e.once.Do(func() {
		if e.release != nil {
			e.release()
		}
		e.Inputs = nil
	})
}
