package vlm

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

const (
	tokenBOS = 1
	tokenEOG = 2
)

// fakeBackend tokenisiert byteweise (Token = Byte + 1000) und liefert vorgegebene Tokens beim Sampling
type fakeBackend struct {
	vocab  map[int]string
	stream []int
	filler int

	decoded   []decodeCall
	failAt    int // Decode-Aufruf, der fehlschlägt (1-basiert), 0 = nie
	decodes   int
	cleared   int
	closed    int
	samplers  []*fakeSampler
	samplerFn func(SamplingParams) error
}

type decodeCall struct {
	inputs []Input
	pos    int
}

func newFakeBackend(pieces ...string) *fakeBackend {
	b := &fakeBackend{vocab: map[int]string{tokenBOS: "<s>"}, filler: 500}
	b.vocab[b.filler] = "."
	for i, p := range pieces {
		id := 100 + i
		if p == "<EOG>" {
			id = tokenEOG
		} else {
			b.vocab[id] = p
		}
		b.stream = append(b.stream, id)
	}
	return b
}

func (b *fakeBackend) Tokenize(text string, addSpecial bool) ([]int, error) {
	var tokens []int
	if addSpecial {
		tokens = append(tokens, tokenBOS)
	}
	for _, c := range []byte(text) {
		tokens = append(tokens, int(c)+1000)
	}
	return tokens, nil
}

func (b *fakeBackend) Decode(inputs []Input, pos int) error {
	b.decodes++
	if b.failAt > 0 && b.decodes == b.failAt {
		return errors.New("kv cache full")
	}
	b.decoded = append(b.decoded, decodeCall{inputs: inputs, pos: pos})
	return nil
}

func (b *fakeBackend) NewSampler(params SamplingParams) (Sampler, error) {
	if b.samplerFn != nil {
		if err := b.samplerFn(params); err != nil {
			return nil, err
		}
	}
	s := &fakeSampler{backend: b}
	b.samplers = append(b.samplers, s)
	return s, nil
}

func (b *fakeBackend) TokenIsEog(token int) bool {
	return token == tokenEOG
}

func (b *fakeBackend) TokenToPiece(token int) string {
	if p, ok := b.vocab[token]; ok {
		return p
	}
	if token >= 1000 {
		return string([]byte{byte(token - 1000)})
	}
	return ""
}

func (b *fakeBackend) ClearCache() {
	b.cleared++
	b.decoded = nil
}

func (b *fakeBackend) Close() error {
	b.closed++
	return nil
}

// fakeSampler ist deterministisch wie greedy Sampling
type fakeSampler struct {
	backend  *fakeBackend
	next     int
	accepted []int
}

func (s *fakeSampler) Sample() int {
	if s.next < len(s.backend.stream) {
		t := s.backend.stream[s.next]
		s.next++
		return t
	}
	return s.backend.filler
}

func (s *fakeSampler) Accept(token int) {
	s.accepted = append(s.accepted, token)
}

type fakeEncoder struct {
	rows     int
	err      error
	encoded  int
	released int
	closed   int
}

func (e *fakeEncoder) EncodeImage(data []byte) (*ImageEmbed, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.encoded++
	inputs := make([]Input, e.rows)
	for i := range inputs {
		inputs[i] = Input{Embed: []float32{float32(i), 0.5}}
	}
	return NewImageEmbed(inputs, func() { e.released++ }), nil
}

func (e *fakeEncoder) Close() {
	e.closed++
}

func writeTestImage(t *testing.T) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 60), uint8(y * 60), 128, 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "image.png")
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestSession(t *testing.T, backend *fakeBackend, encoder *fakeEncoder) *Session {
	t.Helper()

	s, err := NewSession(backend, encoder, DefaultConfig())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}
