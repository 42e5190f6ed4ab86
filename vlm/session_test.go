package vlm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionInvalid(t *testing.T) {
	var ie *InitializationError
	_, err := NewSession(nil, &fakeEncoder{}, DefaultConfig())
	require.ErrorAs(t, err, &ie)

	_, err = NewSession(newFakeBackend(), nil, DefaultConfig())
	require.ErrorAs(t, err, &ie)

	cfg := DefaultConfig()
	cfg.Template.Footer = "<|im_end|>"

	var iv *InvariantViolation
	_, err = NewSession(newFakeBackend(), &fakeEncoder{rows: 1}, cfg)
	require.ErrorAs(t, err, &iv)
}

func TestInferStops(t *testing.T) {
	cases := map[string]struct {
		pieces []string
		want   string
		eval   int
	}{
		"im_end":       {[]string{"A", " cat", "<|im_end|>", "never"}, "A cat", 3},
		"eos text":     {[]string{"ok", "</s>", "never"}, "ok", 2},
		"eog token":    {[]string{"A", "<EOG>", "never"}, "A", 2},
		"first token":  {[]string{"<|im_end|>"}, "", 1},
		"split marker": {[]string{"Hi", "<|im", "_end|>", "never"}, "Hi", 3},
	}

	for name, tt := range cases {
		t.Run(name, func(t *testing.T) {
			backend := newFakeBackend(tt.pieces...)
			s := newTestSession(t, backend, &fakeEncoder{rows: 3})

			res, err := s.Infer(t.Context(), "describe", writeTestImage(t), nil, nil)
			require.NoError(t, err)

			assert.Equal(t, tt.want, res.Text)
			assert.Equal(t, DoneReasonStop, res.DoneReason)
			assert.Equal(t, tt.eval, res.EvalCount)
			assert.Equal(t, res.PromptEvalCount+res.EvalCount, s.Position())
		})
	}
}

func TestInferNumPredict(t *testing.T) {
	backend := newFakeBackend()
	s := newTestSession(t, backend, &fakeEncoder{rows: 2})

	opts := DefaultOptions()
	opts.NumPredict = 5

	res, err := s.Infer(t.Context(), "describe", writeTestImage(t), &opts, nil)
	require.NoError(t, err)

	assert.Equal(t, ".....", res.Text)
	assert.Equal(t, DoneReasonLength, res.DoneReason)
	assert.Equal(t, 5, res.EvalCount)
	assert.Equal(t, "length", res.DoneReason.String())
}

func TestInferDefaultNumPredict(t *testing.T) {
	s := newTestSession(t, newFakeBackend(), &fakeEncoder{rows: 1})

	opts := DefaultOptions()
	opts.NumPredict = -1

	res, err := s.Infer(t.Context(), "", writeTestImage(t), &opts, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultNumPredict, res.EvalCount)
}

func TestInferDecodeOrder(t *testing.T) {
	backend := newFakeBackend("done", "<|im_end|>")
	encoder := &fakeEncoder{rows: 3}
	s := newTestSession(t, backend, encoder)

	res, err := s.Infer(t.Context(), "hi", writeTestImage(t), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "done", res.Text)

	system, user, err := s.template.Split("hi")
	require.NoError(t, err)

	require.Len(t, backend.decoded, 5)

	// System-Teil mit BOS
	first := backend.decoded[0]
	assert.Equal(t, 0, first.pos)
	require.Len(t, first.inputs, len(system)+1)
	assert.Equal(t, tokenBOS, first.inputs[0].Token)

	// Bild-Embedding direkt dahinter
	image := backend.decoded[1]
	assert.Equal(t, len(system)+1, image.pos)
	require.Len(t, image.inputs, 3)
	assert.NotNil(t, image.inputs[0].Embed)

	// Benutzer-Teil ohne BOS
	last := backend.decoded[2]
	assert.Equal(t, len(system)+1+3, last.pos)
	require.Len(t, last.inputs, len(user))
	assert.Equal(t, int(user[0])+1000, last.inputs[0].Token)

	// gesampelte Tokens werden einzeln zurückgeführt
	assert.Equal(t, res.PromptEvalCount, backend.decoded[3].pos)
	assert.Equal(t, res.PromptEvalCount+1, backend.decoded[4].pos)

	require.Len(t, backend.samplers, 1)
	if diff := cmp.Diff(backend.stream, backend.samplers[0].accepted); diff != "" {
		t.Errorf("accepted tokens mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, 1, encoder.released)
}

func TestInferDeterministic(t *testing.T) {
	backend := newFakeBackend("a", " red", " ball", "<|im_end|>")
	s := newTestSession(t, backend, &fakeEncoder{rows: 4})
	path := writeTestImage(t)

	first, err := s.Infer(t.Context(), "describe", path, nil, nil)
	require.NoError(t, err)
	pos := s.Position()

	second, err := s.Infer(t.Context(), "describe", path, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "a red ball", first.Text)
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, pos, s.Position())
	assert.Equal(t, 2, backend.cleared)
}

func TestInferMissingImage(t *testing.T) {
	backend := newFakeBackend("x", "<|im_end|>")
	encoder := &fakeEncoder{rows: 2}
	s := newTestSession(t, backend, encoder)

	_, err := s.Infer(t.Context(), "describe", writeTestImage(t), nil, nil)
	require.NoError(t, err)
	pos := s.Position()
	require.NotZero(t, pos)

	missing := filepath.Join(t.TempDir(), "missing.jpg")
	_, err = s.Infer(t.Context(), "describe", missing, nil, nil)

	var ile *ImageLoadError
	require.ErrorAs(t, err, &ile)
	assert.Equal(t, missing, ile.Path)
	assert.ErrorIs(t, err, os.ErrNotExist)

	assert.Equal(t, pos, s.Position())
	assert.Equal(t, 1, backend.cleared)
	assert.Equal(t, 1, encoder.encoded)

	// Session bleibt benutzbar
	res, err := s.Infer(t.Context(), "describe", writeTestImage(t), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "x", res.Text)
}

func TestInferEncoderError(t *testing.T) {
	s := newTestSession(t, newFakeBackend(), &fakeEncoder{err: errors.New("clip failed")})

	_, err := s.InferImage(t.Context(), "describe", pngBytes(t), nil, nil)

	var ile *ImageLoadError
	require.ErrorAs(t, err, &ile)
	assert.Zero(t, s.Position())
}

func TestInferNotAnImage(t *testing.T) {
	s := newTestSession(t, newFakeBackend(), &fakeEncoder{rows: 1})

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("just some text"), 0o600))

	_, err := s.Infer(t.Context(), "describe", path, nil, nil)

	var ile *ImageLoadError
	require.ErrorAs(t, err, &ile)
}

func TestInferReleasesEmbedOnError(t *testing.T) {
	backend := newFakeBackend()
	backend.failAt = 2
	encoder := &fakeEncoder{rows: 2}
	s := newTestSession(t, backend, encoder)

	_, err := s.Infer(t.Context(), "describe", writeTestImage(t), nil, nil)
	require.ErrorIs(t, err, ErrDecode)
	assert.Equal(t, 1, encoder.released)

	backend.samplerFn = func(SamplingParams) error { return errors.New("no sampler") }
	pos := s.Position()

	_, err = s.Infer(t.Context(), "describe", writeTestImage(t), nil, nil)
	require.Error(t, err)
	assert.Equal(t, 2, encoder.released)
	assert.Equal(t, pos, s.Position())
}

func TestInferStreaming(t *testing.T) {
	backend := newFakeBackend("Hi", "<", "b>", "<|im", "_end|>")
	s := newTestSession(t, backend, &fakeEncoder{rows: 1})

	var pieces []string
	res, err := s.Infer(t.Context(), "describe", writeTestImage(t), nil, func(piece string) error {
		pieces = append(pieces, piece)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "Hi<b>", res.Text)
	if diff := cmp.Diff([]string{"Hi", "<b>"}, pieces); diff != "" {
		t.Errorf("streamed pieces mismatch (-want +got):\n%s", diff)
	}
}

func TestInferStreamingAbort(t *testing.T) {
	s := newTestSession(t, newFakeBackend("a", "b", "c"), &fakeEncoder{rows: 1})

	abort := errors.New("client gone")
	_, err := s.Infer(t.Context(), "describe", writeTestImage(t), nil, func(string) error {
		return abort
	})
	assert.ErrorIs(t, err, abort)
}

func TestInferIncompleteUnicode(t *testing.T) {
	euro := "€"
	backend := newFakeBackend(euro[:1], euro[1:], "<|im_end|>")
	s := newTestSession(t, backend, &fakeEncoder{rows: 1})

	var pieces []string
	res, err := s.Infer(t.Context(), "describe", writeTestImage(t), nil, func(piece string) error {
		pieces = append(pieces, piece)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, euro, res.Text)
	assert.Equal(t, []string{euro}, pieces)
}

func TestInferFinalFlushKeepsValidText(t *testing.T) {
	s := newTestSession(t, newFakeBackend("ok", "\xe4", "<"), &fakeEncoder{rows: 1})

	opts := DefaultOptions()
	opts.NumPredict = 3

	res, err := s.Infer(t.Context(), "describe", writeTestImage(t), &opts, nil)
	require.NoError(t, err)

	assert.Equal(t, "ok<", res.Text)
	assert.Equal(t, DoneReasonLength, res.DoneReason)
}

func TestInferCanceled(t *testing.T) {
	s := newTestSession(t, newFakeBackend(), &fakeEncoder{rows: 1})

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := s.Infer(ctx, "describe", writeTestImage(t), nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSessionClose(t *testing.T) {
	backend := newFakeBackend()
	encoder := &fakeEncoder{rows: 1}
	s := newTestSession(t, backend, encoder)

	require.NoError(t, s.Close())
	assert.True(t, s.Closed())
	assert.ErrorIs(t, s.Close(), ErrClosed)

	_, err := s.Infer(t.Context(), "describe", writeTestImage(t), nil, nil)
	assert.ErrorIs(t, err, ErrClosed)

	_, _, err = s.PromptTokens(t.Context(), "describe")
	assert.ErrorIs(t, err, ErrClosed)

	assert.Equal(t, 1, backend.closed)
	assert.Equal(t, 1, encoder.closed)
}

func TestPromptTokens(t *testing.T) {
	s := newTestSession(t, newFakeBackend(), &fakeEncoder{rows: 1})

	system, user, err := s.PromptTokens(t.Context(), "")
	require.NoError(t, err)

	require.NotEmpty(t, system)
	assert.Equal(t, TokenPiece{ID: tokenBOS, Piece: "<s>"}, system[0])

	var sb strings.Builder
	for _, p := range system[1:] {
		sb.WriteString(p.Piece)
	}
	assert.True(t, strings.HasSuffix(sb.String(), DefaultPrompt+"\n<|vision_start|>"))

	sb.Reset()
	for _, p := range user {
		sb.WriteString(p.Piece)
	}
	assert.Equal(t, "<|vision_end|><|im_end|>", sb.String())
}

func TestImageEmbedRelease(t *testing.T) {
	calls := 0
	e := NewImageEmbed([]Input{{Embed: []float32{1}}, {Embed: []float32{2}}}, func() { calls++ })
	assert.Equal(t, 2, e.Len())

	e.Release()
	e.Release()
	assert.Equal(t, 1, calls)
	assert.Zero(t, e.Len())

	var nilEmbed *ImageEmbed
	nilEmbed.Release()
	assert.Zero(t, nilEmbed.Len())
}

func pngBytes(t *testing.T) []byte {
	t.Helper()

	data, err := os.ReadFile(writeTestImage(t))
	require.NoError(t, err)
	return data
}
