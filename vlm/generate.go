package vlm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/7blacky7/omnivlm/logutil"
	"github.com/7blacky7/omnivlm/runner/common"
	"github.com/7blacky7/omnivlm/vision"
)

// Result ist das Ergebnis einer Inferenz. Text gehört dem Aufrufer.
type Result struct {
	Text       string
	DoneReason DoneReason

	PromptEvalCount    int
	PromptEvalDuration time.Duration
	EvalCount          int
	EvalDuration       time.Duration
}

// PieceFunc empfängt generierten Text, sobald er feststeht.
// Ein Fehler bricht die Inferenz ab.
type PieceFunc func(piece string) error

// Infer führt einen vollständigen Generierungszyklus für ein Bild aus einer Datei aus.
// opts == nil verwendet die Standard-Optionen der Session, fn darf nil sein.
func (s *Session) Infer(ctx context.Context, prompt, imagePath string, opts *Options, fn PieceFunc) (*Result, error) {
	return s.generate(ctx, prompt, imagePath, func() (*vision.ImageInput, error) {
		return vision.LoadImage(imagePath)
	}, opts, fn)
}

// InferImage wie Infer, aber mit Bild-Bytes statt Dateipfad
func (s *Session) InferImage(ctx context.Context, prompt string, data []byte, opts *Options, fn PieceFunc) (*Result, error) {
	return s.generate(ctx, prompt, "", func() (*vision.ImageInput, error) {
		return vision.LoadImageFromBytes(data)
	}, opts, fn)
}

func (s *Session) generate(ctx context.Context, prompt, path string, load func() (*vision.ImageInput, error), opts *Options, fn PieceFunc) (*Result, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	o := s.defaults
	if opts != nil {
		o = *opts
	}

	systemTokens, userTokens, err := s.tokenizePrompt(prompt)
	if err != nil {
		return nil, err
	}

	if o.VerbosePrompt {
		s.logTokens("system", systemTokens)
		s.logTokens("user", userTokens)
	}

	embed, err := s.embedImage(path, load)
	if err != nil {
		return nil, err
	}
	defer embed.Release()

	sampler, err := s.backend.NewSampler(o.Sampling)
	if err != nil {
		return nil, fmt.Errorf("failed to create sampling context: %w", err)
	}

	// Ab hier wird der Kontext verändert
	start := time.Now()
	s.backend.ClearCache()
	s.pos.Store(0)

	for _, inputs := range [][]Input{tokenInputs(systemTokens), embed.Inputs, tokenInputs(userTokens)} {
		if err := s.decode(inputs); err != nil {
			return nil, err
		}
	}

	res := Result{
		DoneReason:         DoneReasonLength,
		PromptEvalCount:    s.Position(),
		PromptEvalDuration: time.Since(start),
	}

	slog.Debug("prompt evaluated", "session", s.ID, "tokens", res.PromptEvalCount, "image", embed.Len(), "duration", res.PromptEvalDuration)

	var sb strings.Builder
	var pending []string
	stops := o.stops()

	flush := func(final bool) error {
		joined := strings.Join(pending, "")
		pending = pending[:0]

		// ungültige Bytes entfernen, gültiger Text dahinter bleibt
		if final {
			joined = strings.ToValidUTF8(joined, "")
		}

		if joined == "" {
			return nil
		}

		sb.WriteString(joined)
		if fn != nil {
			return fn(joined)
		}
		return nil
	}

	start = time.Now()
	for range o.numPredict() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		token := sampler.Sample()
		sampler.Accept(token)

		piece := eogPiece
		if !s.backend.TokenIsEog(token) {
			piece = s.backend.TokenToPiece(token)
		}

		if err := s.decode([]Input{{Token: token}}); err != nil {
			return nil, err
		}
		res.EvalCount++

		logutil.Trace("sampled token", "session", s.ID, "token", token, "piece", piece, "pos", s.Position())

		pending = append(pending, piece)
		sequence := strings.Join(pending, "")

		if ok, stop := common.FindStop(sequence, stops); ok {
			pending, _ = common.TruncateStop(pending, stop)
			res.DoneReason = DoneReasonStop
			break
		}

		if common.ContainsStopSuffix(sequence, stops) || common.IncompleteUnicode(sequence) {
			continue
		}

		if err := flush(false); err != nil {
			return nil, err
		}
	}

	if err := flush(true); err != nil {
		return nil, err
	}

	res.EvalDuration = time.Since(start)
	res.Text = sb.String()

	slog.Debug("generation done", "session", s.ID, "reason", res.DoneReason, "tokens", res.EvalCount, "duration", res.EvalDuration)
	return &res, nil
}

// embedImage lädt das Bild und erzeugt das Embedding, ohne den Kontext zu verändern
func (s *Session) embedImage(path string, load func() (*vision.ImageInput, error)) (*ImageEmbed, error) {
	img, err := load()
	if err != nil {
		return nil, &ImageLoadError{Path: path, Err: err}
	}

	data, err := img.EncoderData()
	if err != nil {
		return nil, &ImageLoadError{Path: path, Err: err}
	}

	embed, err := s.encoder.EncodeImage(data)
	if err != nil {
		return nil, &ImageLoadError{Path: path, Err: err}
	}

	if embed.Len() == 0 {
		embed.Release()
		return nil, &ImageLoadError{Path: path, Err: fmt.Errorf("image produced no embedding")}
	}

	slog.Debug("image embedded", "session", s.ID, "mime", img.Format.MimeType(), "width", img.Width, "height", img.Height, "positions", embed.Len())
	return embed, nil
}

// decode schreibt inputs an die aktuelle Position und rückt den Zähler vor
func (s *Session) decode(inputs []Input) error {
	if len(inputs) == 0 {
		return nil
	}

	if err := s.backend.Decode(inputs, s.Position()); err != nil {
		return fmt.Errorf("%w at position %d: %w", ErrDecode, s.Position(), err)
	}

	s.pos.Add(int64(len(inputs)))
	return nil
}

func (s *Session) logTokens(span string, tokens []int) {
	for _, t := range tokens {
		slog.Info("prompt token", "span", span, "id", t, "piece", s.backend.TokenToPiece(t))
	}
}

func tokenInputs(tokens []int) []Input {
	inputs := make([]Input, len(tokens))
	for i, t := range tokens {
		inputs[i] = Input{Token: t}
	}
	return inputs
}
