// routes_infer.go - Session- und Inferenz-Handler
// Enthaelt: LoadHandler, UnloadHandler, StatusHandler, InferHandler, streamResponse

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/7blacky7/omnivlm/api"
	"github.com/7blacky7/omnivlm/vlm"
)

// LoadHandler laedt Modell und Projektor und ersetzt eine bestehende Session
func (s *Server) LoadHandler(c *gin.Context) {
	var req api.LoadRequest
	if err := c.ShouldBindJSON(&req); errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing request body"})
		return
	} else if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Model == "" || req.Projector == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "model and projector are required"})
		return
	}

	cfg := s.config
	if req.Config != "" {
		var err error
		if cfg, err = BaseConfig(req.Config); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	opts := APIOptions(cfg.Options)
	if err := opts.FromMap(req.Options); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	verbose := cfg.Options.VerbosePrompt
	cfg.Options = SessionOptions(opts)
	cfg.Options.VerbosePrompt = verbose

	s.mu.Lock()
	defer s.mu.Unlock()

	// nur eine Session gleichzeitig, die alte wird vor dem Laden freigegeben
	if s.current != nil {
		if err := s.current.session.Close(); err != nil && !errors.Is(err, vlm.ErrClosed) {
			slog.Warn("failed to close previous session", "session", s.current.session.ID, "error", err)
		}
		s.current = nil
	}

	start := time.Now()
	rt, err := s.load(RunnerParams(req.Model, req.Projector, opts))
	if err != nil {
		slog.Error("load failed", "model", req.Model, "projector", req.Projector, "error", err)
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	session, err := vlm.NewSession(rt.Backend, rt.Encoder, cfg)
	if err != nil {
		rt.Encoder.Close()
		if cerr := rt.Backend.Close(); cerr != nil {
			slog.Warn("failed to release backend", "error", cerr)
		}
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	s.current = &loaded{
		session:   session,
		model:     req.Model,
		projector: req.Projector,
		numCtx:    rt.NumCtx,
		loadedAt:  time.Now(),
	}

	slog.Info("session loaded", "session", session.ID, "model", req.Model, "num_ctx", rt.NumCtx)
	c.JSON(http.StatusOK, api.LoadResponse{
		SessionID:    session.ID,
		NumCtx:       rt.NumCtx,
		LoadDuration: time.Since(start),
	})
}

// UnloadHandler schliesst die aktuelle Session und gibt Modell und Projektor frei
func (s *Server) UnloadHandler(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		c.AbortWithStatusJSON(statusFor(errNoSession), gin.H{"error": errNoSession.Error()})
		return
	}

	session := s.current.session
	s.current = nil

	if err := session.Close(); err != nil {
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	slog.Info("session unloaded", "session", session.ID)
	c.JSON(http.StatusOK, gin.H{})
}

// StatusHandler beschreibt die geladene Session
func (s *Server) StatusHandler(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		c.JSON(http.StatusOK, api.StatusResponse{})
		return
	}

	c.JSON(http.StatusOK, api.StatusResponse{
		Loaded:    true,
		SessionID: s.current.session.ID,
		Model:     s.current.model,
		Projector: s.current.projector,
		NumCtx:    s.current.numCtx,
		Position:  s.current.session.Position(),
		LoadedAt:  s.current.loadedAt,
	})
}

// InferHandler fuehrt einen Generierungszyklus aus und streamt die Antwort als NDJSON
func (s *Server) InferHandler(c *gin.Context) {
	var req api.InferRequest
	if err := c.ShouldBindJSON(&req); errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing request body"})
		return
	} else if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch {
	case req.ImagePath == "" && len(req.Image) == 0:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "image_path or image is required"})
		return
	case req.ImagePath != "" && len(req.Image) > 0:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "only one of image_path and image may be set"})
		return
	}

	session, err := s.session()
	if err != nil {
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	defaults := session.Defaults()
	apiOpts := APIOptions(defaults)
	if err := apiOpts.FromMap(req.Options); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	opts := SessionOptions(apiOpts)
	opts.VerbosePrompt = req.VerbosePrompt || defaults.VerbosePrompt

	infer := func(ctx context.Context, fn vlm.PieceFunc) (*vlm.Result, error) {
		if req.ImagePath != "" {
			return session.Infer(ctx, req.Prompt, req.ImagePath, &opts, fn)
		}
		return session.InferImage(ctx, req.Prompt, req.Image, &opts, fn)
	}

	start := time.Now()
	final := func(res *vlm.Result, text string) api.InferResponse {
		return api.InferResponse{
			SessionID:  session.ID,
			CreatedAt:  time.Now().UTC(),
			Response:   text,
			Done:       true,
			DoneReason: res.DoneReason.String(),
			Metrics: api.Metrics{
				TotalDuration:      time.Since(start),
				PromptEvalCount:    res.PromptEvalCount,
				PromptEvalDuration: res.PromptEvalDuration,
				EvalCount:          res.EvalCount,
				EvalDuration:       res.EvalDuration,
			},
		}
	}

	if req.Stream != nil && !*req.Stream {
		res, err := infer(c.Request.Context(), nil)
		if err != nil {
			c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, final(res, res.Text))
		return
	}

	ctx := c.Request.Context()
	ch := make(chan any)
	go func() {
		defer close(ch)

		send := func(v any) error {
			select {
			case ch <- v:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		res, err := infer(ctx, func(piece string) error {
			return send(api.InferResponse{
				SessionID: session.ID,
				CreatedAt: time.Now().UTC(),
				Response:  piece,
			})
		})
		if err != nil {
			slog.Debug("inference failed", "session", session.ID, "error", err)
			_ = send(gin.H{"error": err.Error(), "status": statusFor(err)})
			return
		}

		_ = send(final(res, ""))
	}()

	streamResponse(c, ch)
}

// streamResponse schreibt jede Nachricht aus ch als NDJSON-Zeile.
// Ein Fehler vor der ersten Zeile wird als normale JSON-Antwort mit Status gesendet.
func streamResponse(c *gin.Context, ch chan any) {
	c.Header("Content-Type", "application/x-ndjson")
	c.Stream(func(w io.Writer) bool {
		val, ok := <-ch
		if !ok {
			return false
		}

		if h, ok := val.(gin.H); ok {
			if e, ok := h["error"].(string); ok {
				status, ok := h["status"].(int)
				if !ok {
					status = http.StatusInternalServerError
				}

				if !c.Writer.Written() {
					c.Header("Content-Type", "application/json")
					c.JSON(status, gin.H{"error": e})
				} else {
					if err := json.NewEncoder(c.Writer).Encode(gin.H{"error": e}); err != nil {
						slog.Error("streamResponse failed to encode json error", "error", err)
					}
				}

				return false
			}
		}

		bts, err := json.Marshal(val)
		if err != nil {
			slog.Info(fmt.Sprintf("streamResponse: json.Marshal failed with %s", err))
			return false
		}

		bts = append(bts, '\n')
		if _, err := w.Write(bts); err != nil {
			slog.Info(fmt.Sprintf("streamResponse: w.Write failed with %s", err))
			return false
		}

		return true
	})
}
