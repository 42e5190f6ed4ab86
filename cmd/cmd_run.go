// cmd_run.go - Run Command: Inferenz ohne Server im eigenen Prozess
// Hauptfunktionen: RunHandler, loadSession, generate
package cmd

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/7blacky7/omnivlm/api"
	"github.com/7blacky7/omnivlm/envconfig"
	"github.com/7blacky7/omnivlm/logutil"
	"github.com/7blacky7/omnivlm/runner/llamarunner"
	"github.com/7blacky7/omnivlm/server"
	"github.com/7blacky7/omnivlm/vlm"
)

// runOptions - Optionen fuer run und den interaktiven Modus
type runOptions struct {
	Model     string
	Projector string
	Config    string
	Image     string
	Prompt    string

	// Options enthaelt Runner- und Sampling-Parameter im Format von api.Options
	Options map[string]any

	WordWrap      bool
	Verbose       bool
	VerbosePrompt bool
}

// RunHandler - Laedt Modell und Projektor und beschreibt ein Bild
func RunHandler(cmd *cobra.Command, args []string) error {
	opts := runOptions{
		WordWrap: os.Getenv("TERM") == "xterm-256color",
	}

	var err error
	if opts.Model, err = cmd.Flags().GetString("model"); err != nil {
		return err
	}
	if opts.Projector, err = cmd.Flags().GetString("mmproj"); err != nil {
		return err
	}
	if opts.Config, err = cmd.Flags().GetString("config"); err != nil {
		return err
	}
	if opts.Image, err = cmd.Flags().GetString("image"); err != nil {
		return err
	}
	if opts.Verbose, err = cmd.Flags().GetBool("verbose"); err != nil {
		return err
	}
	if opts.VerbosePrompt, err = cmd.Flags().GetBool("verbose-prompt"); err != nil {
		return err
	}

	nowrap, err := cmd.Flags().GetBool("nowordwrap")
	if err != nil {
		return err
	}
	if nowrap {
		opts.WordWrap = false
	}

	params, err := cmd.Flags().GetStringArray("set")
	if err != nil {
		return err
	}
	if opts.Options, err = parseParameters(params); err != nil {
		return err
	}

	interactive, err := cmd.Flags().GetBool("interactive")
	if err != nil {
		return err
	}

	prompts := args
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		in, err := readStdinContent()
		if err != nil {
			return err
		}
		prompts = append([]string{in}, prompts...)
		interactive = false
	}
	opts.Prompt = strings.TrimSpace(strings.Join(prompts, " "))

	if opts.Image == "" && len(prompts) == 0 {
		interactive = true
	}

	if !interactive && opts.Image == "" {
		return errors.New("an image is required, use --image")
	}

	// Log-Ausgaben nur bei OMNIVLM_DEBUG, damit die Antwort lesbar bleibt
	level := envconfig.LogLevel()
	if level == slog.LevelInfo {
		level = slog.LevelWarn
	}
	slog.SetDefault(logutil.NewLogger(os.Stderr, level))

	session, err := loadSession(opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil && !errors.Is(err, vlm.ErrClosed) {
			slog.Warn("failed to close session", "error", err)
		}
	}()

	if interactive {
		return generateInteractive(cmd, session, opts)
	}

	return generate(cmd, session, opts)
}

// loadSession - Laedt Konfiguration, Modell und Projektor in eine neue Session
func loadSession(opts runOptions) (*vlm.Session, error) {
	cfg, err := server.BaseConfig(cmp.Or(opts.Config, envconfig.ConfigPath()))
	if err != nil {
		return nil, err
	}

	apiOpts := server.APIOptions(cfg.Options)
	if err := apiOpts.FromMap(opts.Options); err != nil {
		return nil, err
	}
	verbose := cfg.Options.VerbosePrompt
	cfg.Options = server.SessionOptions(apiOpts)
	cfg.Options.VerbosePrompt = verbose

	params := server.RunnerParams(opts.Model, opts.Projector, apiOpts)
	if term.IsTerminal(int(os.Stderr.Fd())) {
		params.Progress = loadProgress(os.Stderr)
	}

	r, err := llamarunner.Load(params)
	if err != nil {
		return nil, err
	}

	session, err := vlm.NewSession(r, r.Encoder(), cfg)
	if err != nil {
		r.Close()
		return nil, err
	}

	return session, nil
}

// loadProgress - Zeigt den Lade-Fortschritt in ganzen Prozent
func loadProgress(w io.Writer) func(float32) {
	last := -1
	return func(p float32) {
		pct := int(p * 100)
		if pct == last {
			return
		}
		last = pct

		fmt.Fprintf(w, "\rloading model %3d%%", pct)
		if pct >= 100 {
			fmt.Fprint(w, "\r\x1b[K")
		}
	}
}

// inferOptions - Sitzungs-Optionen mit den Parametern aus opts ueberschrieben
func inferOptions(session *vlm.Session, params map[string]any) (*vlm.Options, error) {
	apiOpts := server.APIOptions(session.Defaults())
	if err := apiOpts.FromMap(params); err != nil {
		return nil, err
	}

	o := server.SessionOptions(apiOpts)
	o.VerbosePrompt = session.Defaults().VerbosePrompt
	return &o, nil
}

// generate - Fuehrt eine Inferenz aus und gibt die Antwort gestreamt aus
func generate(cmd *cobra.Command, session *vlm.Session, opts runOptions) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	o, err := inferOptions(session, opts.Options)
	if err != nil {
		return err
	}

	if opts.VerbosePrompt {
		system, user, err := session.PromptTokens(ctx, opts.Prompt)
		if err != nil {
			return err
		}
		renderTokens(os.Stderr, system, user)
	}

	state := &displayResponseState{}
	width := terminalWidth()

	start := time.Now()
	res, err := session.Infer(ctx, opts.Prompt, opts.Image, o, func(piece string) error {
		displayResponse(os.Stdout, piece, opts.WordWrap, width, state)
		return nil
	})
	if errors.Is(err, context.Canceled) {
		fmt.Println()
		return nil
	} else if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println()

	if opts.Verbose {
		metrics := api.Metrics{
			TotalDuration:      time.Since(start),
			PromptEvalCount:    res.PromptEvalCount,
			PromptEvalDuration: res.PromptEvalDuration,
			EvalCount:          res.EvalCount,
			EvalDuration:       res.EvalDuration,
		}
		metrics.Summary()
	}

	return nil
}

// readStdinContent - Liest Inhalt von stdin
func readStdinContent() (string, error) {
	in, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return string(in), nil
}

// parseParameters - Wandelt key=value Paare in api.Options-Werte um.
// Mehrfach angegebene Schluessel (z.B. stop) werden gesammelt.
func parseParameters(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return map[string]any{}, nil
	}

	params := make(map[string][]string)
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", pair)
		}
		params[key] = append(params[key], value)
	}

	return api.FormatParams(params)
}

// newRunCmd - Erstellt den run Command
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run --model MODEL --mmproj PROJECTOR [--image IMAGE] [PROMPT]",
		Short: "Load a model and describe an image without a server",
		RunE:  RunHandler,
	}

	runCmd.Flags().String("model", "", "Path to the language model (GGUF)")
	runCmd.Flags().String("mmproj", "", "Path to the vision projector (GGUF)")
	runCmd.Flags().String("image", "", "Path to the image")
	runCmd.Flags().String("config", "", "YAML file with prompt template and options")
	runCmd.Flags().StringArray("set", nil, "Set a parameter, e.g. --set temperature=0.2 (repeatable)")
	runCmd.Flags().BoolP("interactive", "i", false, "Read prompts interactively")
	runCmd.Flags().Bool("verbose", false, "Show timings for response")
	runCmd.Flags().Bool("verbose-prompt", false, "Show the prompt tokens before generating")
	runCmd.Flags().Bool("nowordwrap", false, "Don't wrap words to the next line automatically")

	_ = runCmd.MarkFlagRequired("model")
	_ = runCmd.MarkFlagRequired("mmproj")

	return runCmd
}
