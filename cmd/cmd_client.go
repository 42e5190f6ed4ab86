// cmd_client.go - Commands gegen einen laufenden Server
// Hauptfunktionen: LoadHandler, InferHandler, UnloadHandler, StatusHandler
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/7blacky7/omnivlm/api"
)

// checkServerHeartbeat - Prueft ob der Server erreichbar ist
func checkServerHeartbeat(cmd *cobra.Command, _ []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}
	if err := client.Heartbeat(cmd.Context()); err != nil {
		if strings.Contains(err.Error(), " refused") || strings.Contains(err.Error(), "could not connect") {
			return fmt.Errorf("omnivlm server not responding, start it with 'omnivlm serve' - %w", err)
		}
		return err
	}
	return nil
}

// LoadHandler - Laedt Modell und Projektor auf dem Server
func LoadHandler(cmd *cobra.Command, args []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	config, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}

	pairs, err := cmd.Flags().GetStringArray("set")
	if err != nil {
		return err
	}
	params, err := parseParameters(pairs)
	if err != nil {
		return err
	}

	resp, err := client.Load(cmd.Context(), &api.LoadRequest{
		Model:     args[0],
		Projector: args[1],
		Config:    config,
		Options:   params,
	})
	if err != nil {
		return err
	}

	fmt.Printf("loaded session %s (num_ctx %d) in %s\n", resp.SessionID, resp.NumCtx, resp.LoadDuration.Round(time.Millisecond))
	return nil
}

// InferHandler - Beschreibt ein Bild ueber den Server
func InferHandler(cmd *cobra.Command, args []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	imagePath, err := cmd.Flags().GetString("image")
	if err != nil {
		return err
	}

	remote, err := cmd.Flags().GetBool("remote-path")
	if err != nil {
		return err
	}

	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return err
	}

	verbosePrompt, err := cmd.Flags().GetBool("verbose-prompt")
	if err != nil {
		return err
	}

	pairs, err := cmd.Flags().GetStringArray("set")
	if err != nil {
		return err
	}
	params, err := parseParameters(pairs)
	if err != nil {
		return err
	}

	prompt := strings.Join(args, " ")
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		in, err := readStdinContent()
		if err != nil {
			return err
		}
		prompt = strings.TrimSpace(in + " " + prompt)
	}

	req := api.InferRequest{
		Prompt:        prompt,
		VerbosePrompt: verbosePrompt,
		Options:       params,
	}

	// ohne --remote-path wird das Bild lokal gelesen und mitgeschickt
	if remote {
		req.ImagePath = imagePath
	} else {
		data, err := os.ReadFile(imagePath)
		if err != nil {
			return err
		}
		req.Image = data
	}

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

	wordWrap := os.Getenv("TERM") == "xterm-256color"
	width := terminalWidth()
	state := &displayResponseState{}

	var latest api.InferResponse
	fn := func(resp api.InferResponse) error {
		latest = resp
		displayResponse(os.Stdout, resp.Response, wordWrap, width, state)
		return nil
	}

	if err := client.Infer(ctx, &req, fn); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Println()
			return nil
		}
		return err
	}

	fmt.Println()
	fmt.Println()

	if verbose && latest.Done {
		latest.Summary()
	}

	return nil
}

// UnloadHandler - Gibt die Session auf dem Server frei
func UnloadHandler(cmd *cobra.Command, _ []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}
	return client.Unload(cmd.Context())
}

// StatusHandler - Zeigt die geladene Session an
func StatusHandler(cmd *cobra.Command, _ []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	status, err := client.Status(cmd.Context())
	if err != nil {
		return err
	}

	if !status.Loaded {
		fmt.Println("no model loaded")
		return nil
	}

	renderTable(os.Stdout, []string{"SESSION", "MODEL", "PROJECTOR", "CONTEXT", "POSITION", "LOADED"}, [][]string{{
		status.SessionID,
		status.Model,
		status.Projector,
		fmt.Sprint(status.NumCtx),
		fmt.Sprint(status.Position),
		status.LoadedAt.Format(time.DateTime),
	}})
	return nil
}

// newLoadCmd - Erstellt den load Command
func newLoadCmd() *cobra.Command {
	loadCmd := &cobra.Command{
		Use:     "load MODEL PROJECTOR",
		Short:   "Load a model and projector on the server",
		Args:    cobra.ExactArgs(2),
		PreRunE: checkServerHeartbeat,
		RunE:    LoadHandler,
	}
	loadCmd.Flags().String("config", "", "YAML file on the server with prompt template and options")
	loadCmd.Flags().StringArray("set", nil, "Set a parameter, e.g. --set num_ctx=4096 (repeatable)")
	return loadCmd
}

// newInferCmd - Erstellt den infer Command
func newInferCmd() *cobra.Command {
	inferCmd := &cobra.Command{
		Use:     "infer --image IMAGE [PROMPT]",
		Short:   "Describe an image with the loaded model",
		PreRunE: checkServerHeartbeat,
		RunE:    InferHandler,
	}
	inferCmd.Flags().String("image", "", "Path to the image")
	inferCmd.Flags().Bool("remote-path", false, "Let the server read the image path instead of uploading it")
	inferCmd.Flags().StringArray("set", nil, "Set a parameter, e.g. --set temperature=0.2 (repeatable)")
	inferCmd.Flags().Bool("verbose", false, "Show timings for response")
	inferCmd.Flags().Bool("verbose-prompt", false, "Log the prompt tokens on the server")
	_ = inferCmd.MarkFlagRequired("image")
	return inferCmd
}

// newUnloadCmd - Erstellt den unload Command
func newUnloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "unload",
		Short:   "Release the model on the server",
		Args:    cobra.ExactArgs(0),
		PreRunE: checkServerHeartbeat,
		RunE:    UnloadHandler,
	}
}

// newStatusCmd - Erstellt den status Command
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Aliases: []string{"ps"},
		Short:   "Show the loaded session",
		Args:    cobra.ExactArgs(0),
		PreRunE: checkServerHeartbeat,
		RunE:    StatusHandler,
	}
}
