// interactive.go - Hauptloop fuer den interaktiven Modus
// Verarbeitet Eingaben, /image, /set, /show und /help
package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/7blacky7/omnivlm/envconfig"
	"github.com/7blacky7/omnivlm/vision"
	"github.com/7blacky7/omnivlm/vlm"
)

// historyFile - Pfad der Readline-History, leer wenn deaktiviert
func historyFile() string {
	if envconfig.NoHistory() {
		return ""
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	dir := filepath.Join(home, ".omnivlm")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ""
	}
	return filepath.Join(dir, "history")
}

// generateInteractive startet den interaktiven Modus auf einer geladenen Session
func generateInteractive(cmd *cobra.Command, session *vlm.Session, opts runOptions) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          ">>> ",
		HistoryFile:     historyFile(),
		InterruptPrompt: "^C",
		EOFPrompt:       "/bye",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	if opts.Image == "" {
		fmt.Fprintln(os.Stderr, "Use /image <path> to choose an image, /? for help.")
	}

	for {
		line, err := rl.Readline()
		switch {
		case errors.Is(err, io.EOF):
			fmt.Println()
			return nil
		case errors.Is(err, readline.ErrInterrupt):
			if line == "" {
				fmt.Println("\nUse Ctrl + d or /bye to exit.")
			}
			continue
		case err != nil:
			return err
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "/bye"):
			return nil
		case strings.HasPrefix(line, "/image"):
			if err := handleImageCommand(&opts, line, os.Stdout); err != nil {
				fmt.Println(err)
			}
		case strings.HasPrefix(line, "/set"):
			if err := handleSetCommand(&opts, line, os.Stdout); err != nil {
				fmt.Println(err)
			}
		case strings.HasPrefix(line, "/show"):
			handleShowCommand(session, opts, line, os.Stdout)
		case strings.HasPrefix(line, "/help"), strings.HasPrefix(line, "/?"):
			usage(os.Stderr)
		case strings.HasPrefix(line, "/"):
			fmt.Printf("Unknown command '%s'. Type /? for help\n", strings.Fields(line)[0])
		default:
			prompt, image := extractImagePath(line)
			if image != "" {
				fmt.Fprintf(os.Stderr, "Added image '%s'\n", image)
				opts.Image = image
			}

			if opts.Image == "" {
				fmt.Println("No image selected. Use /image <path> or include a path in the prompt.")
				continue
			}

			opts.Prompt = prompt
			if err := generate(cmd, session, opts); err != nil {
				var imgErr *vlm.ImageLoadError
				if errors.As(err, &imgErr) {
					fmt.Println(err)
					continue
				}
				return err
			}
		}
	}
}

// handleImageCommand verarbeitet /image <path>
func handleImageCommand(opts *runOptions, line string, w io.Writer) error {
	path := strings.TrimSpace(strings.TrimPrefix(line, "/image"))
	if path == "" {
		if opts.Image == "" {
			fmt.Fprintln(w, "No image selected.")
		} else {
			fmt.Fprintf(w, "Current image: %s\n", opts.Image)
		}
		return nil
	}

	path = normalizeFilePath(strings.Trim(path, `'"`))
	if _, err := vision.LoadImage(path); err != nil {
		return fmt.Errorf("couldn't use image: %w", err)
	}

	opts.Image = path
	fmt.Fprintf(w, "Set image to '%s'\n", path)
	return nil
}

// handleSetCommand verarbeitet /set
func handleSetCommand(opts *runOptions, line string, w io.Writer) error {
	args := strings.Fields(line)
	if len(args) < 2 {
		usageSet(w)
		return nil
	}

	switch args[1] {
	case "parameter":
		if len(args) < 4 {
			usageParameters(w)
			return nil
		}

		fp, err := parseParameters([]string{args[2] + "=" + args[3]})
		if err != nil {
			return fmt.Errorf("couldn't set parameter: %w", err)
		}

		// stop sammelt alle Werte
		if args[2] == "stop" {
			fp[args[2]] = args[3:]
		}

		if opts.Options == nil {
			opts.Options = map[string]any{}
		}
		opts.Options[args[2]] = fp[args[2]]
		fmt.Fprintf(w, "Set parameter '%s' to '%s'\n", args[2], strings.Join(args[3:], ", "))
	case "verbose":
		opts.Verbose = true
		fmt.Fprintln(w, "Set 'verbose' mode.")
	case "quiet":
		opts.Verbose = false
		fmt.Fprintln(w, "Set 'quiet' mode.")
	case "verboseprompt":
		opts.VerbosePrompt = true
		fmt.Fprintln(w, "Set 'verboseprompt' mode.")
	case "noverboseprompt":
		opts.VerbosePrompt = false
		fmt.Fprintln(w, "Unset 'verboseprompt' mode.")
	case "wordwrap":
		opts.WordWrap = true
		fmt.Fprintln(w, "Set 'wordwrap' mode.")
	case "nowordwrap":
		opts.WordWrap = false
		fmt.Fprintln(w, "Set 'nowordwrap' mode.")
	default:
		return fmt.Errorf("unknown command '/set %s'. Type /? for help", args[1])
	}

	return nil
}

// handleShowCommand verarbeitet /show
func handleShowCommand(session *vlm.Session, opts runOptions, line string, w io.Writer) {
	args := strings.Fields(line)
	if len(args) < 2 {
		usageShow(w)
		return
	}

	switch args[1] {
	case "info":
		renderTable(w, nil, [][]string{
			{"session", session.ID},
			{"model", opts.Model},
			{"projector", opts.Projector},
			{"image", opts.Image},
			{"position", fmt.Sprint(session.Position())},
		})
	case "parameters":
		if len(opts.Options) == 0 {
			fmt.Fprintln(w, "No parameters were specified.")
			return
		}

		keys := make([]string, 0, len(opts.Options))
		for k := range opts.Options {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		rows := make([][]string, 0, len(keys))
		for _, k := range keys {
			rows = append(rows, []string{k, fmt.Sprint(opts.Options[k])})
		}
		renderTable(w, []string{"PARAMETER", "VALUE"}, rows)
	case "template":
		t := session.Template()
		fmt.Fprintf(w, "%s{{ .Prompt }}%s\n", t.System, t.Footer)
	default:
		fmt.Fprintf(w, "Unknown command '/show %s'. Type /? for help\n", args[1])
	}
}

// normalizeFilePath normalisiert escapte Zeichen in Dateipfaden
func normalizeFilePath(fp string) string {
	return strings.NewReplacer(
		"\\ ", " ",
		"\\(", "(",
		"\\)", ")",
		"\\[", "[",
		"\\]", "]",
		"\\{", "{",
		"\\}", "}",
		"\\$", "$",
		"\\&", "&",
		"\\;", ";",
		"\\'", "'",
		"\\\\", "\\",
		"\\*", "*",
		"\\?", "?",
		"\\~", "~",
	).Replace(fp)
}

// imagePathPattern findet Pfade mit Bild-Endung, auch mit escapten Leerzeichen.
// Treffer ohne existierende Datei werden spaeter verworfen.
var imagePathPattern = regexp.MustCompile(`(?:[a-zA-Z]:)?(?:\./|/|\\)[\S\\ ]+?\.(?i:jpg|jpeg|png|gif|bmp|webp)\b`)

// extractImagePath entfernt den ersten existierenden Bildpfad aus der Eingabe
func extractImagePath(input string) (prompt, image string) {
	for _, fp := range imagePathPattern.FindAllString(input, -1) {
		nfp := normalizeFilePath(fp)
		if _, err := os.Stat(nfp); err != nil {
			continue
		}

		for _, s := range []string{"'" + nfp + "'", "'" + fp + "'", fp} {
			input = strings.ReplaceAll(input, s, "")
		}
		return strings.TrimSpace(input), nfp
	}

	return strings.TrimSpace(input), ""
}

// usage zeigt die allgemeine Hilfe an
func usage(w io.Writer) {
	fmt.Fprintln(w, "Available Commands:")
	fmt.Fprintln(w, "  /image <path>   Choose the image to describe")
	fmt.Fprintln(w, "  /set            Set session variables")
	fmt.Fprintln(w, "  /show           Show session information")
	fmt.Fprintln(w, "  /bye            Exit")
	fmt.Fprintln(w, "  /?, /help       Help for a command")
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Include %s in a prompt to switch images.\n", filepath.FromSlash("/path/to/image.png"))
	fmt.Fprintln(w, "")
}

// usageSet zeigt die Hilfe fuer /set an
func usageSet(w io.Writer) {
	fmt.Fprintln(w, "Available Commands:")
	fmt.Fprintln(w, "  /set parameter ...     Set a parameter")
	fmt.Fprintln(w, "  /set verbose           Show generation stats")
	fmt.Fprintln(w, "  /set quiet             Disable generation stats")
	fmt.Fprintln(w, "  /set verboseprompt     Show prompt tokens")
	fmt.Fprintln(w, "  /set noverboseprompt   Hide prompt tokens")
	fmt.Fprintln(w, "  /set wordwrap          Enable wordwrap")
	fmt.Fprintln(w, "  /set nowordwrap        Disable wordwrap")
	fmt.Fprintln(w, "")
}

// usageShow zeigt die Hilfe fuer /show an
func usageShow(w io.Writer) {
	fmt.Fprintln(w, "Available Commands:")
	fmt.Fprintln(w, "  /show info         Show session details")
	fmt.Fprintln(w, "  /show parameters   Show parameters set in this session")
	fmt.Fprintln(w, "  /show template     Show the prompt template")
	fmt.Fprintln(w, "")
}

// usageParameters zeigt die setzbaren Parameter an
func usageParameters(w io.Writer) {
	params := []string{
		"  /set parameter seed <int>             Random number seed",
		"  /set parameter num_predict <int>      Max number of tokens to predict",
		"  /set parameter top_k <int>            Pick from top k num of tokens",
		"  /set parameter top_p <float>          Pick token based on sum of probabilities",
		"  /set parameter min_p <float>          Pick token based on top token probability * min_p",
		"  /set parameter typical_p <float>      Locally typical sampling",
		"  /set parameter temperature <float>    Set creativity level",
		"  /set parameter repeat_penalty <float> How strongly to penalize repetitions",
		"  /set parameter repeat_last_n <int>    Set how far back to look for repetitions",
		"  /set parameter stop <string> <string> ...   Set the stop parameters",
	}

	fmt.Fprintln(w, "Available Parameters:")
	for _, p := range params {
		fmt.Fprintln(w, p)
	}
	fmt.Fprintln(w, "")
}
