// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs
package cmd

import (
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/containerd/console"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/7blacky7/omnivlm/envconfig"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	cobra.EnableCommandSorting = false

	if runtime.GOOS == "windows" && term.IsTerminal(int(os.Stdout.Fd())) {
		console.ConsoleFromFile(os.Stdin) //nolint:errcheck
	}

	rootCmd := &cobra.Command{
		Use:           "omnivlm",
		Short:         "Describe images with small vision-language models",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			if version, _ := cmd.Flags().GetBool("version"); version {
				versionHandler(cmd, args)
				return
			}

			cmd.Print(cmd.UsageString())
		},
	}

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	serveCmd := newServeCmd()
	runCmd := newRunCmd()
	loadCmd := newLoadCmd()
	inferCmd := newInferCmd()
	unloadCmd := newUnloadCmd()
	statusCmd := newStatusCmd()
	envCmd := newEnvCmd()

	envVars := envconfig.AsMap()
	envs := []envconfig.EnvVar{envVars["OMNIVLM_HOST"]}

	for _, cmd := range []*cobra.Command{
		serveCmd,
		runCmd,
		loadCmd,
		inferCmd,
		unloadCmd,
		statusCmd,
	} {
		switch cmd {
		case runCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{
				envVars["OMNIVLM_DEBUG"],
				envVars["OMNIVLM_CONFIG"],
				envVars["OMNIVLM_CONTEXT_LENGTH"],
				envVars["OMNIVLM_NUM_GPU"],
				envVars["OMNIVLM_NUM_THREAD"],
				envVars["OMNIVLM_NUM_PREDICT"],
				envVars["OMNIVLM_FLASH_ATTENTION"],
				envVars["OMNIVLM_NOHISTORY"],
			})
		case serveCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{
				envVars["OMNIVLM_DEBUG"],
				envVars["OMNIVLM_HOST"],
				envVars["OMNIVLM_ORIGINS"],
				envVars["OMNIVLM_CONFIG"],
				envVars["OMNIVLM_CONTEXT_LENGTH"],
				envVars["OMNIVLM_BATCH_SIZE"],
				envVars["OMNIVLM_NUM_GPU"],
				envVars["OMNIVLM_NUM_THREAD"],
				envVars["OMNIVLM_NUM_PREDICT"],
				envVars["OMNIVLM_FLASH_ATTENTION"],
				envVars["OMNIVLM_KV_CACHE_TYPE"],
				envVars["OMNIVLM_NOMMAP"],
			})
		default:
			appendEnvDocs(cmd, envs)
		}
	}

	rootCmd.AddCommand(
		serveCmd,
		runCmd,
		loadCmd,
		inferCmd,
		unloadCmd,
		statusCmd,
		envCmd,
	)

	return rootCmd
}
