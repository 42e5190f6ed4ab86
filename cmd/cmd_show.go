// cmd_show.go - Anzeige der Konfiguration
// Hauptfunktionen: EnvHandler, showEnv
package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/7blacky7/omnivlm/envconfig"
)

// EnvHandler - Zeigt alle Umgebungsvariablen mit aktuellem Wert
func EnvHandler(_ *cobra.Command, _ []string) error {
	showEnv(os.Stdout, envconfig.AsMap())
	return nil
}

func showEnv(w io.Writer, vars map[string]envconfig.EnvVar) {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		v := vars[name]
		rows = append(rows, []string{v.Name, fmt.Sprint(v.Value), v.Description})
	}

	renderTable(w, []string{"NAME", "VALUE", "DESCRIPTION"}, rows)
}

// newEnvCmd - Erstellt den env Command
func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Show environment configuration",
		Args:  cobra.ExactArgs(0),
		RunE:  EnvHandler,
	}
}
