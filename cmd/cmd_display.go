// cmd_display.go - Display und Output-Funktionen
// Hauptfunktionen: displayResponse, renderTokens, renderTable
package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/mattn/go-runewidth"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"

	"github.com/7blacky7/omnivlm/vlm"
)

// displayResponseState - Zustand fuer den Word-Wrap ueber mehrere Stuecke
type displayResponseState struct {
	lineLength int
	wordBuffer string
}

// terminalWidth liefert die Breite des Terminals oder 0
func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 0
	}
	return width
}

// displayResponse - Gibt Antwort-Text mit optionalem Word-Wrap aus
func displayResponse(w io.Writer, content string, wordWrap bool, termWidth int, state *displayResponseState) {
	if !wordWrap || termWidth < 10 {
		fmt.Fprintf(w, "%s%s", state.wordBuffer, content)
		state.wordBuffer = ""
		return
	}

	for _, ch := range content {
		if state.lineLength+1 > termWidth-5 {
			if runewidth.StringWidth(state.wordBuffer) > termWidth-10 {
				fmt.Fprintf(w, "%s%c", state.wordBuffer, ch)
				state.wordBuffer = ""
				state.lineLength = 0
				continue
			}

			// angefangenes Wort in die naechste Zeile verschieben
			if a := runewidth.StringWidth(state.wordBuffer); a > 0 {
				fmt.Fprintf(w, "\x1b[%dD", a)
			}
			fmt.Fprintf(w, "\x1b[K\n")
			fmt.Fprintf(w, "%s%c", state.wordBuffer, ch)

			state.lineLength = runewidth.StringWidth(state.wordBuffer) + runewidth.RuneWidth(ch)
			continue
		}

		fmt.Fprint(w, string(ch))
		state.lineLength += runewidth.RuneWidth(ch)
		if runewidth.RuneWidth(ch) >= 2 {
			state.wordBuffer = ""
			continue
		}

		switch ch {
		case ' ', '\t':
			state.wordBuffer = ""
		case '\n', '\r':
			state.lineLength = 0
			state.wordBuffer = ""
		default:
			state.wordBuffer += string(ch)
		}
	}
}

// renderTable - Tabelle im Stil der uebrigen CLI-Ausgaben
func renderTable(w io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	if header != nil {
		table.SetHeader(header)
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetHeaderLine(false)
	}
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.SetAutoWrapText(false)
	table.AppendBulk(rows)
	table.Render()
}

// renderTokens - Zeigt die Prompt-Tokens beider Abschnitte mit ihrem Text
func renderTokens(w io.Writer, system, user []vlm.TokenPiece) {
	var rows [][]string
	for _, span := range []struct {
		name   string
		tokens []vlm.TokenPiece
	}{{"system", system}, {"user", user}} {
		for i, t := range span.tokens {
			rows = append(rows, []string{span.name, strconv.Itoa(i), strconv.Itoa(t.ID), strconv.Quote(t.Piece)})
		}
	}

	renderTable(w, []string{"SPAN", "#", "TOKEN", "PIECE"}, rows)
	fmt.Fprintln(w)
}
