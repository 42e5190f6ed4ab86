// Package common - Gemeinsame Hilfsfunktionen fuer die Token-Ausgabe
//
// Dieses Modul enthaelt:
// - FindStop: Sucht eine Stop-Sequenz im bisher erzeugten Text
// - ContainsStopSuffix: Erkennt angefangene Stop-Sequenzen am Textende
// - TruncateStop: Schneidet eine Stop-Sequenz aus gepufferten Stuecken heraus
// - IncompleteUnicode: Erkennt abgeschnittene UTF-8 Zeichen
package common

import (
	"strings"
)

// FindStop liefert die erste Stop-Sequenz, die im Text vorkommt
func FindStop(sequence string, stops []string) (bool, string) {
	for _, stop := range stops {
		if stop == "" {
			continue
		}
		if strings.Contains(sequence, stop) {
			return true, stop
		}
	}

	return false, ""
}

// ContainsStopSuffix prueft ob der Text mit dem Anfang einer Stop-Sequenz endet.
// Solche Stuecke werden zurueckgehalten, bis klar ist ob die Sequenz vollstaendig wird.
func ContainsStopSuffix(sequence string, stops []string) bool {
	for _, stop := range stops {
		for i := 1; i <= len(stop); i++ {
			if strings.HasSuffix(sequence, stop[:i]) {
				return true
			}
		}
	}

	return false
}

// TruncateStop entfernt die Stop-Sequenz und alles danach aus pieces.
// Der zweite Rueckgabewert meldet, ob dabei ein Stueck angeschnitten wurde.
func TruncateStop(pieces []string, stop string) ([]string, bool) {
	sequence := strings.Join(pieces, "")

	idx := strings.Index(sequence, stop)
	if idx < 0 {
		return pieces, false
	}

	truncated := sequence[:idx]
	if len(truncated) == 0 {
		return nil, true
	}

	result := make([]string, 0, len(pieces))

	pos := 0
	truncationHappened := false
	for _, piece := range pieces {
		if pos >= len(truncated) {
			break
		}

		chunk := truncated[pos:min(pos+len(piece), len(truncated))]
		if len(chunk) < len(piece) {
			truncationHappened = true
		}
		if len(chunk) > 0 {
			result = append(result, chunk)
		}
		pos += len(piece)
	}

	return result, truncationHappened
}

// IncompleteUnicode prueft ob der Text mit einem unvollstaendigen UTF-8 Zeichen endet
func IncompleteUnicode(token string) bool {
	incomplete := false

	for i := 1; i < 5 && i <= len(token); i++ {
		c := token[len(token)-i]

		if (c & 0xc0) == 0x80 {
			// Folgebyte: 10xxxxxx
			continue
		}

		switch {
		case (c & 0xe0) == 0xc0:
			incomplete = i < 2
		case (c & 0xf0) == 0xe0:
			incomplete = i < 3
		case (c & 0xf8) == 0xf0:
			incomplete = i < 4
		}

		// 1-Byte Zeichen oder ungueltiges Byte
		break
	}

	return incomplete
}
