// MODUL: image
// ZWECK: Bilddateien laden und pruefen, bevor sie an den Bild-Encoder gehen
// INPUT: Dateipfad oder Bytes
// OUTPUT: ImageInput mit Rohdaten, Format und Abmessungen
// NEBENEFFEKTE: Dateisystem-Lesezugriff bei LoadImage
// ABHAENGIGKEITEN: golang.org/x/image/webp, golang.org/x/image/bmp (extern), image/jpeg, image/png, image/gif
// HINWEISE: Es wird nur der Header dekodiert; WebP wird fuer den Encoder nach PNG umkodiert

package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"

	// Standard-Decoder registrieren
	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ErrEmptyImage wird zurueckgegeben wenn die Bilddaten leer sind
var ErrEmptyImage = errors.New("leere Bilddaten")

// ImageInput enthaelt die Rohdaten eines geprueften Bildes mit Metadaten
type ImageInput struct {
	Data   []byte
	Width  int
	Height int
	Format ImageFormat
}

// LoadImage laedt ein Bild von einem Dateipfad
func LoadImage(path string) (*ImageInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("datei lesen fehlgeschlagen: %w", err)
	}
	return LoadImageFromBytes(data)
}

// LoadImageFromBytes prueft Format und Header der Bilddaten
func LoadImageFromBytes(data []byte) (*ImageInput, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}

	format := DetectFormat(data)
	if err := ValidateFormat(format); err != nil {
		return nil, err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("bild-header dekodieren fehlgeschlagen: %w", err)
	}

	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("ungueltige Groesse: %dx%d", cfg.Width, cfg.Height)
	}

	return &ImageInput{
		Data:   data,
		Width:  cfg.Width,
		Height: cfg.Height,
		Format: format,
	}, nil
}

// EncoderData gibt die Bytes zurueck, die der Bild-Encoder lesen kann.
// Formate ohne native Unterstuetzung werden vollstaendig dekodiert und als PNG kodiert.
func (img *ImageInput) EncoderData() ([]byte, error) {
	if img.Format.NativeToEncoder() {
		return img.Data, nil
	}

	decoded, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return nil, fmt.Errorf("bild dekodieren fehlgeschlagen: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, decoded); err != nil {
		return nil, fmt.Errorf("png kodieren fehlgeschlagen: %w", err)
	}

	return buf.Bytes(), nil
}
