// MODUL: image_test
// ZWECK: Tests fuer Bild-Lade- und Pruefungsfunktionen
// INPUT: Synthetische Bilder als PNG/GIF/BMP-Bytes, temporaere Dateien
// OUTPUT: Testresultate
// NEBENEFFEKTE: Schreibt Dateien in t.TempDir()
// ABHAENGIGKEITEN: testing, image, image/png, image/gif, golang.org/x/image/bmp
// HINWEISE: Testet LoadImage, Header-Pruefung und EncoderData

package vision

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/bmp"
)

// createTestImage erzeugt ein einfarbiges Testbild
func createTestImage(w, h int, c color.Color) *image.RGBA {
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			rgba.Set(x, y, c)
		}
	}
	return rgba
}

// createPNGBytes erzeugt PNG-Bytes aus einem Testbild
func createPNGBytes(w, h int, c color.Color) []byte {
	var buf bytes.Buffer
	_ = png.Encode(&buf, createTestImage(w, h, c))
	return buf.Bytes()
}

func TestLoadImageFromBytes(t *testing.T) {
	img, err := LoadImageFromBytes(createPNGBytes(100, 50, color.RGBA{255, 0, 0, 255}))
	if err != nil {
		t.Fatalf("LoadImageFromBytes() error = %v", err)
	}

	if img.Width != 100 || img.Height != 50 {
		t.Errorf("Groesse = %dx%d, erwartet 100x50", img.Width, img.Height)
	}

	if img.Format != FormatPNG {
		t.Errorf("Format = %v, erwartet %v", img.Format, FormatPNG)
	}
}

func TestLoadImageFromBytesGIFAndBMP(t *testing.T) {
	var gifBuf bytes.Buffer
	if err := gif.Encode(&gifBuf, createTestImage(8, 4, color.White), nil); err != nil {
		t.Fatal(err)
	}

	var bmpBuf bytes.Buffer
	if err := bmp.Encode(&bmpBuf, createTestImage(3, 6, color.Black)); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		data   []byte
		format ImageFormat
		w, h   int
	}{
		{"gif", gifBuf.Bytes(), FormatGIF, 8, 4},
		{"bmp", bmpBuf.Bytes(), FormatBMP, 3, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := LoadImageFromBytes(tt.data)
			if err != nil {
				t.Fatalf("LoadImageFromBytes() error = %v", err)
			}
			if img.Format != tt.format || img.Width != tt.w || img.Height != tt.h {
				t.Errorf("got %v %dx%d, erwartet %v %dx%d", img.Format, img.Width, img.Height, tt.format, tt.w, tt.h)
			}
		})
	}
}

func TestLoadImageFromBytesInvalid(t *testing.T) {
	if _, err := LoadImageFromBytes([]byte{0x00, 0x00, 0x00, 0x00}); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("Erwartet ErrUnknownFormat, got %v", err)
	}

	if _, err := LoadImageFromBytes(nil); !errors.Is(err, ErrEmptyImage) {
		t.Errorf("Erwartet ErrEmptyImage, got %v", err)
	}

	// Korrekte Signatur, aber abgeschnittener Header
	truncated := createPNGBytes(10, 10, color.White)[:8]
	if _, err := LoadImageFromBytes(truncated); err == nil {
		t.Error("Erwartet Fehler bei abgeschnittenem PNG")
	}
}

func TestLoadImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "red.png")
	if err := os.WriteFile(path, createPNGBytes(4, 4, color.RGBA{255, 0, 0, 255}), 0o600); err != nil {
		t.Fatal(err)
	}

	img, err := LoadImage(path)
	if err != nil {
		t.Fatalf("LoadImage() error = %v", err)
	}
	if img.Width != 4 || img.Height != 4 {
		t.Errorf("Groesse = %dx%d, erwartet 4x4", img.Width, img.Height)
	}
}

func TestLoadImageMissing(t *testing.T) {
	_, err := LoadImage(filepath.Join(t.TempDir(), "missing.png"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Erwartet os.ErrNotExist, got %v", err)
	}
}

func TestEncoderDataPassthrough(t *testing.T) {
	data := createPNGBytes(2, 2, color.White)
	img, err := LoadImageFromBytes(data)
	if err != nil {
		t.Fatal(err)
	}

	out, err := img.EncoderData()
	if err != nil {
		t.Fatalf("EncoderData() error = %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Error("PNG-Daten sollten unveraendert weitergegeben werden")
	}
}
