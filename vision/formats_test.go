// MODUL: formats_test
// ZWECK: Tests fuer Format-Erkennung und Validierung
// INPUT: Test-Bytes mit verschiedenen Signaturen
// OUTPUT: Testresultate
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: testing
// HINWEISE: Testet Magic-Byte-Erkennung fuer JPEG/PNG/GIF/BMP/WebP

package vision

import (
	"errors"
	"testing"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected ImageFormat
	}{
		{
			name:     "JPEG Magic Bytes",
			data:     []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10},
			expected: FormatJPEG,
		},
		{
			name:     "PNG Magic Bytes",
			data:     []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A},
			expected: FormatPNG,
		},
		{
			name:     "GIF Magic Bytes",
			data:     []byte("GIF89a"),
			expected: FormatGIF,
		},
		{
			name:     "BMP Magic Bytes",
			data:     []byte{'B', 'M', 0x00, 0x00, 0x00, 0x00},
			expected: FormatBMP,
		},
		{
			name:     "WebP Magic Bytes",
			data:     []byte{0x52, 0x49, 0x46, 0x46, 0x00, 0x00, 0x00, 0x00, 'W', 'E', 'B', 'P'},
			expected: FormatWebP,
		},
		{
			name:     "RIFF ohne WEBP",
			data:     []byte{0x52, 0x49, 0x46, 0x46, 0x00, 0x00, 0x00, 0x00, 'W', 'A', 'V', 'E'},
			expected: FormatUnknown,
		},
		{
			name:     "Zu kurze Daten",
			data:     []byte{0xFF, 0xD8},
			expected: FormatUnknown,
		},
		{
			name:     "Unbekanntes Format",
			data:     []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
			expected: FormatUnknown,
		},
		{
			name:     "Leere Daten",
			data:     []byte{},
			expected: FormatUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectFormat(tt.data); got != tt.expected {
				t.Errorf("DetectFormat() = %v, erwartet %v", got, tt.expected)
			}
		})
	}
}

func TestValidateFormat(t *testing.T) {
	for _, f := range []ImageFormat{FormatJPEG, FormatPNG, FormatGIF, FormatBMP, FormatWebP} {
		if err := ValidateFormat(f); err != nil {
			t.Errorf("ValidateFormat(%v) = %v, erwartet nil", f, err)
		}
	}

	if err := ValidateFormat(FormatUnknown); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("ValidateFormat(unknown) = %v, erwartet ErrUnknownFormat", err)
	}

	if err := ValidateFormat(ImageFormat("tiff")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("ValidateFormat(tiff) = %v, erwartet ErrUnsupportedFormat", err)
	}
}

func TestNativeToEncoder(t *testing.T) {
	if FormatWebP.NativeToEncoder() {
		t.Error("WebP sollte umkodiert werden")
	}
	if !FormatPNG.NativeToEncoder() || !FormatJPEG.NativeToEncoder() {
		t.Error("PNG und JPEG sollten direkt lesbar sein")
	}
}

func TestMimeType(t *testing.T) {
	tests := map[ImageFormat]string{
		FormatJPEG:    "image/jpeg",
		FormatPNG:     "image/png",
		FormatGIF:     "image/gif",
		FormatBMP:     "image/bmp",
		FormatWebP:    "image/webp",
		FormatUnknown: "application/octet-stream",
	}

	for f, want := range tests {
		if got := f.MimeType(); got != want {
			t.Errorf("%v.MimeType() = %q, erwartet %q", f, got, want)
		}
	}
}
