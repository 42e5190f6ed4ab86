package vlm

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateSplitRoundTrip(t *testing.T) {
	tmpl := DefaultTemplate()

	prompts := []string{
		"",
		"describe the image in detail.",
		"what is shown at <|vision_start|>?",
		"the prompt mentions <|image_pad|> itself",
		"mehrzeilig\nmit Umlauten äöü",
	}

	for _, p := range prompts {
		system, user, err := tmpl.Split(p)
		require.NoError(t, err, p)
		assert.Equal(t, tmpl.Assemble(p), system+tmpl.Marker+user, p)
		assert.True(t, strings.HasPrefix(system, tmpl.System+p), "system span must contain the prompt: %q", p)
	}
}

func TestTemplateSplitOffsets(t *testing.T) {
	tmpl := DefaultTemplate()
	prompt := "What is in the image?"

	full := tmpl.Assemble(prompt)
	require.Equal(t, tmpl.System+prompt+"\n<|vision_start|><|image_pad|><|vision_end|><|im_end|>", full)

	system, user, err := tmpl.Split(prompt)
	require.NoError(t, err)

	start := len(tmpl.System) + len(prompt) + len("\n<|vision_start|>")
	end := start + len("<|image_pad|>")

	assert.Equal(t, "<|image_pad|>", full[start:end])
	assert.Equal(t, full[:start], system)
	assert.Equal(t, full[end:], user)
	assert.True(t, strings.HasSuffix(system, "<|vision_start|>"))
	assert.Equal(t, "<|vision_end|><|im_end|>", user)
}

func TestTemplateValidate(t *testing.T) {
	cases := map[string]struct {
		tmpl Template
		ok   bool
	}{
		"default":          {DefaultTemplate(), true},
		"empty marker":     {Template{System: "sys", Footer: "foot"}, false},
		"marker missing":   {Template{System: "sys", Marker: "<image>", Footer: "foot"}, false},
		"marker twice":     {Template{System: "sys", Marker: "<image>", Footer: "<image><image>"}, false},
		"marker in system": {Template{System: "<image>sys", Marker: "<image>", Footer: "foot"}, false},
		"custom":           {Template{System: "USER: ", Marker: "<image>", Footer: "\n<image>\nASSISTANT:"}, true},
	}

	for name, tt := range cases {
		t.Run(name, func(t *testing.T) {
			err := tt.tmpl.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}

			var iv *InvariantViolation
			assert.True(t, errors.As(err, &iv), "expected InvariantViolation, got %v", err)
		})
	}
}

func TestTemplateSplitNoMarker(t *testing.T) {
	_, _, err := Template{System: "a", Marker: "<image>", Footer: "b"}.Split("x")

	var iv *InvariantViolation
	require.ErrorAs(t, err, &iv)
}
