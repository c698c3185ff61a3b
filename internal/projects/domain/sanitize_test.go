package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain name passes through", "orthophoto.tif", "orthophoto.tif"},
		{"spaces are allowed", "field survey 01.jpg", "field survey 01.jpg"},
		{"posix traversal is stripped", "../../etc/passwd", "passwd"},
		{"windows path is stripped", `C:\Users\pilot\shadow.jpg`, "shadow.jpg"},
		{"embedded traversal removed", "a..b.jpg", "ab.jpg"},
		{"hostile characters replaced", "img;rm -rf~.jpg", "img_rm -rf_.jpg"},
		{"null bytes removed", "img\x00.jpg", "img.jpg"},
		{"leading dots stripped", "...hidden.jpg", "hidden.jpg"},
		{"empty input falls back", "", "unnamed_file"},
		{"only path separators falls back", "///", "unnamed_file"},
		{"unicode replaced", "фото.jpg", "____.jpg"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SanitizeFilename(tc.in))
		})
	}
}

func TestSanitizeFilenameLengthCapPreservesExtension(t *testing.T) {
	long := strings.Repeat("a", 300) + ".jpg"
	got := SanitizeFilename(long)
	assert.Len(t, got, 255)
	assert.True(t, strings.HasSuffix(got, ".jpg"))
}

func TestSanitizeFilenameOversizedExtension(t *testing.T) {
	t.Run("extension alone exceeds the cap", func(t *testing.T) {
		var got string
		assert.NotPanics(t, func() {
			got = SanitizeFilename("a." + strings.Repeat("b", 300))
		})
		assert.Len(t, got, 255)
	})

	t.Run("extension exactly at the cap", func(t *testing.T) {
		got := SanitizeFilename("stem." + strings.Repeat("x", 254))
		assert.Len(t, got, 255)
	})
}
