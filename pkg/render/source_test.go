package render

import (
	"bytes"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadURL(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, imaging.New(30, 20, gray)))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/slice.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(buf.Bytes())
		case "/page":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	img, err := Load(t.Context(), srv.URL+"/slice.png")
	require.NoError(t, err)
	assert.Equal(t, 30, img.Bounds().Dx())

	_, err = Load(t.Context(), srv.URL+"/page")
	assert.ErrorContains(t, err, "does not point to an image")

	_, err = Load(t.Context(), srv.URL+"/missing.png")
	assert.ErrorContains(t, err, "404")

	_, err = LoadURL(t.Context(), "ftp://host/a.png")
	assert.ErrorContains(t, err, "unsupported URL scheme")
}

func TestLoadFallsBackToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.png")
	require.NoError(t, imaging.Save(imaging.New(8, 8, gray), path))

	img, err := Load(t.Context(), path)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dy())
}
