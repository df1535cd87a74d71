package ocr

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true,
	".gif": true, ".tif": true, ".tiff": true,
}

// documentExts are sent to the provider untouched.
var documentExts = map[string]bool{".pdf": true}

// maxEdge keeps uploads within the provider's pixel limits.
const maxEdge = 4200

// IsSupported reports whether path has an extension the pipeline accepts.
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return imageExts[ext] || documentExts[ext]
}

// enhance writes a cleaned-up grayscale copy of an image into a fresh temp
// dir. Non-image documents are returned as is. cleanup is never nil and
// must always be called.
func enhance(path string) (out string, cleanup func(), err error) {
	noop := func() {}
	ext := strings.ToLower(filepath.Ext(path))
	if documentExts[ext] {
		return path, noop, nil
	}
	if !imageExts[ext] {
		return "", noop, contentError("enhance", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext))
	}

	src, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return "", noop, contentError("enhance", fmt.Errorf("decode image: %w", err))
	}

	dir, err := os.MkdirTemp("", "ocr-enhance-*")
	if err != nil {
		return "", noop, providerError("enhance", fmt.Errorf("temp dir: %w", err))
	}
	cleanup = func() { _ = os.RemoveAll(dir) }

	img := imaging.Grayscale(src)
	img = imaging.AdjustContrast(img, 30)
	img = imaging.Sharpen(img, 1.5)
	img = imaging.AdjustBrightness(img, 10)
	img = imaging.AdjustGamma(img, 1.2)
	if b := img.Bounds(); b.Dx() > maxEdge || b.Dy() > maxEdge {
		img = imaging.Fit(img, maxEdge, maxEdge, imaging.Lanczos)
	}

	out = filepath.Join(dir, "enhanced.png")
	if err := imaging.Save(img, out); err != nil {
		cleanup()
		return "", noop, providerError("enhance", fmt.Errorf("save: %w", err))
	}
	return out, cleanup, nil
}
