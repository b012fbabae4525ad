package render

import (
	"bufio"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var ErrFormat = errors.New("unsupported image format")

// Ext is the file extension written for a format.
func Ext(format string) string {
	switch f := strings.ToLower(format); f {
	case "jpeg":
		return "jpg"
	default:
		return f
	}
}

func Encode(w io.Writer, img image.Image, format string, quality int) error {
	switch strings.ToLower(format) {
	case "jpg", "jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	case "png":
		return png.Encode(w, img)
	case "webp":
		return webp.Encode(w, img, &webp.Options{Lossless: false, Quality: float32(quality)})
	}
	return errors.Wrap(ErrFormat, format)
}

// WriteImage encodes img to a temporary file next to path and renames it into
// place, so a failed run never leaves a truncated map behind.
func WriteImage(path string, img image.Image, format string, quality int) error {
	tmp := filepath.Join(filepath.Dir(path), "."+uuid.NewString()+filepath.Ext(path))
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "failed to create image file")
	}
	w := bufio.NewWriter(f)
	err = Encode(w, img, format, quality)
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "failed to encode %s", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "failed to move image into place")
	}
	return nil
}
