// internal/img/convert.go
package img

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "github.com/gen2brain/heic"
	"github.com/gen2brain/webp"
	_ "golang.org/x/image/webp"
)

// webpQuality is the lossy quality used for WebP output.
const webpQuality = 90

// encoders covers output formats imaging cannot write. HEIC stays decode-only.
var encoders = map[string]func(io.Writer, image.Image) error{
	"webp": func(w io.Writer, m image.Image) error {
		return webp.Encode(w, m, webp.Options{Quality: webpQuality})
	},
}

// alphaless lists output formats that cannot store transparency.
var alphaless = map[imaging.Format]bool{
	imaging.JPEG: true,
}

// SupportsOutput reports whether ext (with or without a dot) is an encodable
// image format.
func SupportsOutput(ext string) bool {
	if _, ok := encoders[strings.ToLower(trimDot(ext))]; ok {
		return true
	}
	_, err := imaging.FormatFromFilename("x." + trimDot(ext))
	return err == nil
}

// Convert loads srcPath, honouring EXIF orientation, and writes it to dstPath
// in the format implied by dstPath's extension.
func Convert(srcPath, dstPath string) error {
	encode, custom := encoders[strings.ToLower(trimDot(filepath.Ext(dstPath)))]
	format, err := imaging.FormatFromFilename(dstPath)
	if err != nil && !custom {
		return fmt.Errorf("output format: %w", err)
	}

	src, err := imaging.Open(srcPath, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	if custom {
		return save(dstPath, src, encode)
	}
	if err := imaging.Save(NormalizeColorMode(src, format), dstPath); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	return nil
}

func save(path string, m image.Image, encode func(io.Writer, image.Image) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}
	if err := encode(f, m); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("save: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	return nil
}

// NormalizeColorMode prepares src for encoding as format. Images with
// transparency are flattened onto white when the format has no alpha channel;
// everything else is returned unchanged.
func NormalizeColorMode(src image.Image, format imaging.Format) image.Image {
	if !alphaless[format] || opaque(src) {
		return src
	}
	b := src.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, src, image.Pt(0, 0), 1.0)
}

func opaque(m image.Image) bool {
	if o, ok := m.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	return false
}

func trimDot(ext string) string {
	if len(ext) > 0 && ext[0] == '.' {
		return ext[1:]
	}
	return ext
}
