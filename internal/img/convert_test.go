package img

import (
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
)

func TestConvertJPEGToPNG(t *testing.T) {
	tmp := t.TempDir()
	srcPath := filepath.Join(tmp, "car.jpg")
	createTestImage(t, srcPath, 40, 20, color.RGBA{R: 200, G: 100, B: 50, A: 255})

	dstPath := filepath.Join(tmp, "car.png")
	if err := Convert(srcPath, dstPath); err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}

	f, err := os.Open(dstPath)
	if err != nil {
		t.Fatalf("output not created: %v", err)
	}
	defer f.Close()
	_, format, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if format != "png" {
		t.Fatalf("output format = %s, want png", format)
	}
}

func TestConvertFlattensAlphaForJPEG(t *testing.T) {
	tmp := t.TempDir()
	srcPath := filepath.Join(tmp, "logo.png")
	createTestImage(t, srcPath, 8, 8, color.NRGBA{R: 0, G: 0, B: 0, A: 0})

	dstPath := filepath.Join(tmp, "logo.jpg")
	if err := Convert(srcPath, dstPath); err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}

	out, err := imaging.Open(dstPath)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	r, g, b, _ := out.At(4, 4).RGBA()
	if r>>8 < 250 || g>>8 < 250 || b>>8 < 250 {
		t.Fatalf("transparent pixel not flattened to white: %d %d %d", r>>8, g>>8, b>>8)
	}
}

func TestNormalizeColorModeKeepsOpaqueAndAlphaFormats(t *testing.T) {
	opaqueImg := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for i := range opaqueImg.Pix {
		opaqueImg.Pix[i] = 255
	}
	if got := NormalizeColorMode(opaqueImg, imaging.JPEG); got != image.Image(opaqueImg) {
		t.Fatal("opaque image should pass through unchanged")
	}

	transparent := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	if got := NormalizeColorMode(transparent, imaging.PNG); got != image.Image(transparent) {
		t.Fatal("png keeps transparency, image should pass through")
	}
	if got := NormalizeColorMode(transparent, imaging.JPEG); got == image.Image(transparent) {
		t.Fatal("transparent image must be flattened for jpeg")
	}
}

func TestConvertUnsupportedOutput(t *testing.T) {
	tmp := t.TempDir()
	srcPath := filepath.Join(tmp, "car.png")
	createTestImage(t, srcPath, 4, 4, color.RGBA{A: 255})

	err := Convert(srcPath, filepath.Join(tmp, "car.heic"))
	if err == nil || !strings.Contains(err.Error(), "output format") {
		t.Fatalf("expected output format error, got %v", err)
	}
}

func TestConvertJPEGToWebP(t *testing.T) {
	tmp := t.TempDir()
	srcPath := filepath.Join(tmp, "car.jpg")
	createTestImage(t, srcPath, 40, 20, color.RGBA{R: 200, G: 100, B: 50, A: 255})

	dstPath := filepath.Join(tmp, "car.webp")
	if err := Convert(srcPath, dstPath); err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}

	f, err := os.Open(dstPath)
	if err != nil {
		t.Fatalf("output not created: %v", err)
	}
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if format != "webp" || cfg.Width != 40 || cfg.Height != 20 {
		t.Fatalf("output = %s %dx%d, want webp 40x20", format, cfg.Width, cfg.Height)
	}
}

func TestConvertKeepsAlphaForWebP(t *testing.T) {
	tmp := t.TempDir()
	srcPath := filepath.Join(tmp, "logo.png")
	createTestImage(t, srcPath, 8, 8, color.NRGBA{R: 0, G: 0, B: 0, A: 0})

	dstPath := filepath.Join(tmp, "logo.webp")
	if err := Convert(srcPath, dstPath); err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	out, err := imaging.Open(dstPath)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	if _, _, _, a := out.At(4, 4).RGBA(); a != 0 {
		t.Fatalf("alpha = %d, want transparent pixel kept", a)
	}
}

func TestConvertRejectsCorruptHEIC(t *testing.T) {
	tmp := t.TempDir()
	srcPath := filepath.Join(tmp, "photo.heic")
	// A valid ftyp box with no image items behind it.
	data := []byte("\x00\x00\x00\x18ftypheic\x00\x00\x00\x00mif1heic")
	if err := os.WriteFile(srcPath, data, 0o644); err != nil {
		t.Fatal(err)
	}

	err := Convert(srcPath, filepath.Join(tmp, "photo.jpg"))
	if err == nil || !strings.Contains(err.Error(), "open") {
		t.Fatalf("expected open error for corrupt heic, got %v", err)
	}
}

func TestConvertMissingSource(t *testing.T) {
	tmp := t.TempDir()
	err := Convert(filepath.Join(tmp, "missing.png"), filepath.Join(tmp, "out.jpg"))
	if err == nil {
		t.Fatalf("expected error for missing source image")
	}
	if !strings.Contains(err.Error(), "open") {
		t.Fatalf("unexpected error message: %v", err)
	}
}

func TestSupportsOutput(t *testing.T) {
	for _, ext := range []string{"png", ".jpg", "jpeg", "gif", "bmp", "tiff", "webp", ".WEBP"} {
		if !SupportsOutput(ext) {
			t.Fatalf("%s should be supported", ext)
		}
	}
	for _, ext := range []string{"heic", "heif", ""} {
		if SupportsOutput(ext) {
			t.Fatalf("%s should not be supported", ext)
		}
	}
}

func createTestImage(t *testing.T, path string, w, h int, c color.Color) {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, c)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("create dir: %v", err)
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: 90})
	default:
		err = png.Encode(f, img)
	}
	if err != nil {
		_ = f.Close()
		t.Fatalf("encode: %v", err)
	}

	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
}
