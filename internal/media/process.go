package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"path/filepath"
	"strings"

	_ "image/gif"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	MaxUploadBytes = 10 << 20
	MaxWidth       = 1920
	// MaxPixels bounds width*height before anything is decoded.
	MaxPixels = 40_000_000
	ThumbWidth     = 400
	jpegQuality    = 85
)

var (
	ErrTooLarge        = errors.New("file exceeds the 10 MiB upload limit")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrEmptyUpload     = errors.New("empty upload")
)

var allowedTypes = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

// Upload is a raw file as received from a multipart form.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Processed is what gets written to storage. Thumb is nil for non-images.
type Processed struct {
	Data        []byte
	ContentType string
	Ext         string
	Width       int
	Height      int
	Thumb       []byte
}

func IsImage(contentType string) bool {
	return strings.HasPrefix(contentType, "image/")
}

// DetectType sniffs the content and only trusts the declared type when
// sniffing is inconclusive.
func DetectType(data []byte, declared string) string {
	sniffed := http.DetectContentType(data)
	if idx := strings.IndexByte(sniffed, ';'); idx >= 0 {
		sniffed = sniffed[:idx]
	}
	if sniffed == "application/octet-stream" && declared != "" {
		return strings.ToLower(strings.TrimSpace(declared))
	}
	return sniffed
}

// Process validates an upload and, for images, downsizes it to MaxWidth and
// renders a thumbnail. PNG stays PNG; every other image becomes JPEG.
func Process(upload Upload) (Processed, error) {
	if len(upload.Data) == 0 {
		return Processed{}, ErrEmptyUpload
	}
	if len(upload.Data) > MaxUploadBytes {
		return Processed{}, ErrTooLarge
	}
	contentType := DetectType(upload.Data, upload.ContentType)
	ext, ok := allowedTypes[contentType]
	if !ok {
		return Processed{}, fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}
	if !IsImage(contentType) {
		return Processed{Data: upload.Data, ContentType: contentType, Ext: ext}, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(upload.Data))
	if err != nil {
		return Processed{}, fmt.Errorf("decode image: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > MaxPixels {
		return Processed{}, fmt.Errorf("%w: %dx%d image exceeds %d pixels", ErrUnsupportedType, cfg.Width, cfg.Height, MaxPixels)
	}

	src, _, err := image.Decode(bytes.NewReader(upload.Data))
	if err != nil {
		return Processed{}, fmt.Errorf("decode image: %w", err)
	}

	keepPNG := contentType == "image/png"
	full := resize(src, MaxWidth, keepPNG)
	out := Processed{
		Width:  full.Bounds().Dx(),
		Height: full.Bounds().Dy(),
	}
	if keepPNG {
		out.ContentType, out.Ext = "image/png", ".png"
		out.Data, err = encodePNG(full)
	} else {
		out.ContentType, out.Ext = "image/jpeg", ".jpg"
		out.Data, err = encodeJPEG(full)
	}
	if err != nil {
		return Processed{}, err
	}

	out.Thumb, err = encodeJPEG(resize(src, ThumbWidth, false))
	if err != nil {
		return Processed{}, err
	}
	return out, nil
}

// resize scales src down to maxWidth keeping the aspect ratio. Images that
// are already narrow enough are only redrawn. Without alpha the canvas is
// filled white first so transparent pixels do not turn black in JPEG.
func resize(src image.Image, maxWidth int, alpha bool) image.Image {
	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width > maxWidth {
		height = max(1, height*maxWidth/width)
		width = maxWidth
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	op := draw.Src
	if !alpha {
		draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
		op = draw.Over
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, op, nil)
	return dst
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.BestCompression}
	if err := encoder.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// SafeName keeps the base name of a client-supplied filename.
func SafeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.TrimSpace(name)
	if name == "." || name == "/" || name == "" {
		return "upload"
	}
	if len(name) > 200 {
		name = name[:200]
	}
	return name
}
