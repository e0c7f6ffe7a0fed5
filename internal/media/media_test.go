package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x += 7 {
		img.Set(x, h/2, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestProcessDownscalesWideImages(t *testing.T) {
	out, err := Process(Upload{Filename: "wide.png", Data: pngBytes(t, 2400, 1200)})
	require.NoError(t, err)
	assert.Equal(t, "image/png", out.ContentType)
	assert.Equal(t, ".png", out.Ext)
	assert.Equal(t, 1920, out.Width)
	assert.Equal(t, 960, out.Height)

	thumb, _, err := image.DecodeConfig(bytes.NewReader(out.Thumb))
	require.NoError(t, err)
	assert.Equal(t, 400, thumb.Width)
	assert.Equal(t, 200, thumb.Height)
}

func TestProcessKeepsSmallImagesAndConvertsToJPEG(t *testing.T) {
	out, err := Process(Upload{Filename: "small.jpg", ContentType: "image/jpeg", Data: jpegBytes(t, 300, 200)})
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", out.ContentType)
	assert.Equal(t, 300, out.Width)
	assert.Equal(t, 200, out.Height)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(out.Thumb))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 300, cfg.Width)
}

func TestProcessRejectsBadInput(t *testing.T) {
	_, err := Process(Upload{Filename: "notes.txt", Data: []byte("just some text")})
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = Process(Upload{Filename: "huge.pdf", Data: make([]byte, MaxUploadBytes+1)})
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = Process(Upload{Filename: "empty.png"})
	assert.ErrorIs(t, err, ErrEmptyUpload)
}

// pngHeader returns a PNG signature and IHDR chunk for an 8-bit grayscale
// image. It is enough for image.DecodeConfig but carries no pixel data.
func pngHeader(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	chunk := make([]byte, 0, 17)
	chunk = append(chunk, "IHDR"...)
	chunk = binary.BigEndian.AppendUint32(chunk, w)
	chunk = binary.BigEndian.AppendUint32(chunk, h)
	chunk = append(chunk, 8, 0, 0, 0, 0)
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(chunk)-4))
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestProcessRejectsOversizedDimensions(t *testing.T) {
	data := pngHeader(12000, 12000)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 12000, cfg.Width)

	_, err = Process(Upload{Filename: "bomb.png", Data: data})
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestProcessPassesPDFThrough(t *testing.T) {
	data := []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n")
	out, err := Process(Upload{Filename: "doc.pdf", Data: data})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", out.ContentType)
	assert.Equal(t, data, out.Data)
	assert.Nil(t, out.Thumb)
}

type memoryStorage struct {
	objects map[string][]byte
	failOn  string
}

func (m *memoryStorage) Put(_ context.Context, key string, data []byte, _ string) error {
	if key == m.failOn {
		return errors.New("disk full")
	}
	m.objects[key] = data
	return nil
}

func (m *memoryStorage) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func (m *memoryStorage) URL(key string) string {
	return "https://cdn.example.com/" + key
}

func TestServiceUploadWritesImageAndThumb(t *testing.T) {
	storage := &memoryStorage{objects: map[string][]byte{}}
	svc := NewService(storage)
	svc.now = func() time.Time { return time.Date(2024, 5, 17, 10, 0, 0, 0, time.UTC) }
	svc.newID = func() string { return "abc" }

	stored, err := svc.Upload(context.Background(), Upload{Filename: "../../photo.png", Data: pngBytes(t, 800, 600)})
	require.NoError(t, err)
	assert.Equal(t, "uploads/2024/05/abc.png", stored.Key)
	assert.Equal(t, "uploads/2024/05/abc_thumb.jpg", stored.ThumbKey)
	assert.Equal(t, "https://cdn.example.com/uploads/2024/05/abc.png", stored.URL)
	assert.Equal(t, "photo.png", stored.OriginalName)
	assert.Len(t, storage.objects, 2)

	require.NoError(t, svc.Remove(context.Background(), stored.Key, stored.ThumbKey, ""))
	assert.Empty(t, storage.objects)
}

func TestServiceUploadCleansUpWhenThumbFails(t *testing.T) {
	storage := &memoryStorage{objects: map[string][]byte{}, failOn: "uploads/2024/05/abc_thumb.jpg"}
	svc := NewService(storage)
	svc.now = func() time.Time { return time.Date(2024, 5, 17, 10, 0, 0, 0, time.UTC) }
	svc.newID = func() string { return "abc" }

	_, err := svc.Upload(context.Background(), Upload{Filename: "photo.jpg", Data: jpegBytes(t, 640, 480)})
	require.Error(t, err)
	assert.Empty(t, storage.objects)
}

func TestServiceWithoutStorage(t *testing.T) {
	svc := NewService(nil)
	assert.False(t, svc.Available())
	_, err := svc.Upload(context.Background(), Upload{Data: []byte("x")})
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}
