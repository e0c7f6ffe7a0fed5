package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quill/api/internal/util"
)

var ErrStorageUnavailable = errors.New("object storage is not configured")

// Stored describes an upload after it has been written to storage.
type Stored struct {
	Filename     string
	OriginalName string
	ContentType  string
	SizeBytes    int64
	Width        int
	Height       int
	Key          string
	ThumbKey     string
	URL          string
	ThumbURL     string
}

type Service struct {
	storage Storage
	now     func() time.Time
	newID   func() string
}

// NewService returns a media service. storage may be nil, in which case
// uploads fail with ErrStorageUnavailable.
func NewService(storage Storage) *Service {
	return &Service{storage: storage, now: time.Now, newID: util.NewUUID}
}

func (s *Service) Available() bool {
	return s.storage != nil
}

// ObjectKey lays uploads out by month: uploads/YYYY/MM/<id><ext>.
func ObjectKey(at time.Time, id, ext string) string {
	return fmt.Sprintf("uploads/%04d/%02d/%s%s", at.Year(), int(at.Month()), id, ext)
}

func ThumbKey(at time.Time, id string) string {
	return fmt.Sprintf("uploads/%04d/%02d/%s_thumb.jpg", at.Year(), int(at.Month()), id)
}

// Upload processes and stores a file. When the thumbnail write fails the
// main object is removed again.
func (s *Service) Upload(ctx context.Context, upload Upload) (Stored, error) {
	if s.storage == nil {
		return Stored{}, ErrStorageUnavailable
	}
	processed, err := Process(upload)
	if err != nil {
		return Stored{}, err
	}

	now := s.now().UTC()
	id := s.newID()
	out := Stored{
		Filename:     id + processed.Ext,
		OriginalName: SafeName(upload.Filename),
		ContentType:  processed.ContentType,
		SizeBytes:    int64(len(processed.Data)),
		Width:        processed.Width,
		Height:       processed.Height,
		Key:          ObjectKey(now, id, processed.Ext),
	}
	if err := s.storage.Put(ctx, out.Key, processed.Data, processed.ContentType); err != nil {
		return Stored{}, err
	}
	out.URL = s.storage.URL(out.Key)

	if processed.Thumb != nil {
		out.ThumbKey = ThumbKey(now, id)
		if err := s.storage.Put(ctx, out.ThumbKey, processed.Thumb, "image/jpeg"); err != nil {
			_ = s.storage.Delete(ctx, out.Key)
			return Stored{}, err
		}
		out.ThumbURL = s.storage.URL(out.ThumbKey)
	}
	return out, nil
}

// Remove deletes every non-empty key and reports the first failure.
func (s *Service) Remove(ctx context.Context, keys ...string) error {
	if s.storage == nil {
		return ErrStorageUnavailable
	}
	var firstErr error
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := s.storage.Delete(ctx, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
