package app

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"quill/api/internal/logging"
	"quill/api/internal/media"
	"quill/api/internal/rbac"
	"quill/api/internal/store"
)

func (s *Service) ListMedia(ctx context.Context, sess Session, filter store.MediaFilter) ([]MediaView, store.Page, error) {
	items, page, err := s.store.ListMedia(ctx, filter)
	if err != nil {
		return nil, store.Page{}, err
	}
	views := make([]MediaView, 0, len(items))
	for _, item := range items {
		views = append(views, mediaView(item))
	}
	return views, page, nil
}

// UploadMedia stores the file and records it. Stored objects are removed
// again if the row cannot be written.
func (s *Service) UploadMedia(ctx context.Context, sess Session, upload media.Upload, altText, caption, ip string) (MediaView, error) {
	if !s.Can(sess.Role, rbac.ActionWrite) {
		return MediaView{}, forbidden("You cannot upload media")
	}
	stored, err := s.media.Upload(ctx, upload)
	if err != nil {
		return MediaView{}, err
	}

	userID := sess.UserID
	item, err := s.store.InsertMedia(ctx, store.MediaItem{
		Filename:     stored.Filename,
		OriginalName: stored.OriginalName,
		MimeType:     stored.ContentType,
		SizeBytes:    stored.SizeBytes,
		Width:        stored.Width,
		Height:       stored.Height,
		StorageKey:   stored.Key,
		ThumbnailKey: stored.ThumbKey,
		URL:          stored.URL,
		ThumbnailURL: stored.ThumbURL,
		AltText:      truncateRunes(strings.TrimSpace(altText), 300),
		Caption:      truncateRunes(strings.TrimSpace(caption), 1000),
		UploadedBy:   &userID,
	})
	if err != nil {
		if cleanupErr := s.media.Remove(ctx, stored.Key, stored.ThumbKey); cleanupErr != nil {
			logging.FromContext(ctx).Warn("remove orphaned upload", zap.String("key", stored.Key), zap.Error(cleanupErr))
		}
		return MediaView{}, err
	}
	s.recordActivity(ctx, sess, "media.upload", "media", item.ID, map[string]any{"filename": item.OriginalName, "size": item.SizeBytes}, ip)
	return mediaView(item), nil
}

type MediaInput struct {
	AltText *string `json:"altText"`
	Caption *string `json:"caption"`
}

func (s *Service) UpdateMedia(ctx context.Context, sess Session, mediaID string, in MediaInput, ip string) (MediaView, error) {
	if !s.Can(sess.Role, rbac.ActionWrite) {
		return MediaView{}, forbidden("You cannot edit media")
	}
	current, err := s.store.GetMedia(ctx, mediaID)
	if err != nil {
		if store.IsNotFound(err) {
			return MediaView{}, notFound("Media")
		}
		return MediaView{}, err
	}
	altText, caption := current.AltText, current.Caption
	if in.AltText != nil {
		altText = strings.TrimSpace(*in.AltText)
	}
	if in.Caption != nil {
		caption = strings.TrimSpace(*in.Caption)
	}
	if utf8.RuneCountInString(altText) > 300 || utf8.RuneCountInString(caption) > 1000 {
		return MediaView{}, validationError("Media metadata is too long", map[string]string{"altText": "max 300", "caption": "max 1000"})
	}
	updated, err := s.store.UpdateMediaMeta(ctx, mediaID, altText, caption)
	if err != nil {
		return MediaView{}, err
	}
	s.recordActivity(ctx, sess, "media.update", "media", mediaID, nil, ip)
	return mediaView(updated), nil
}

// DeleteMedia removes the row first, then the objects. Object removal errors
// are logged since the row is already gone.
func (s *Service) DeleteMedia(ctx context.Context, sess Session, mediaID, ip string) error {
	current, err := s.store.GetMedia(ctx, mediaID)
	if err != nil {
		if store.IsNotFound(err) {
			return notFound("Media")
		}
		return err
	}
	owner := current.UploadedBy != nil && *current.UploadedBy == sess.UserID
	if !owner && !s.Can(sess.Role, rbac.ActionManage) {
		return forbidden("You can only delete your own uploads")
	}
	if err := s.store.DeleteMedia(ctx, mediaID); err != nil {
		return err
	}
	if err := s.media.Remove(ctx, current.StorageKey, current.ThumbnailKey); err != nil && !errors.Is(err, media.ErrStorageUnavailable) {
		logging.FromContext(ctx).Warn("remove media objects", zap.String("media_id", mediaID), zap.Error(err))
	}
	s.recordActivity(ctx, sess, "media.delete", "media", mediaID, map[string]any{"filename": current.OriginalName}, ip)
	return nil
}
