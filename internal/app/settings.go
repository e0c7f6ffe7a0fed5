package app

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"quill/api/internal/feed"
	"quill/api/internal/rbac"
)

type settingKind int

const (
	kindString settingKind = iota
	kindBool
	kindInt
)

type settingDef struct {
	kind     settingKind
	fallback any
	private  bool
}

// settingDefs is the whitelist of editable settings and their defaults.
var settingDefs = map[string]settingDef{
	"site.title":            {kind: kindString, fallback: "Quill"},
	"site.description":      {kind: kindString, fallback: ""},
	"site.logo_url":         {kind: kindString, fallback: ""},
	"comments.enabled":      {kind: kindBool, fallback: true},
	"comments.auto_approve": {kind: kindBool, fallback: false},
	"newsletter.enabled":    {kind: kindBool, fallback: true},
	"posts_per_page":        {kind: kindInt, fallback: 10},
	"social.twitter":        {kind: kindString, fallback: ""},
	"social.facebook":       {kind: kindString, fallback: ""},
	"ai.default_tone":       {kind: kindString, fallback: "professional", private: true},
}

// Settings returns every whitelisted key, stored values over defaults.
func (s *Service) Settings(ctx context.Context) (map[string]any, error) {
	values := make(map[string]any, len(settingDefs))
	for key, def := range settingDefs {
		values[key] = def.fallback
	}
	if s.cfg.SiteName != "" {
		values["site.title"] = s.cfg.SiteName
	}
	if s.cfg.SiteDescription != "" {
		values["site.description"] = s.cfg.SiteDescription
	}

	stored, err := s.store.ListSettings(ctx)
	if err != nil {
		return nil, err
	}
	for _, item := range stored {
		def, ok := settingDefs[item.Key]
		if !ok {
			continue
		}
		if value, ok := decodeSetting(def.kind, item.Value); ok {
			values[item.Key] = value
		}
	}
	return values, nil
}

func (s *Service) PublicSettings(ctx context.Context) (map[string]any, error) {
	values, err := s.Settings(ctx)
	if err != nil {
		return nil, err
	}
	for key, def := range settingDefs {
		if def.private || strings.HasPrefix(key, "ai.") {
			delete(values, key)
		}
	}
	return values, nil
}

func decodeSetting(kind settingKind, raw json.RawMessage) (any, bool) {
	switch kind {
	case kindBool:
		var value bool
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, false
		}
		return value, true
	case kindInt:
		var value float64
		if err := json.Unmarshal(raw, &value); err != nil || value != float64(int(value)) {
			return nil, false
		}
		return int(value), true
	default:
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, false
		}
		return value, true
	}
}

func (s *Service) UpdateSettings(ctx context.Context, sess Session, values map[string]json.RawMessage, ip string) (map[string]any, error) {
	if !s.Can(sess.Role, rbac.ActionManage) {
		return nil, forbidden("You cannot change settings")
	}
	if len(values) == 0 {
		return nil, validationError("No settings provided", nil)
	}

	details := map[string]string{}
	for key, raw := range values {
		def, ok := settingDefs[key]
		if !ok {
			details[key] = "unknown setting"
			continue
		}
		value, ok := decodeSetting(def.kind, raw)
		if !ok {
			details[key] = "invalid value type"
			continue
		}
		if key == "posts_per_page" {
			if n := value.(int); n < 1 || n > 100 {
				details[key] = "must be between 1 and 100"
			}
		}
	}
	if len(details) > 0 {
		return nil, validationError("Invalid settings", details)
	}

	if err := s.store.UpsertSettings(ctx, values, sess.UserID); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	s.recordActivity(ctx, sess, "settings.update", "settings", "", map[string]any{"keys": keys}, ip)
	s.invalidatePublic(ctx)
	return s.Settings(ctx)
}

func (s *Service) settingBool(ctx context.Context, key string) bool {
	values, err := s.Settings(ctx)
	if err != nil {
		fallback, _ := settingDefs[key].fallback.(bool)
		return fallback
	}
	value, _ := values[key].(bool)
	return value
}

func (s *Service) settingString(ctx context.Context, key string) string {
	values, err := s.Settings(ctx)
	if err != nil {
		fallback, _ := settingDefs[key].fallback.(string)
		return fallback
	}
	value, _ := values[key].(string)
	return value
}

// site is the public identity used by feeds and metadata.
func (s *Service) site(ctx context.Context) feed.Site {
	site := feed.Site{
		Name:        s.cfg.SiteName,
		URL:         s.cfg.SiteURL,
		Description: s.cfg.SiteDescription,
	}
	if values, err := s.Settings(ctx); err == nil {
		if title, _ := values["site.title"].(string); title != "" {
			site.Name = title
		}
		if description, _ := values["site.description"].(string); description != "" {
			site.Description = description
		}
	}
	site.Author = site.Name
	return site
}
