package content

import (
	"sort"
	"strings"
	"time"

	"quill/api/internal/store"
)

const (
	scoreSameCategory = 5
	scoreSharedTag    = 3
	scoreRecent30     = 2
	scoreRecent90     = 1
	scoreFeatured     = 1
)

type Scored struct {
	Article store.Article
	Score   int
}

// ScoreRelated ranks published candidates against target. A candidate must
// share the category or a tag to be considered at all; recency and the
// featured flag only break ties among those.
func ScoreRelated(target store.Article, candidates []store.Article, now time.Time, limit int) []Scored {
	targetTags := make(map[string]struct{}, len(target.Tags))
	for _, tag := range target.Tags {
		targetTags[strings.ToLower(tag)] = struct{}{}
	}

	scored := make([]Scored, 0, len(candidates))
	seen := map[string]struct{}{target.ID: {}}
	for _, candidate := range candidates {
		if _, dup := seen[candidate.ID]; dup {
			continue
		}
		seen[candidate.ID] = struct{}{}
		if candidate.Status != string(StatusPublished) {
			continue
		}

		relevance := 0
		if target.CategoryID != nil && candidate.CategoryID != nil && *target.CategoryID == *candidate.CategoryID {
			relevance += scoreSameCategory
		}
		counted := map[string]struct{}{}
		for _, tag := range candidate.Tags {
			key := strings.ToLower(tag)
			if _, ok := targetTags[key]; !ok {
				continue
			}
			if _, ok := counted[key]; ok {
				continue
			}
			counted[key] = struct{}{}
			relevance += scoreSharedTag
		}
		if relevance == 0 {
			continue
		}

		score := relevance
		if candidate.PublishedAt != nil {
			age := now.Sub(*candidate.PublishedAt)
			switch {
			case age <= 30*24*time.Hour:
				score += scoreRecent30
			case age <= 90*24*time.Hour:
				score += scoreRecent90
			}
		}
		if candidate.Featured {
			score += scoreFeatured
		}
		scored = append(scored, Scored{Article: candidate, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		ap, bp := publishedUnix(a.Article), publishedUnix(b.Article)
		if ap != bp {
			return ap > bp
		}
		return a.Article.ID < b.Article.ID
	})

	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

func publishedUnix(article store.Article) int64 {
	if article.PublishedAt == nil {
		return 0
	}
	return article.PublishedAt.Unix()
}
