package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestRelatedArticlesClampsLimit(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.addPublished("Target", "target", nil, "go")
	for i := 0; i < relatedMax+3; i++ {
		env.addPublished(fmt.Sprintf("Go %d", i), fmt.Sprintf("go-%d", i), nil, "go")
	}
	env.addPublished("Gardening", "gardening", nil, "plants")

	defaults, err := env.svc.RelatedArticles(ctx, "target", 0)
	if err != nil {
		t.Fatalf("related: %v", err)
	}
	if len(defaults) != relatedDefault {
		t.Fatalf("expected %d related by default, got %d", relatedDefault, len(defaults))
	}

	capped, err := env.svc.RelatedArticles(ctx, "target", 100)
	if err != nil {
		t.Fatalf("related: %v", err)
	}
	if len(capped) != relatedMax {
		t.Fatalf("expected limit clamped to %d, got %d", relatedMax, len(capped))
	}
	for _, item := range capped {
		if item.Slug == "target" || item.Slug == "gardening" {
			t.Fatalf("unexpected related article %q", item.Slug)
		}
	}
}

func TestRelatedArticlesRequirePublishedTarget(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	editor := env.addUser("editor")
	if _, err := env.svc.CreateArticle(ctx, editor, ArticleInput{Title: ptr("Unreleased")}, ""); err != nil {
		t.Fatalf("create draft: %v", err)
	}

	_, err := env.svc.RelatedArticles(ctx, "unreleased", 4)
	expectError(t, err, http.StatusNotFound, "NOT_FOUND")
	_, err = env.svc.RelatedArticles(ctx, "missing", 4)
	expectError(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestApprovedCommentsAreThreadedWithoutEmails(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.store.settings["comments.auto_approve"] = []byte("true")
	env.addPublished("Threads", "threads", nil)

	root, err := env.svc.PostComment(ctx, "threads", CommentInput{Name: "Ana", Email: "ana@example.com", Content: "First"}, "", "")
	if err != nil {
		t.Fatalf("post root: %v", err)
	}
	reply, err := env.svc.PostComment(ctx, "threads", CommentInput{Name: "Ben", Email: "ben@example.com", Content: "Reply", ParentID: &root.ID}, "", "")
	if err != nil {
		t.Fatalf("post reply: %v", err)
	}

	threads, err := env.svc.ApprovedComments(ctx, "threads")
	if err != nil {
		t.Fatalf("approved comments: %v", err)
	}
	if len(threads) != 1 || threads[0].ID != root.ID {
		t.Fatalf("expected one root thread, got %+v", threads)
	}
	if len(threads[0].Replies) != 1 || threads[0].Replies[0].ID != reply.ID {
		t.Fatalf("expected the reply nested under its parent, got %+v", threads[0].Replies)
	}
	if threads[0].AuthorEmail != "" || threads[0].Replies[0].AuthorEmail != "" {
		t.Fatalf("public threads must not expose emails")
	}
}

func TestStaffReplyApprovesPendingParent(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	editor := env.addUser("editor")
	env.addPublished("Moderated", "moderated", nil)

	pending, err := env.svc.PostComment(ctx, "moderated", CommentInput{Name: "Cleo", Email: "cleo@example.com", Content: "Question?"}, "", "")
	if err != nil {
		t.Fatalf("post comment: %v", err)
	}
	if pending.Status != CommentPending {
		t.Fatalf("expected pending, got %s", pending.Status)
	}

	reply, err := env.svc.ReplyToComment(ctx, editor, pending.ID, "Answer.", "")
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if !reply.IsStaff || reply.Status != CommentApproved {
		t.Fatalf("expected an approved staff reply, got %+v", reply)
	}
	if got := env.store.comments[pending.ID].Status; got != CommentApproved {
		t.Fatalf("expected parent to be approved, got %s", got)
	}

	threads, err := env.svc.ApprovedComments(ctx, "moderated")
	if err != nil {
		t.Fatalf("approved comments: %v", err)
	}
	if len(threads) != 1 || len(threads[0].Replies) != 1 || !threads[0].Replies[0].IsStaff {
		t.Fatalf("expected the staff reply under the parent, got %+v", threads)
	}

	author := env.addUser("author")
	_, err = env.svc.ReplyToComment(ctx, author, pending.ID, "Me too", "")
	expectError(t, err, http.StatusForbidden, "FORBIDDEN")
}

func TestArticleMeta(t *testing.T) {
	env := newTestEnv()
	env.addPublished("Meta <Tags>", "meta-tags", nil, "seo")

	result, err := env.svc.ArticleMeta(context.Background(), "meta-tags")
	if err != nil {
		t.Fatalf("article meta: %v", err)
	}
	if result.Meta.CanonicalURL != "https://blog.example.com/blog/meta-tags" {
		t.Fatalf("unexpected canonical url %q", result.Meta.CanonicalURL)
	}
	if result.Map["og:title"] != "Meta <Tags>" {
		t.Fatalf("unexpected og:title %q", result.Map["og:title"])
	}
	if !strings.Contains(string(result.JSONLD), "BlogPosting") {
		t.Fatalf("expected BlogPosting JSON-LD, got %s", result.JSONLD)
	}
	if strings.Contains(result.HTML, "<Tags>") {
		t.Fatalf("expected escaped HTML, got %s", result.HTML)
	}

	_, err = env.svc.ArticleMeta(context.Background(), "nope")
	expectError(t, err, http.StatusNotFound, "NOT_FOUND")
}
