package app

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"quill/api/internal/store"
)

func expectError(t *testing.T, err error, wantStatus int, wantCode string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %d %s, got nil", wantStatus, wantCode)
	}
	status, code, _, _ := mapError(err)
	if status != wantStatus || code != wantCode {
		t.Fatalf("expected %d %s, got %d %s (%v)", wantStatus, wantCode, status, code, err)
	}
}

func TestCreateArticleAssignsUniqueSlugs(t *testing.T) {
	env := newTestEnv()
	editor := env.addUser("editor")
	ctx := context.Background()

	first, err := env.svc.CreateArticle(ctx, editor, ArticleInput{Title: ptr("Hello World"), Content: ptr("First body")}, "")
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := env.svc.CreateArticle(ctx, editor, ArticleInput{Title: ptr("Hello, World!"), Content: ptr("Second body")}, "")
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	if first.Slug != "hello-world" {
		t.Fatalf("expected slug hello-world, got %q", first.Slug)
	}
	if second.Slug != "hello-world-2" {
		t.Fatalf("expected slug hello-world-2, got %q", second.Slug)
	}
	if first.Status != "draft" || first.Version != 1 {
		t.Fatalf("expected draft version 1, got %s v%d", first.Status, first.Version)
	}
	if !strings.Contains(first.ContentHTML, "<p>First body</p>") {
		t.Fatalf("expected rendered html, got %q", first.ContentHTML)
	}
	if history, _ := env.revisions.History(first.ID, 0); len(history) != 1 {
		t.Fatalf("expected one version, got %d", len(history))
	}
}

func TestCreateArticleRequiresTitle(t *testing.T) {
	env := newTestEnv()
	editor := env.addUser("editor")

	_, err := env.svc.CreateArticle(context.Background(), editor, ArticleInput{Title: ptr("  ")}, "")
	expectError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestAuthorCannotPublishOrEditOthers(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	alice := env.addUser("author")
	bob := env.addUser("author")

	_, err := env.svc.CreateArticle(ctx, alice, ArticleInput{Title: ptr("Straight to print"), Status: ptr("published")}, "")
	expectError(t, err, http.StatusForbidden, "FORBIDDEN")

	draft, err := env.svc.CreateArticle(ctx, alice, ArticleInput{Title: ptr("Alice draft")}, "")
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	_, err = env.svc.UpdateArticle(ctx, bob, draft.ID, ArticleInput{Title: ptr("Hijacked")}, "")
	expectError(t, err, http.StatusForbidden, "FORBIDDEN")

	_, err = env.svc.GetArticle(ctx, bob, draft.ID)
	expectError(t, err, http.StatusNotFound, "NOT_FOUND")

	items, _, err := env.svc.ListArticles(ctx, bob, store.ArticleFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected bob to see no articles, got %d", len(items))
	}

	if _, err := env.svc.UpdateArticle(ctx, alice, draft.ID, ArticleInput{Title: ptr("Alice draft, revised")}, ""); err != nil {
		t.Fatalf("owner update: %v", err)
	}
}

func TestChangeStatusFollowsTransitions(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	editor := env.addUser("editor")
	draft, err := env.svc.CreateArticle(ctx, editor, ArticleInput{Title: ptr("Launch notes"), Content: ptr("We shipped.")}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	published, err := env.svc.ChangeStatus(ctx, editor, draft.ID, ActionPublish, nil, "")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if published.Status != "published" {
		t.Fatalf("expected published, got %s", published.Status)
	}
	if published.PublishedAt == nil || !published.PublishedAt.Equal(testNow) {
		t.Fatalf("expected publishedAt %v, got %v", testNow, published.PublishedAt)
	}

	_, err = env.svc.ChangeStatus(ctx, editor, draft.ID, ActionRestore, nil, "")
	expectError(t, err, http.StatusUnprocessableEntity, "INVALID_TRANSITION")

	archived, err := env.svc.ChangeStatus(ctx, editor, draft.ID, ActionArchive, nil, "")
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if archived.ArchivedAt == nil {
		t.Fatalf("expected archivedAt to be set")
	}
	restored, err := env.svc.ChangeStatus(ctx, editor, draft.ID, ActionRestore, nil, "")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Status != "draft" || restored.ArchivedAt != nil {
		t.Fatalf("expected draft without archivedAt, got %s %v", restored.Status, restored.ArchivedAt)
	}

	actions := strings.Join(env.store.actions(), ",")
	for _, want := range []string{"article.publish", "article.archive", "article.restore"} {
		if !strings.Contains(actions, want) {
			t.Fatalf("expected activity %s in %s", want, actions)
		}
	}
}

func TestScheduleRejectsPastTimes(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	editor := env.addUser("editor")
	draft, err := env.svc.CreateArticle(ctx, editor, ArticleInput{Title: ptr("Later")}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	past := testNow.Add(-time.Minute)
	_, err = env.svc.ChangeStatus(ctx, editor, draft.ID, ActionSchedule, &past, "")
	expectError(t, err, http.StatusUnprocessableEntity, "INVALID_TRANSITION")

	_, err = env.svc.ChangeStatus(ctx, editor, draft.ID, ActionSchedule, nil, "")
	expectError(t, err, http.StatusUnprocessableEntity, "INVALID_TRANSITION")
}

func TestPublishDuePublishesScheduledArticles(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	editor := env.addUser("editor")
	draft, err := env.svc.CreateArticle(ctx, editor, ArticleInput{Title: ptr("Morning digest")}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	at := testNow.Add(time.Hour)
	scheduled, err := env.svc.ChangeStatus(ctx, editor, draft.ID, ActionSchedule, &at, "")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if scheduled.Status != "scheduled" {
		t.Fatalf("expected scheduled, got %s", scheduled.Status)
	}

	if n, err := env.svc.PublishDue(ctx); err != nil || n != 0 {
		t.Fatalf("expected nothing due yet, got %d %v", n, err)
	}

	env.svc.now = func() time.Time { return testNow.Add(2 * time.Hour) }
	n, err := env.svc.PublishDue(ctx)
	if err != nil {
		t.Fatalf("publish due: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 published, got %d", n)
	}
	article := env.store.articles[draft.ID]
	if article.Status != "published" || article.PublishedAt == nil || !article.PublishedAt.Equal(at) {
		t.Fatalf("expected published at %v, got %s %v", at, article.Status, article.PublishedAt)
	}
}

func TestUpdateArticleVersionsContentChanges(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	editor := env.addUser("editor")
	created, err := env.svc.CreateArticle(ctx, editor, ArticleInput{Title: ptr("Field notes"), Content: ptr("one")}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := env.svc.UpdateArticle(ctx, editor, created.ID, ArticleInput{Content: ptr("two")}, "")
	if err != nil {
		t.Fatalf("update content: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("expected version 2, got %d", updated.Version)
	}
	if updated.Excerpt != "two" {
		t.Fatalf("expected derived excerpt to follow the body, got %q", updated.Excerpt)
	}

	featured, err := env.svc.UpdateArticle(ctx, editor, created.ID, ArticleInput{Featured: ptr(true)}, "")
	if err != nil {
		t.Fatalf("update featured: %v", err)
	}
	if featured.Version != 2 {
		t.Fatalf("expected non-content change to keep version 2, got %d", featured.Version)
	}

	versions, err := env.svc.ArticleVersions(ctx, editor, created.ID, 0)
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	if len(versions) != 2 || versions[0].Number != 2 {
		t.Fatalf("expected newest-first history of 2, got %+v", versions)
	}

	restored, err := env.svc.RestoreVersion(ctx, editor, created.ID, versions[1].Hash, "")
	if err != nil {
		t.Fatalf("restore version: %v", err)
	}
	if restored.Content != "one" || restored.Version != 3 {
		t.Fatalf("expected content one at version 3, got %q v%d", restored.Content, restored.Version)
	}
}

func TestDuplicateArticleCreatesDraftCopy(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	editor := env.addUser("editor")
	source := env.addPublished("Original", "original", nil, "go")

	copied, err := env.svc.DuplicateArticle(ctx, editor, source.ID, "")
	if err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	if copied.Title != "Original (Copy)" || copied.Status != "draft" || copied.Slug != "original-copy" {
		t.Fatalf("unexpected copy %+v", copied)
	}
}

func TestBulkArticlesReportsFailures(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	editor := env.addUser("editor")
	draft, err := env.svc.CreateArticle(ctx, editor, ArticleInput{Title: ptr("Bulk me")}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	result, err := env.svc.BulkArticles(ctx, editor, []string{draft.ID, "missing"}, ActionPublish, "")
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if result.Processed != 1 {
		t.Fatalf("expected 1 processed, got %d", result.Processed)
	}
	if _, ok := result.Failed["missing"]; !ok {
		t.Fatalf("expected failure for missing id, got %+v", result.Failed)
	}

	_, err = env.svc.BulkArticles(ctx, editor, []string{draft.ID}, ActionSchedule, "")
	expectError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestDeleteCategoryInUse(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	editor := env.addUser("editor")
	news, err := env.svc.CreateCategory(ctx, editor, CategoryInput{Name: ptr("News")}, "")
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	other, err := env.svc.CreateCategory(ctx, editor, CategoryInput{Name: ptr("Other"), Color: ptr("#336699")}, "")
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	article := env.addPublished("Filed", "filed", &news.ID)
	index := &recordingSearch{}
	env.svc.search = index

	err = env.svc.DeleteCategory(ctx, editor, news.ID, "", "")
	expectError(t, err, http.StatusConflict, "CATEGORY_IN_USE")
	_, _, _, details := mapError(err)
	if got := details.(map[string]any)["articleCount"]; got != 1 {
		t.Fatalf("expected articleCount 1, got %v", got)
	}

	err = env.svc.DeleteCategory(ctx, editor, news.ID, news.ID, "")
	expectError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	if err := env.svc.DeleteCategory(ctx, editor, news.ID, other.ID, ""); err != nil {
		t.Fatalf("delete with reassign: %v", err)
	}
	if got := derefString(env.store.articles[article.ID].CategoryID); got != other.ID {
		t.Fatalf("expected article moved to %s, got %s", other.ID, got)
	}
	if ids := index.indexedIDs(); !slices.Contains(ids, article.ID) {
		t.Fatalf("expected moved article to be reindexed, got %v", ids)
	}
}

func TestRenameCategoryReindexesArticles(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	editor := env.addUser("editor")
	cat, err := env.svc.CreateCategory(ctx, editor, CategoryInput{Name: ptr("Tech")}, "")
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	article := env.addPublished("Filed", "filed", &cat.ID)
	index := &recordingSearch{}
	env.svc.search = index

	if _, err := env.svc.UpdateCategory(ctx, editor, cat.ID, CategoryInput{Description: ptr("Gadgets")}, ""); err != nil {
		t.Fatalf("update description: %v", err)
	}
	if ids := index.indexedIDs(); len(ids) != 0 {
		t.Fatalf("description change should not reindex, got %v", ids)
	}

	if _, err := env.svc.UpdateCategory(ctx, editor, cat.ID, CategoryInput{Name: ptr("Technology")}, ""); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if ids := index.indexedIDs(); len(ids) != 1 || ids[0] != article.ID {
		t.Fatalf("expected the filed article to be reindexed, got %v", ids)
	}
}

func TestCreateCategoryRejectsBadColor(t *testing.T) {
	env := newTestEnv()
	editor := env.addUser("editor")

	_, err := env.svc.CreateCategory(context.Background(), editor, CategoryInput{Name: ptr("Art"), Color: ptr("blue")}, "")
	expectError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestPostCommentModeration(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.addUser("editor")
	env.addPublished("Open thread", "open-thread", nil)

	pending, err := env.svc.PostComment(ctx, "open-thread", CommentInput{Name: "Reader", Email: "reader@example.com", Content: "Nice post"}, "203.0.113.9", "test-agent")
	if err != nil {
		t.Fatalf("post comment: %v", err)
	}
	if pending.Status != CommentPending {
		t.Fatalf("expected pending, got %s", pending.Status)
	}
	if pending.AuthorEmail != "" {
		t.Fatalf("expected public view to hide the email")
	}
	if msgs := env.sender.messages(); len(msgs) != 1 || !strings.Contains(msgs[0].Subject, "Open thread") {
		t.Fatalf("expected one moderator notification, got %+v", msgs)
	}

	env.store.settings["comments.auto_approve"] = json.RawMessage("true")
	approved, err := env.svc.PostComment(ctx, "open-thread", CommentInput{Name: "Reader", Email: "reader@example.com", Content: "Second thought"}, "", "")
	if err != nil {
		t.Fatalf("post comment: %v", err)
	}
	if approved.Status != CommentApproved {
		t.Fatalf("expected approved, got %s", approved.Status)
	}

	threads, err := env.svc.ApprovedComments(ctx, "open-thread")
	if err != nil {
		t.Fatalf("approved comments: %v", err)
	}
	if len(threads) != 1 || threads[0].ID != approved.ID {
		t.Fatalf("expected only the approved comment, got %+v", threads)
	}
}

func TestPostCommentValidation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.addPublished("Thread", "thread", nil)

	_, err := env.svc.PostComment(ctx, "thread", CommentInput{Name: "", Email: "not-an-email", Content: "  ", URL: "ftp://x"}, "", "")
	expectError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	_, _, _, details := mapError(err)
	fields := details.(map[string]string)
	for _, key := range []string{"name", "email", "content", "url"} {
		if fields[key] == "" {
			t.Fatalf("expected %s error, got %+v", key, fields)
		}
	}

	_, err = env.svc.PostComment(ctx, "missing", CommentInput{Name: "A", Email: "a@example.com", Content: "hi"}, "", "")
	expectError(t, err, http.StatusNotFound, "NOT_FOUND")

	env.store.settings["comments.enabled"] = json.RawMessage("false")
	_, err = env.svc.PostComment(ctx, "thread", CommentInput{Name: "A", Email: "a@example.com", Content: "hi"}, "", "")
	expectError(t, err, http.StatusForbidden, "FORBIDDEN")
}

var tokenPattern = regexp.MustCompile(`token=([A-Za-z0-9_]+)`)

func TestSubscribeConfirmFlow(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	if err := env.svc.Subscribe(ctx, SubscribeInput{Email: " Reader@Example.com ", Name: "Reader"}, ""); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	msgs := env.sender.messages()
	if len(msgs) != 1 || msgs[0].To[0] != "reader@example.com" {
		t.Fatalf("expected one confirmation email, got %+v", msgs)
	}
	if !strings.Contains(msgs[0].HTML, "https://blog.example.com/api/public/newsletter/confirm?token=") {
		t.Fatalf("expected confirm link in %q", msgs[0].HTML)
	}
	match := tokenPattern.FindStringSubmatch(msgs[0].HTML)
	if match == nil {
		t.Fatalf("no token in confirmation email")
	}

	confirmed, err := env.svc.ConfirmSubscription(ctx, match[1])
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != SubscriberActive || confirmed.ConfirmedAt == nil {
		t.Fatalf("expected active subscriber, got %+v", confirmed)
	}
	if msgs := env.sender.messages(); len(msgs) != 2 || !strings.Contains(msgs[1].HTML, "/api/public/newsletter/unsubscribe?token=") {
		t.Fatalf("expected welcome email with unsubscribe link, got %+v", msgs)
	}

	_, err = env.svc.ConfirmSubscription(ctx, match[1])
	expectError(t, err, http.StatusNotFound, "INVALID_TOKEN")

	if err := env.svc.Subscribe(ctx, SubscribeInput{Email: "reader@example.com"}, ""); err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	if msgs := env.sender.messages(); len(msgs) != 2 {
		t.Fatalf("expected no email for an active subscriber, got %d", len(msgs))
	}

	err = env.svc.Subscribe(ctx, SubscribeInput{Email: "nope"}, "")
	expectError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestUnsubscribeByToken(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.store.subscribers["sub-1"] = store.Subscriber{ID: "sub-1", Email: "a@example.com", Status: SubscriberActive, UnsubscribeToken: "uns_abc"}

	if err := env.svc.UnsubscribeByToken(ctx, "uns_abc"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if got := env.store.subscribers["sub-1"].Status; got != SubscriberUnsubscribed {
		t.Fatalf("expected unsubscribed, got %s", got)
	}
	expectError(t, env.svc.UnsubscribeByToken(ctx, "uns_unknown"), http.StatusNotFound, "INVALID_TOKEN")
}

func TestSendNewsletter(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	admin := env.addUser("admin")
	env.store.subscribers["sub-1"] = store.Subscriber{ID: "sub-1", Email: "one@example.com", Status: SubscriberActive, UnsubscribeToken: "uns_1"}
	env.store.subscribers["sub-2"] = store.Subscriber{ID: "sub-2", Email: "two@example.com", Status: SubscriberActive, UnsubscribeToken: "uns_2"}
	env.store.subscribers["sub-3"] = store.Subscriber{ID: "sub-3", Email: "three@example.com", Status: SubscriberPending}
	env.sender.fail = map[string]bool{"two@example.com": true}

	draft, err := env.svc.CreateNewsletter(ctx, admin, NewsletterInput{Subject: "March issue", Content: "# Hello\n\nNews."}, "")
	if err != nil {
		t.Fatalf("create newsletter: %v", err)
	}
	view, err := env.svc.SendNewsletter(ctx, admin, draft.ID, "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if view.Status != NewsletterSending {
		t.Fatalf("expected sending, got %s", view.Status)
	}

	stored := env.store.newsletters[draft.ID]
	if stored.Status != NewsletterSent || stored.RecipientCount != 1 || stored.FailureCount != 1 {
		t.Fatalf("expected sent to 1 with 1 failure, got %+v", stored)
	}
	msgs := env.sender.messages()
	if len(msgs) != 1 || msgs[0].To[0] != "one@example.com" || !strings.Contains(msgs[0].HTML, "<h1") {
		t.Fatalf("unexpected deliveries %+v", msgs)
	}

	_, err = env.svc.SendNewsletter(ctx, admin, draft.ID, "")
	expectError(t, err, http.StatusConflict, "CONFLICT")

	_, err = env.svc.UpdateNewsletter(ctx, admin, draft.ID, NewsletterInput{Subject: "Too late", Content: "x"}, "")
	expectError(t, err, http.StatusConflict, "CONFLICT")
}

func TestSettingsWhitelist(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	admin := env.addUser("admin")

	_, err := env.svc.UpdateSettings(ctx, admin, map[string]json.RawMessage{
		"site.title":     json.RawMessage(`"Renamed"`),
		"unknown.key":    json.RawMessage(`1`),
		"posts_per_page": json.RawMessage(`500`),
	}, "")
	expectError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	_, _, _, details := mapError(err)
	fields := details.(map[string]string)
	if fields["unknown.key"] == "" || fields["posts_per_page"] == "" {
		t.Fatalf("expected per-key errors, got %+v", fields)
	}

	values, err := env.svc.UpdateSettings(ctx, admin, map[string]json.RawMessage{
		"site.title":     json.RawMessage(`"Renamed"`),
		"posts_per_page": json.RawMessage(`5`),
	}, "")
	if err != nil {
		t.Fatalf("update settings: %v", err)
	}
	if values["site.title"] != "Renamed" || values["posts_per_page"] != 5 {
		t.Fatalf("unexpected settings %+v", values)
	}

	author := env.addUser("author")
	_, err = env.svc.UpdateSettings(ctx, author, map[string]json.RawMessage{"site.title": json.RawMessage(`"x"`)}, "")
	expectError(t, err, http.StatusForbidden, "FORBIDDEN")
}

func TestPublicSettingsHidePrivateKeys(t *testing.T) {
	env := newTestEnv()

	values, err := env.svc.PublicSettings(context.Background())
	if err != nil {
		t.Fatalf("public settings: %v", err)
	}
	if _, ok := values["ai.default_tone"]; ok {
		t.Fatalf("expected ai settings to be hidden, got %+v", values)
	}
	if values["site.title"] != "Quill" {
		t.Fatalf("expected site.title from config, got %v", values["site.title"])
	}
	if values["comments.enabled"] != true {
		t.Fatalf("expected comments enabled by default")
	}
}

func TestLastAdminGuard(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	only := env.addUser("admin")
	target := env.store.users[only.UserID]

	err := env.svc.lastAdminGuard(ctx, target, "editor", true)
	expectError(t, err, http.StatusConflict, "LAST_ADMIN")

	if err := env.svc.lastAdminGuard(ctx, target, "admin", true); err != nil {
		t.Fatalf("keeping the admin role should pass: %v", err)
	}

	second := env.addUser("admin")
	if err := env.svc.DeleteUser(ctx, second, only.UserID, ""); err != nil {
		t.Fatalf("delete with another admin left: %v", err)
	}
	if env.store.users[only.UserID].IsActive {
		t.Fatalf("expected deleted user to be deactivated")
	}

	_, err = env.svc.UpdateUser(ctx, second, second.UserID, UserInput{Role: ptr("editor")}, "")
	expectError(t, err, http.StatusForbidden, "FORBIDDEN")
}

func TestCreateUserRejectsDuplicateEmail(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	admin := env.addUser("admin")

	in := UserInput{Email: "writer@example.com", Password: "long-enough-password", DisplayName: ptr("Writer")}
	created, err := env.svc.CreateUser(ctx, admin, in, "")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if created.Role != "author" {
		t.Fatalf("expected default role author, got %s", created.Role)
	}

	_, err = env.svc.CreateUser(ctx, admin, in, "")
	expectError(t, err, http.StatusConflict, "CONFLICT")

	editor := env.addUser("editor")
	_, err = env.svc.CreateUser(ctx, editor, in, "")
	expectError(t, err, http.StatusForbidden, "FORBIDDEN")
}

func TestDashboardStats(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	editor := env.addUser("editor")
	env.addPublished("One", "one", nil)
	if _, err := env.svc.CreateArticle(ctx, editor, ArticleInput{Title: ptr("Two")}, ""); err != nil {
		t.Fatalf("create: %v", err)
	}

	stats, err := env.svc.DashboardStats(ctx, editor)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Articles.Total != 2 || stats.Articles.Published != 1 || stats.Articles.Draft != 1 {
		t.Fatalf("unexpected article stats %+v", stats.Articles)
	}
}

func TestRefreshTokenCanOnlyBeUsedOnce(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	sess := env.addUser("editor")
	issued, err := env.svc.issueSession(ctx, env.store.users[sess.UserID])
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := env.svc.Refresh(ctx, issued.RefreshToken); err == nil {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one refresh to succeed, got %d", wins.Load())
	}
	_, err = env.svc.Refresh(ctx, issued.RefreshToken)
	expectError(t, err, http.StatusUnauthorized, "UNAUTHORIZED")
}
