package post

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/pictogram/internal/cache"
	"github.com/hitoshi/pictogram/internal/feed"
	"github.com/hitoshi/pictogram/internal/metrics"
	"github.com/hitoshi/pictogram/internal/model"
	"github.com/hitoshi/pictogram/internal/repository/repotest"
	"github.com/hitoshi/pictogram/internal/security"
)

type fixture struct {
	users *repotest.Users
	posts *repotest.Posts
	store cache.Store
	reg   *prometheus.Registry
	svc   *Service
	clock time.Time
}

func newFixture(t *testing.T, store cache.Store) *fixture {
	t.Helper()
	users := repotest.NewUsers()
	posts := repotest.NewPosts(users)
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	f := &fixture{
		users: users,
		posts: posts,
		store: store,
		reg:   reg,
		clock: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(posts, users, feed.NewListingCache(store, collector), security.NewContentSanitizer(), collector, time.Second)
	// 呼び出しごとに1秒進む時計
	f.svc.now = func() time.Time {
		f.clock = f.clock.Add(time.Second)
		return f.clock
	}
	return f
}

func (f *fixture) addUser(t *testing.T, username string) *model.User {
	t.Helper()
	u := &model.User{ID: model.NewID(), Name: username, Username: username, Email: username + "@example.com"}
	require.NoError(t, f.users.Create(context.Background(), u))
	return u
}

// failingIncrStore は世代番号の更新のみ失敗するStore。
type failingIncrStore struct {
	cache.Store
}

func (failingIncrStore) Incr(context.Context, string) (int64, error) {
	return 0, errors.New("redis: connection refused")
}

func TestAddPost_NormalizesInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, cache.NewMemoryStore())
	alice := f.addUser(t, "alice")

	id, err := f.svc.AddPost(ctx, alice.ID, AddPostInput{
		Content: "  sunset over the bay ",
		ImgURL:  " https://example.com/sunset.png ",
		Tags:    []string{" sky ", "", "  ", "sea"},
	})
	require.NoError(t, err)

	view, err := f.svc.GetPostByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "sunset over the bay", view.Content)
	assert.Equal(t, "https://example.com/sunset.png", view.ImgURL)
	assert.Equal(t, []string{"sky", "sea"}, view.Tags)
	assert.Empty(t, view.Comments)
	assert.Empty(t, view.Likes)
	assert.Equal(t, view.CreatedAt, view.UpdatedAt)
	assert.Equal(t, model.Author{ID: alice.ID, Name: "alice", Username: "alice"}, view.Author)
}

func TestAddPost_Validation(t *testing.T) {
	f := newFixture(t, cache.NewMemoryStore())
	alice := f.addUser(t, "alice")

	tests := []struct {
		name string
		in   AddPostInput
		code string
	}{
		{"blank content", AddPostInput{Content: "   ", ImgURL: "https://x/y.png"}, model.ErrCodeEmptyContent},
		{"control characters only", AddPostInput{Content: "\x00\x07", ImgURL: "https://x/y.png"}, model.ErrCodeEmptyContent},
		{"missing image", AddPostInput{Content: "hello", ImgURL: " "}, model.ErrCodeMissingImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.AddPost(context.Background(), alice.ID, tt.in)
			assert.True(t, model.HasCode(err, tt.code), "err = %v", err)
		})
	}
}

func TestListPosts_NewestFirstAndInvalidatedByAddPost(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, cache.NewMemoryStore())
	alice := f.addUser(t, "alice")

	firstID, err := f.svc.AddPost(ctx, alice.ID, AddPostInput{Content: "first", ImgURL: "https://x/1.png"})
	require.NoError(t, err)

	list, err := f.svc.ListPosts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	// 2回目はキャッシュから返る
	_, err = f.svc.ListPosts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, counterValue(t, f.reg, "pictogram_feed_cache_hit_total"))

	secondID, err := f.svc.AddPost(ctx, alice.ID, AddPostInput{Content: "second", ImgURL: "https://x/2.png"})
	require.NoError(t, err)

	list, err = f.svc.ListPosts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, secondID, list[0].ID)
	assert.Equal(t, firstID, list[1].ID)
	assert.False(t, list[0].CreatedAt.Before(list[1].CreatedAt))
}

func TestListPosts_LikesDoNotInvalidate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, cache.NewMemoryStore())
	alice := f.addUser(t, "alice")

	id, err := f.svc.AddPost(ctx, alice.ID, AddPostInput{Content: "hi", ImgURL: "https://x/1.png"})
	require.NoError(t, err)
	_, err = f.svc.ListPosts(ctx)
	require.NoError(t, err)

	_, err = f.svc.ToggleLike(ctx, id, alice.ID)
	require.NoError(t, err)

	list, err := f.svc.ListPosts(ctx)
	require.NoError(t, err)
	assert.Empty(t, list[0].Likes, "listing stays stale until the next addPost")

	view, err := f.svc.GetPostByID(ctx, id)
	require.NoError(t, err)
	assert.Len(t, view.Likes, 1)
}

// pausedSetStore は最初のSetをreleaseが閉じられるまで止めるStore。
type pausedSetStore struct {
	*cache.MemoryStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *pausedSetStore) Set(ctx context.Context, key string, value []byte) error {
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return s.MemoryStore.Set(ctx, key, value)
}

func TestListPosts_AddPostDuringSlowWriteBackIsVisible(t *testing.T) {
	ctx := context.Background()
	store := &pausedSetStore{
		MemoryStore: cache.NewMemoryStore(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	f := newFixture(t, store)
	alice := f.addUser(t, "alice")

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.ListPosts(ctx)
		done <- err
	}()

	// 空の一覧を書き戻している途中で投稿が作成される
	<-store.entered
	id, err := f.svc.AddPost(ctx, alice.ID, AddPostInput{Content: "new", ImgURL: "https://x/1.png"})
	require.NoError(t, err)
	close(store.release)
	require.NoError(t, <-done)

	for i := 0; i < 3; i++ {
		list, err := f.svc.ListPosts(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1, "call %d", i)
		assert.Equal(t, id, list[0].ID)
	}
}

func TestAddPost_InvalidationFailureStillSucceeds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, failingIncrStore{Store: cache.NewMemoryStore()})
	alice := f.addUser(t, "alice")

	id, err := f.svc.AddPost(ctx, alice.ID, AddPostInput{Content: "hi", ImgURL: "https://x/1.png"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1.0, counterValue(t, f.reg, "pictogram_feed_cache_invalidation_fail_total"))
}

func TestAddPost_StoreError(t *testing.T) {
	f := newFixture(t, cache.NewMemoryStore())
	storeErr := errors.New("write timeout")
	f.posts.Err = storeErr

	_, err := f.svc.AddPost(context.Background(), model.NewID(), AddPostInput{Content: "x", ImgURL: "https://x/1.png"})
	assert.ErrorIs(t, err, storeErr)
}

func TestAddComment_StoresTextAsGiven(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, cache.NewMemoryStore())
	alice := f.addUser(t, "alice")

	postID, err := f.svc.AddPost(ctx, alice.ID, AddPostInput{Content: "a<b and c>d", ImgURL: "https://x/1.png"})
	require.NoError(t, err)

	for _, text := range []string{
		"if a<b and c>d then",
		"&lt;script&gt;alert(1)&lt;/script&gt;",
		"<my cat>",
	} {
		c, err := f.svc.AddComment(ctx, postID, alice.ID, text)
		require.NoError(t, err, text)
		assert.Equal(t, text, c.Content)
	}

	view, err := f.svc.GetPostByID(ctx, postID)
	require.NoError(t, err)
	assert.Equal(t, "a<b and c>d", view.Content)
	require.Len(t, view.Comments, 3)
	assert.Equal(t, "&lt;script&gt;alert(1)&lt;/script&gt;", view.Comments[1].Content)
	assert.Equal(t, "<my cat>", view.Comments[2].Content)
}

func TestGetPostByID_NotFound(t *testing.T) {
	f := newFixture(t, cache.NewMemoryStore())

	for _, id := range []string{model.NewID(), "malformed"} {
		_, err := f.svc.GetPostByID(context.Background(), id)
		assert.True(t, model.HasCode(err, model.ErrCodePostNotFound), "id %q: err = %v", id, err)
	}
}

func TestAddComment_AppendsWithUsernameSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, cache.NewMemoryStore())
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")

	postID, err := f.svc.AddPost(ctx, alice.ID, AddPostInput{Content: "hi", ImgURL: "https://x/1.png"})
	require.NoError(t, err)
	before, err := f.svc.GetPostByID(ctx, postID)
	require.NoError(t, err)

	c1, err := f.svc.AddComment(ctx, postID, bob.ID, "nice")
	require.NoError(t, err)
	assert.Equal(t, "bob", c1.Username)
	assert.Equal(t, bob.ID, c1.AuthorID)

	c2, err := f.svc.AddComment(ctx, postID, alice.ID, " thanks ")
	require.NoError(t, err)

	after, err := f.svc.GetPostByID(ctx, postID)
	require.NoError(t, err)
	require.Len(t, after.Comments, 2)
	assert.Equal(t, c1.ID, after.Comments[0].ID)
	assert.Equal(t, c2.ID, after.Comments[1].ID)
	assert.Equal(t, "thanks", after.Comments[1].Content)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt))
}

func TestAddComment_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, cache.NewMemoryStore())
	alice := f.addUser(t, "alice")
	postID, err := f.svc.AddPost(ctx, alice.ID, AddPostInput{Content: "hi", ImgURL: "https://x/1.png"})
	require.NoError(t, err)

	_, err = f.svc.AddComment(ctx, postID, alice.ID, "  ")
	assert.True(t, model.HasCode(err, model.ErrCodeEmptyContent), "err = %v", err)

	_, err = f.svc.AddComment(ctx, model.NewID(), alice.ID, "hello")
	assert.True(t, model.HasCode(err, model.ErrCodePostNotFound), "err = %v", err)

	_, err = f.svc.AddComment(ctx, postID, model.NewID(), "hello")
	assert.True(t, model.HasCode(err, model.ErrCodeUserNotFound), "err = %v", err)
}

func TestToggleLike_TwiceRestores(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, cache.NewMemoryStore())
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")
	postID, err := f.svc.AddPost(ctx, alice.ID, AddPostInput{Content: "hi", ImgURL: "https://x/1.png"})
	require.NoError(t, err)

	action, err := f.svc.ToggleLike(ctx, postID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LikeActionLiked, action)

	view, err := f.svc.GetPostByID(ctx, postID)
	require.NoError(t, err)
	require.Len(t, view.Likes, 1)
	assert.Equal(t, bob.ID, view.Likes[0].AuthorID)

	action, err = f.svc.ToggleLike(ctx, postID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LikeActionUnliked, action)

	view, err = f.svc.GetPostByID(ctx, postID)
	require.NoError(t, err)
	assert.Empty(t, view.Likes)

	likes, err := testutil.GatherAndCount(f.reg, "pictogram_like_toggles_total")
	require.NoError(t, err)
	assert.Equal(t, 2, likes)
}

func TestToggleLike_ConcurrentEvenTogglesLeaveNoLike(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, cache.NewMemoryStore())
	alice := f.addUser(t, "alice")
	postID, err := f.svc.AddPost(ctx, alice.ID, AddPostInput{Content: "hi", ImgURL: "https://x/1.png"})
	require.NoError(t, err)

	var mu sync.Mutex
	f.svc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		f.clock = f.clock.Add(time.Second)
		return f.clock
	}

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ToggleLike(ctx, postID, alice.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	view, err := f.svc.GetPostByID(ctx, postID)
	require.NoError(t, err)
	assert.Empty(t, view.Likes)
}

func TestToggleLike_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, cache.NewMemoryStore())
	alice := f.addUser(t, "alice")

	_, err := f.svc.ToggleLike(ctx, model.NewID(), alice.ID)
	assert.True(t, model.HasCode(err, model.ErrCodePostNotFound), "err = %v", err)

	_, err = f.svc.ToggleLike(ctx, "bad", alice.ID)
	assert.True(t, model.HasCode(err, model.ErrCodePostNotFound), "err = %v", err)

	_, err = f.svc.ToggleLike(ctx, model.NewID(), model.NewID())
	assert.True(t, model.HasCode(err, model.ErrCodeUserNotFound), "err = %v", err)
}

func TestNormalizeTags(t *testing.T) {
	assert.Equal(t, []string{}, normalizeTags(nil))
	assert.Equal(t, []string{"a", "b c"}, normalizeTags([]string{" a", "", "b c ", "\t"}))
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name && len(mf.GetMetric()) > 0 {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}
