package graph

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/pictogram/internal/identity"
	"github.com/hitoshi/pictogram/internal/model"
	"github.com/hitoshi/pictogram/internal/repository"
	"github.com/hitoshi/pictogram/internal/repository/repotest"
)

type fixture struct {
	users   *repotest.Users
	follows *repotest.Follows
	posts   *repotest.Posts
	svc     *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	users := repotest.NewUsers()
	follows := repotest.NewFollows()
	posts := repotest.NewPosts(users)
	return &fixture{
		users:   users,
		follows: follows,
		posts:   posts,
		svc:     NewService(users, follows, posts, identity.NewService(users, bcrypt.MinCost), time.Second),
	}
}

func (f *fixture) addUser(t *testing.T, name, username string) *model.User {
	t.Helper()
	u := &model.User{
		ID:       model.NewID(),
		Name:     name,
		Username: username,
		Email:    username + "@example.com",
	}
	require.NoError(t, f.users.Create(context.Background(), u))
	return u
}

func TestFollow_ThenEnrichedViews(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.addUser(t, "Alice", "alice")
	bob := f.addUser(t, "Bob", "bob")

	edge, err := f.svc.Follow(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, edge.FollowerID)
	assert.Equal(t, bob.ID, edge.FollowingID)
	assert.True(t, model.IsValidID(edge.ID))

	aliceView, err := f.svc.GetEnrichedUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []model.UserSummary{bob.Summary()}, aliceView.Following)
	assert.Empty(t, aliceView.Followers)

	bobView, err := f.svc.GetEnrichedUser(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, []model.UserSummary{alice.Summary()}, bobView.Followers)
	assert.Empty(t, bobView.Following)
}

func TestFollow_SelfFollowCheckedFirst(t *testing.T) {
	f := newFixture(t)
	f.users.Err = errors.New("store must not be reached")

	_, err := f.svc.Follow(context.Background(), "same", "same")
	assert.True(t, model.HasCode(err, model.ErrCodeSelfFollow), "err = %v", err)
}

func TestFollow_UnknownUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.addUser(t, "Alice", "alice")

	_, err := f.svc.Follow(ctx, alice.ID, model.NewID())
	assert.True(t, model.HasCode(err, model.ErrCodeUserNotFound), "err = %v", err)

	_, err = f.svc.Follow(ctx, "malformed", alice.ID)
	assert.True(t, model.HasCode(err, model.ErrCodeUserNotFound), "err = %v", err)
}

func TestFollow_Twice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.addUser(t, "Alice", "alice")
	bob := f.addUser(t, "Bob", "bob")

	_, err := f.svc.Follow(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	_, err = f.svc.Follow(ctx, alice.ID, bob.ID)
	assert.True(t, model.HasCode(err, model.ErrCodeAlreadyFollowing), "err = %v", err)
}

func TestFollow_ConcurrentDuplicateFromStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.addUser(t, "Alice", "alice")
	bob := f.addUser(t, "Bob", "bob")

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.Follow(ctx, alice.ID, bob.ID)
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, model.HasCode(err, model.ErrCodeAlreadyFollowing), "err = %v", err)
	}
	assert.Equal(t, 1, succeeded)
}

func TestUnfollow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.addUser(t, "Alice", "alice")
	bob := f.addUser(t, "Bob", "bob")

	err := f.svc.Unfollow(ctx, alice.ID, bob.ID)
	assert.True(t, model.HasCode(err, model.ErrCodeNotFollowing), "err = %v", err)

	_, err = f.svc.Follow(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.Unfollow(ctx, alice.ID, bob.ID))

	err = f.svc.Unfollow(ctx, alice.ID, bob.ID)
	assert.True(t, model.HasCode(err, model.ErrCodeNotFollowing), "err = %v", err)

	view, err := f.svc.GetEnrichedUser(ctx, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, view.Followers)
}

func TestUnfollow_StoreError(t *testing.T) {
	f := newFixture(t)
	storeErr := errors.New("connection reset")
	f.follows.Err = storeErr

	err := f.svc.Unfollow(context.Background(), model.NewID(), model.NewID())
	assert.ErrorIs(t, err, storeErr)
}

func TestGetEnrichedUser_OrderAndDanglingIDs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	target := f.addUser(t, "Target", "target")
	c := f.addUser(t, "Carol", "carol")
	a := f.addUser(t, "Alice", "alice")

	// エッジ作成順: carol → (存在しないユーザー) → alice
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, follower := range []string{c.ID, model.NewID(), a.ID} {
		require.NoError(t, f.follows.Create(ctx, &model.FollowEdge{
			ID:          model.NewID(),
			FollowerID:  follower,
			FollowingID: target.ID,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}))
	}

	view, err := f.svc.GetEnrichedUser(ctx, target.ID)
	require.NoError(t, err)
	require.Len(t, view.Followers, 2)
	assert.Equal(t, "carol", view.Followers[0].Username)
	assert.Equal(t, "alice", view.Followers[1].Username)
}

func TestGetEnrichedUser_PostsNewestFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.addUser(t, "Alice", "alice")

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, content := range []string{"first", "second", "third"} {
		require.NoError(t, f.posts.Create(ctx, &model.Post{
			ID:        model.NewID(),
			AuthorID:  alice.ID,
			Content:   content,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	view, err := f.svc.GetEnrichedUser(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, view.Posts, 3)
	assert.Equal(t, "third", view.Posts[0].Content)
	assert.Equal(t, "first", view.Posts[2].Content)
}

func TestGetEnrichedUser_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GetEnrichedUser(context.Background(), model.NewID())
	assert.True(t, model.HasCode(err, model.ErrCodeUserNotFound), "err = %v", err)

	_, err = f.svc.GetEnrichedUser(context.Background(), "42")
	assert.True(t, model.HasCode(err, model.ErrCodeUserNotFound), "err = %v", err)
}

func TestGetEnrichedUser_EmptyCollectionsAreNonNil(t *testing.T) {
	f := newFixture(t)
	alice := f.addUser(t, "Alice", "alice")

	view, err := f.svc.GetEnrichedUser(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.NotNil(t, view.Followers)
	assert.NotNil(t, view.Following)
	assert.NotNil(t, view.Posts)
}

func TestGetEnrichedUser_SubqueryFailure(t *testing.T) {
	f := newFixture(t)
	alice := f.addUser(t, "Alice", "alice")
	storeErr := errors.New("timeout")
	f.posts.Err = storeErr

	_, err := f.svc.GetEnrichedUser(context.Background(), alice.ID)
	assert.ErrorIs(t, err, storeErr)
}

// blockingFollows はコンテキストが終了するまで応答しないFollowRepository。
type blockingFollows struct {
	repository.FollowRepository
}

func (blockingFollows) ListFollowerIDs(ctx context.Context, _ string) ([]string, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingFollows) ListFollowingIDs(ctx context.Context, _ string) ([]string, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestGetEnrichedUser_TimeoutSurfacesAsError(t *testing.T) {
	users := repotest.NewUsers()
	svc := NewService(users, blockingFollows{}, repotest.NewPosts(users), identity.NewService(users, bcrypt.MinCost), 20*time.Millisecond)
	u := &model.User{ID: model.NewID(), Name: "A", Username: "a", Email: "a@example.com"}
	require.NoError(t, users.Create(context.Background(), u))

	_, err := svc.GetEnrichedUser(context.Background(), u.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSearchUsers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.addUser(t, "Alice Smith", "alice")
	bob := f.addUser(t, "Bob", "bobsmith")
	f.addUser(t, "Carol", "carol")

	_, err := f.svc.Follow(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	views, err := f.svc.SearchUsers(ctx, "SMITH")
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "alice", views[0].Username)
	assert.Equal(t, "bobsmith", views[1].Username)
	assert.Equal(t, []model.UserSummary{alice.Summary()}, views[1].Followers)

	views, err = f.svc.SearchUsers(ctx, "  ")
	require.NoError(t, err)
	assert.Empty(t, views)
}
