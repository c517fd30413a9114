// Package repotest はテスト用のインメモリリポジトリを提供する。
// 一意制約・存在条件はPostgreSQL/MongoDB実装と同じセンチネルエラーで表現する。
package repotest

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/hitoshi/pictogram/internal/model"
	"github.com/hitoshi/pictogram/internal/repository"
)

// Users はインメモリのUserRepository。
type Users struct {
	mu    sync.RWMutex
	byID  map[string]*model.User
	order []string

	// Err が設定されている場合、全メソッドがこのエラーを返す。
	Err error
}

// NewUsers はUsersを生成する。
func NewUsers() *Users {
	return &Users{byID: make(map[string]*model.User)}
}

func (r *Users) Create(_ context.Context, user *model.User) error {
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.byID {
		if u.Email == user.Email {
			return repository.ErrDuplicateEmail
		}
		if u.Username == user.Username {
			return repository.ErrDuplicateUsername
		}
	}
	cp := *user
	r.byID[user.ID] = &cp
	r.order = append(r.order, user.ID)
	return nil
}

func (r *Users) FindByID(_ context.Context, id string) (*model.User, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if u, ok := r.byID[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (r *Users) FindByEmail(_ context.Context, email string) (*model.User, error) {
	return r.findBy(func(u *model.User) bool { return u.Email == email })
}

func (r *Users) FindByUsername(_ context.Context, username string) (*model.User, error) {
	return r.findBy(func(u *model.User) bool { return u.Username == username })
}

func (r *Users) FindByIDs(_ context.Context, ids []string) ([]*model.User, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := []*model.User{}
	for _, id := range ids {
		if u, ok := r.byID[id]; ok {
			cp := *u
			users = append(users, &cp)
		}
	}
	return users, nil
}

func (r *Users) SearchByNameOrUsername(_ context.Context, term string) ([]*model.User, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	needle := strings.ToLower(term)
	users := []*model.User{}
	for _, id := range r.order {
		u := r.byID[id]
		if strings.Contains(strings.ToLower(u.Name), needle) || strings.Contains(strings.ToLower(u.Username), needle) {
			cp := *u
			users = append(users, &cp)
		}
	}
	sort.SliceStable(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (r *Users) findBy(match func(*model.User) bool) (*model.User, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.byID {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

// Follows はインメモリのFollowRepository。
type Follows struct {
	mu    sync.Mutex
	edges []model.FollowEdge

	Err error
}

// NewFollows はFollowsを生成する。
func NewFollows() *Follows {
	return &Follows{}
}

func (r *Follows) Create(_ context.Context, edge *model.FollowEdge) error {
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.edges {
		if e.FollowerID == edge.FollowerID && e.FollowingID == edge.FollowingID {
			return repository.ErrDuplicateFollow
		}
	}
	r.edges = append(r.edges, *edge)
	return nil
}

func (r *Follows) Find(_ context.Context, followerID, followingID string) (*model.FollowEdge, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.edges {
		if e.FollowerID == followerID && e.FollowingID == followingID {
			cp := e
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *Follows) Delete(_ context.Context, followerID, followingID string) (bool, error) {
	if r.Err != nil {
		return false, r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.edges {
		if e.FollowerID == followerID && e.FollowingID == followingID {
			r.edges = append(r.edges[:i], r.edges[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (r *Follows) ListFollowerIDs(_ context.Context, userID string) ([]string, error) {
	return r.list(func(e model.FollowEdge) (string, bool) { return e.FollowerID, e.FollowingID == userID })
}

func (r *Follows) ListFollowingIDs(_ context.Context, userID string) ([]string, error) {
	return r.list(func(e model.FollowEdge) (string, bool) { return e.FollowingID, e.FollowerID == userID })
}

func (r *Follows) list(pick func(model.FollowEdge) (string, bool)) ([]string, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := []string{}
	for _, e := range r.edges {
		if id, ok := pick(e); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Posts はインメモリのPostRepository。投稿者の解決にUsersを参照する。
type Posts struct {
	mu    sync.Mutex
	users *Users
	posts []model.Post

	Err error
}

// NewPosts はPostsを生成する。
func NewPosts(users *Users) *Posts {
	return &Posts{users: users}
}

func (r *Posts) Create(_ context.Context, post *model.Post) error {
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.posts = append(r.posts, clonePost(*post))
	return nil
}

func (r *Posts) ListWithAuthors(ctx context.Context) ([]model.PostView, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.mu.Lock()
	posts := make([]model.Post, 0, len(r.posts))
	for _, p := range r.posts {
		posts = append(posts, clonePost(p))
	}
	r.mu.Unlock()

	sortByCreatedDesc(posts)
	views := []model.PostView{}
	for _, p := range posts {
		author, err := r.users.FindByID(ctx, p.AuthorID)
		if err != nil {
			return nil, err
		}
		if author == nil {
			continue
		}
		views = append(views, model.PostView{Post: p, Author: model.Author{ID: author.ID, Name: author.Name, Username: author.Username}})
	}
	return views, nil
}

func (r *Posts) FindWithAuthor(ctx context.Context, id string) (*model.PostView, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.mu.Lock()
	var found *model.Post
	for _, p := range r.posts {
		if p.ID == id {
			cp := clonePost(p)
			found = &cp
			break
		}
	}
	r.mu.Unlock()

	if found == nil {
		return nil, nil
	}
	author, err := r.users.FindByID(ctx, found.AuthorID)
	if err != nil || author == nil {
		return nil, err
	}
	return &model.PostView{Post: *found, Author: model.Author{ID: author.ID, Name: author.Name, Username: author.Username}}, nil
}

func (r *Posts) ListByAuthor(_ context.Context, authorID string) ([]model.Post, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	posts := []model.Post{}
	for _, p := range r.posts {
		if p.AuthorID == authorID {
			posts = append(posts, clonePost(p))
		}
	}
	sortByCreatedDesc(posts)
	return posts, nil
}

func (r *Posts) AppendComment(_ context.Context, postID string, comment model.Comment) error {
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.posts {
		if r.posts[i].ID == postID {
			r.posts[i].Comments = append(r.posts[i].Comments, comment)
			r.posts[i].UpdatedAt = comment.CreatedAt
			return nil
		}
	}
	return repository.ErrPostNotFound
}

func (r *Posts) ToggleLike(_ context.Context, postID string, like model.Like) (model.LikeAction, error) {
	if r.Err != nil {
		return "", r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.posts {
		p := &r.posts[i]
		if p.ID != postID {
			continue
		}
		p.UpdatedAt = like.UpdatedAt
		for j, l := range p.Likes {
			if l.AuthorID == like.AuthorID {
				p.Likes = append(p.Likes[:j], p.Likes[j+1:]...)
				return model.LikeActionUnliked, nil
			}
		}
		p.Likes = append(p.Likes, like)
		return model.LikeActionLiked, nil
	}
	return "", repository.ErrPostNotFound
}

func clonePost(p model.Post) model.Post {
	p.Tags = append([]string{}, p.Tags...)
	p.Comments = append([]model.Comment{}, p.Comments...)
	p.Likes = append([]model.Like{}, p.Likes...)
	return p
}

func sortByCreatedDesc(posts []model.Post) {
	sort.SliceStable(posts, func(i, j int) bool { return posts[i].CreatedAt.After(posts[j].CreatedAt) })
}

// compile-time interface check
var (
	_ repository.UserRepository   = (*Users)(nil)
	_ repository.FollowRepository = (*Follows)(nil)
	_ repository.PostRepository   = (*Posts)(nil)
)
