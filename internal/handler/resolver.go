package handler

import (
	"context"
	"time"

	graphql "github.com/graph-gophers/graphql-go"

	"github.com/hitoshi/pictogram/internal/identity"
	"github.com/hitoshi/pictogram/internal/metrics"
	"github.com/hitoshi/pictogram/internal/middleware"
	"github.com/hitoshi/pictogram/internal/model"
	"github.com/hitoshi/pictogram/internal/post"
)

// AuthServiceInterface はリゾルバが必要とする認証サービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, email, password string) (string, error)
	Authenticate(ctx context.Context, token string) (*model.Principal, error)
}

// IdentityServiceInterface はリゾルバが必要とするユーザー登録インターフェース。
type IdentityServiceInterface interface {
	Register(ctx context.Context, in identity.RegisterInput) (string, error)
}

// GraphServiceInterface はリゾルバが必要とするフォローグラフのサービスインターフェース。
type GraphServiceInterface interface {
	Follow(ctx context.Context, followerID, followingID string) (*model.FollowEdge, error)
	Unfollow(ctx context.Context, followerID, followingID string) error
	GetEnrichedUser(ctx context.Context, id string) (*model.UserView, error)
	SearchUsers(ctx context.Context, term string) ([]*model.UserView, error)
}

// PostServiceInterface はリゾルバが必要とする投稿のサービスインターフェース。
type PostServiceInterface interface {
	AddPost(ctx context.Context, authorID string, in post.AddPostInput) (string, error)
	ListPosts(ctx context.Context) ([]model.PostView, error)
	GetPostByID(ctx context.Context, id string) (*model.PostView, error)
	AddComment(ctx context.Context, postID, authorID, content string) (*model.Comment, error)
	ToggleLike(ctx context.Context, postID, authorID string) (model.LikeAction, error)
}

// 結果メッセージ
const (
	msgRegistered = "Successfully registered!"
	msgLiked      = "Post liked successfully"
	msgUnliked    = "Post unliked successfully"
)

// Resolver はGraphQLスキーマのルートリゾルバ。
type Resolver struct {
	auth     AuthServiceInterface
	identity IdentityServiceInterface
	graph    GraphServiceInterface
	posts    PostServiceInterface
	metrics  metrics.MetricsCollector
}

// NewResolver はResolverを生成する。
func NewResolver(
	auth AuthServiceInterface,
	identity IdentityServiceInterface,
	graph GraphServiceInterface,
	posts PostServiceInterface,
	collector metrics.MetricsCollector,
) *Resolver {
	return &Resolver{
		auth:     auth,
		identity: identity,
		graph:    graph,
		posts:    posts,
		metrics:  collector,
	}
}

// --- Query ---

// Login はメールアドレスとパスワードでログインし、トークンを返す。
func (r *Resolver) Login(ctx context.Context, args struct{ Payload loginInput }) (token string, err error) {
	defer r.observe(ctx, "login", time.Now(), &err)
	return r.auth.Login(ctx, args.Payload.Email, args.Payload.Password)
}

func (r *Resolver) Posts(ctx context.Context) (res []*postResolver, err error) {
	defer r.observe(ctx, "posts", time.Now(), &err)
	if _, err := r.authenticate(ctx); err != nil {
		return nil, err
	}

	views, err := r.posts.ListPosts(ctx)
	if err != nil {
		return nil, err
	}
	res = make([]*postResolver, len(views))
	for i := range views {
		res[i] = newPostViewResolver(views[i])
	}
	return res, nil
}

func (r *Resolver) GetPostByID(ctx context.Context, args struct{ ID graphql.ID }) (res *postResolver, err error) {
	defer r.observe(ctx, "getPostById", time.Now(), &err)
	if _, err := r.authenticate(ctx); err != nil {
		return nil, err
	}

	view, err := r.posts.GetPostByID(ctx, string(args.ID))
	if err != nil {
		return nil, err
	}
	return newPostViewResolver(*view), nil
}

func (r *Resolver) SearchUsers(ctx context.Context, args struct{ SearchTerm string }) (res []*userResolver, err error) {
	defer r.observe(ctx, "searchUsers", time.Now(), &err)
	if _, err := r.authenticate(ctx); err != nil {
		return nil, err
	}

	views, err := r.graph.SearchUsers(ctx, args.SearchTerm)
	if err != nil {
		return nil, err
	}
	res = make([]*userResolver, len(views))
	for i, v := range views {
		res[i] = &userResolver{v: v}
	}
	return res, nil
}

func (r *Resolver) GetUserByID(ctx context.Context, args struct{ ID graphql.ID }) (res *userResolver, err error) {
	defer r.observe(ctx, "getUserById", time.Now(), &err)
	if _, err := r.authenticate(ctx); err != nil {
		return nil, err
	}
	return r.enrichedUser(ctx, string(args.ID))
}

// Me は認証済みユーザー自身のビューを返す。
func (r *Resolver) Me(ctx context.Context) (res *userResolver, err error) {
	defer r.observe(ctx, "me", time.Now(), &err)
	principal, err := r.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	return r.enrichedUser(ctx, principal.ID)
}

// --- Mutation ---

func (r *Resolver) Register(ctx context.Context, args struct{ Payload registerInput }) (msg string, err error) {
	defer r.observe(ctx, "register", time.Now(), &err)
	_, err = r.identity.Register(ctx, identity.RegisterInput{
		Name:     args.Payload.Name,
		Username: args.Payload.Username,
		Email:    args.Payload.Email,
		Password: args.Payload.Password,
	})
	if err != nil {
		return "", err
	}
	return msgRegistered, nil
}

func (r *Resolver) AddPost(ctx context.Context, args struct{ Input postInput }) (msg string, err error) {
	defer r.observe(ctx, "addPost", time.Now(), &err)
	principal, err := r.authenticate(ctx)
	if err != nil {
		return "", err
	}

	var tags []string
	if args.Input.Tags != nil {
		tags = *args.Input.Tags
	}
	id, err := r.posts.AddPost(ctx, principal.ID, post.AddPostInput{
		Content: args.Input.Content,
		ImgURL:  args.Input.ImgURL,
		Tags:    tags,
	})
	if err != nil {
		return "", err
	}
	return "Post with id " + id + " has been created", nil
}

func (r *Resolver) AddComment(ctx context.Context, args struct {
	PostID graphql.ID
	Input  commentInput
}) (res *commentResolver, err error) {
	defer r.observe(ctx, "addComment", time.Now(), &err)
	principal, err := r.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	c, err := r.posts.AddComment(ctx, string(args.PostID), principal.ID, args.Input.Content)
	if err != nil {
		return nil, err
	}
	return &commentResolver{c: *c}, nil
}

// LikePost は認証済みユーザーのいいねをトグルする。
func (r *Resolver) LikePost(ctx context.Context, args struct{ PostID graphql.ID }) (msg string, err error) {
	defer r.observe(ctx, "likePost", time.Now(), &err)
	principal, err := r.authenticate(ctx)
	if err != nil {
		return "", err
	}

	action, err := r.posts.ToggleLike(ctx, string(args.PostID), principal.ID)
	if err != nil {
		return "", err
	}
	if action == model.LikeActionUnliked {
		return msgUnliked, nil
	}
	return msgLiked, nil
}

func (r *Resolver) FollowUser(ctx context.Context, args struct{ FollowingID graphql.ID }) (msg string, err error) {
	defer r.observe(ctx, "followUser", time.Now(), &err)
	principal, err := r.authenticate(ctx)
	if err != nil {
		return "", err
	}

	if _, err := r.graph.Follow(ctx, principal.ID, string(args.FollowingID)); err != nil {
		return "", err
	}
	return "Successfully followed user " + string(args.FollowingID), nil
}

func (r *Resolver) UnfollowUser(ctx context.Context, args struct{ FollowingID graphql.ID }) (msg string, err error) {
	defer r.observe(ctx, "unfollowUser", time.Now(), &err)
	principal, err := r.authenticate(ctx)
	if err != nil {
		return "", err
	}

	if err := r.graph.Unfollow(ctx, principal.ID, string(args.FollowingID)); err != nil {
		return "", err
	}
	return "Successfully unfollowed user " + string(args.FollowingID), nil
}

// --- 共通処理 ---

// authenticate はリクエストのBearerトークンを検証し、主体をログ用のコンテキスト領域に記録する。
func (r *Resolver) authenticate(ctx context.Context) (*model.Principal, error) {
	principal, err := r.auth.Authenticate(ctx, middleware.TokenFromContext(ctx))
	if err != nil {
		return nil, err
	}
	middleware.SetUserID(ctx, principal.ID)
	return principal, nil
}

func (r *Resolver) enrichedUser(ctx context.Context, id string) (*userResolver, error) {
	view, err := r.graph.GetEnrichedUser(ctx, id)
	if err != nil {
		return nil, err
	}
	return &userResolver{v: view}, nil
}

// observe は操作のレイテンシを記録し、エラーをGraphQLエラーに変換する。
func (r *Resolver) observe(ctx context.Context, op string, start time.Time, errp *error) {
	r.metrics.RecordOperationLatency(op, time.Since(start))
	if *errp == nil {
		return
	}
	gqlErr := toResolverError(ctx, op, *errp)
	r.metrics.RecordOperationError(op, gqlErr.apiErr.Code)
	*errp = gqlErr
}

// --- 入力型 ---

type loginInput struct {
	Email    string
	Password string
}

type registerInput struct {
	Name     string
	Email    string
	Username string
	Password string
}

type postInput struct {
	Content string
	ImgURL  string
	Tags    *[]string
}

type commentInput struct {
	Content string
}
