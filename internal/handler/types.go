package handler

import (
	"time"

	graphql "github.com/graph-gophers/graphql-go"

	"github.com/hitoshi/pictogram/internal/model"
)

// timeLayout はGraphQLレスポンスの日時表現。
const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// postResolver はPost型のリゾルバ。ユーザービュー内の投稿では投稿者を持たない。
type postResolver struct {
	p      model.Post
	author *model.Author
}

func newPostViewResolver(v model.PostView) *postResolver {
	author := v.Author
	return &postResolver{p: v.Post, author: &author}
}

func (r *postResolver) ID() graphql.ID       { return graphql.ID(r.p.ID) }
func (r *postResolver) AuthorID() graphql.ID { return graphql.ID(r.p.AuthorID) }
func (r *postResolver) Content() string      { return r.p.Content }
func (r *postResolver) ImgURL() string       { return r.p.ImgURL }
func (r *postResolver) CreatedAt() string    { return formatTime(r.p.CreatedAt) }
func (r *postResolver) UpdatedAt() string    { return formatTime(r.p.UpdatedAt) }
func (r *postResolver) LikeCount() int32     { return int32(len(r.p.Likes)) }
func (r *postResolver) CommentCount() int32  { return int32(len(r.p.Comments)) }

func (r *postResolver) Tags() []string {
	if r.p.Tags == nil {
		return []string{}
	}
	return r.p.Tags
}

func (r *postResolver) Author() *authorResolver {
	if r.author == nil {
		return nil
	}
	return &authorResolver{a: *r.author}
}

func (r *postResolver) Comments() []*commentResolver {
	res := make([]*commentResolver, len(r.p.Comments))
	for i, c := range r.p.Comments {
		res[i] = &commentResolver{c: c}
	}
	return res
}

func (r *postResolver) Likes() []*likeResolver {
	res := make([]*likeResolver, len(r.p.Likes))
	for i, l := range r.p.Likes {
		res[i] = &likeResolver{l: l}
	}
	return res
}

type authorResolver struct {
	a model.Author
}

func (r *authorResolver) ID() graphql.ID   { return graphql.ID(r.a.ID) }
func (r *authorResolver) Name() string     { return r.a.Name }
func (r *authorResolver) Username() string { return r.a.Username }

type commentResolver struct {
	c model.Comment
}

func (r *commentResolver) ID() graphql.ID       { return graphql.ID(r.c.ID) }
func (r *commentResolver) AuthorID() graphql.ID { return graphql.ID(r.c.AuthorID) }
func (r *commentResolver) UserID() graphql.ID   { return graphql.ID(r.c.AuthorID) }
func (r *commentResolver) Username() string     { return r.c.Username }
func (r *commentResolver) Content() string      { return r.c.Content }
func (r *commentResolver) CreatedAt() string    { return formatTime(r.c.CreatedAt) }
func (r *commentResolver) UpdatedAt() string    { return formatTime(r.c.UpdatedAt) }

type likeResolver struct {
	l model.Like
}

func (r *likeResolver) AuthorID() graphql.ID { return graphql.ID(r.l.AuthorID) }
func (r *likeResolver) UserID() graphql.ID   { return graphql.ID(r.l.AuthorID) }
func (r *likeResolver) CreatedAt() string    { return formatTime(r.l.CreatedAt) }
func (r *likeResolver) UpdatedAt() string    { return formatTime(r.l.UpdatedAt) }

type userSummaryResolver struct {
	u model.UserSummary
}

func (r *userSummaryResolver) ID() graphql.ID   { return graphql.ID(r.u.ID) }
func (r *userSummaryResolver) Name() string     { return r.u.Name }
func (r *userSummaryResolver) Username() string { return r.u.Username }
func (r *userSummaryResolver) Email() string    { return r.u.Email }

// userResolver はUser型のリゾルバ。ネストしたユーザーはUserSummaryのみを公開する。
type userResolver struct {
	v *model.UserView
}

func (r *userResolver) ID() graphql.ID   { return graphql.ID(r.v.ID) }
func (r *userResolver) Name() string     { return r.v.Name }
func (r *userResolver) Username() string { return r.v.Username }
func (r *userResolver) Email() string    { return r.v.Email }

func (r *userResolver) FollowerData() []*userSummaryResolver {
	return summaries(r.v.Followers)
}

func (r *userResolver) FollowingData() []*userSummaryResolver {
	return summaries(r.v.Following)
}

func (r *userResolver) Posts() []*postResolver {
	res := make([]*postResolver, len(r.v.Posts))
	for i, p := range r.v.Posts {
		res[i] = &postResolver{p: p}
	}
	return res
}

func summaries(users []model.UserSummary) []*userSummaryResolver {
	res := make([]*userSummaryResolver, len(users))
	for i, u := range users {
		res[i] = &userSummaryResolver{u: u}
	}
	return res
}
