package repository

import (
	"time"

	"github.com/hitoshi/pictogram/internal/model"
)

// MongoDBのコレクション名。
const (
	mongoUsersCollection   = "users"
	mongoFollowsCollection = "follows"
	mongoPostsCollection   = "posts"
)

// MongoDBのユニークインデックス名。database.EnsureMongoIndexesがこの名前で作成する。
const (
	mongoEmailIndex      = "users_email_key"
	mongoUsernameIndex   = "users_username_key"
	mongoFollowPairIndex = "follows_follower_following_key"
)

// userDocument はusersコレクションのドキュメント。
type userDocument struct {
	ID           string    `bson:"_id"`
	Name         string    `bson:"name"`
	Username     string    `bson:"username"`
	Email        string    `bson:"email"`
	PasswordHash string    `bson:"passwordHash"`
	CreatedAt    time.Time `bson:"createdAt"`
	UpdatedAt    time.Time `bson:"updatedAt"`
}

func newUserDocument(u *model.User) userDocument {
	return userDocument{
		ID:           u.ID,
		Name:         u.Name,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func (d userDocument) toModel() *model.User {
	return &model.User{
		ID:           d.ID,
		Name:         d.Name,
		Username:     d.Username,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// followDocument はfollowsコレクションのドキュメント。
type followDocument struct {
	ID          string    `bson:"_id"`
	FollowerID  string    `bson:"followerId"`
	FollowingID string    `bson:"followingId"`
	CreatedAt   time.Time `bson:"createdAt"`
	UpdatedAt   time.Time `bson:"updatedAt"`
}

func (d followDocument) toModel() *model.FollowEdge {
	return &model.FollowEdge{
		ID:          d.ID,
		FollowerID:  d.FollowerID,
		FollowingID: d.FollowingID,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

type commentDocument struct {
	ID        string    `bson:"_id"`
	AuthorID  string    `bson:"authorId"`
	Username  string    `bson:"username"`
	Content   string    `bson:"content"`
	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

type likeDocument struct {
	AuthorID  string    `bson:"authorId"`
	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

// postDocument はpostsコレクションのドキュメント。コメントといいねを埋め込む。
type postDocument struct {
	ID        string            `bson:"_id"`
	AuthorID  string            `bson:"authorId"`
	Content   string            `bson:"content"`
	ImgURL    string            `bson:"imgUrl"`
	Tags      []string          `bson:"tags"`
	Comments  []commentDocument `bson:"comments"`
	Likes     []likeDocument    `bson:"likes"`
	CreatedAt time.Time         `bson:"createdAt"`
	UpdatedAt time.Time         `bson:"updatedAt"`
}

// postViewDocument は$lookupで投稿者を結合した集計結果。
type postViewDocument struct {
	postDocument `bson:",inline"`
	Author       userDocument `bson:"author"`
}

func newCommentDocument(c model.Comment) commentDocument {
	return commentDocument{
		ID:        c.ID,
		AuthorID:  c.AuthorID,
		Username:  c.Username,
		Content:   c.Content,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func newLikeDocument(l model.Like) likeDocument {
	return likeDocument{AuthorID: l.AuthorID, CreatedAt: l.CreatedAt, UpdatedAt: l.UpdatedAt}
}

func newPostDocument(p *model.Post) postDocument {
	doc := postDocument{
		ID:        p.ID,
		AuthorID:  p.AuthorID,
		Content:   p.Content,
		ImgURL:    p.ImgURL,
		Tags:      p.Tags,
		Comments:  make([]commentDocument, 0, len(p.Comments)),
		Likes:     make([]likeDocument, 0, len(p.Likes)),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	if doc.Tags == nil {
		doc.Tags = []string{}
	}
	for _, c := range p.Comments {
		doc.Comments = append(doc.Comments, newCommentDocument(c))
	}
	for _, l := range p.Likes {
		doc.Likes = append(doc.Likes, newLikeDocument(l))
	}
	return doc
}

func (d postDocument) toModel() model.Post {
	post := model.Post{
		ID:        d.ID,
		AuthorID:  d.AuthorID,
		Content:   d.Content,
		ImgURL:    d.ImgURL,
		Tags:      d.Tags,
		Comments:  make([]model.Comment, 0, len(d.Comments)),
		Likes:     make([]model.Like, 0, len(d.Likes)),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if post.Tags == nil {
		post.Tags = []string{}
	}
	for _, c := range d.Comments {
		post.Comments = append(post.Comments, model.Comment{
			ID:        c.ID,
			AuthorID:  c.AuthorID,
			Username:  c.Username,
			Content:   c.Content,
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		})
	}
	for _, l := range d.Likes {
		post.Likes = append(post.Likes, model.Like{AuthorID: l.AuthorID, CreatedAt: l.CreatedAt, UpdatedAt: l.UpdatedAt})
	}
	return post
}

func (d postViewDocument) toModel() model.PostView {
	return model.PostView{
		Post: d.postDocument.toModel(),
		Author: model.Author{
			ID:       d.Author.ID,
			Name:     d.Author.Name,
			Username: d.Author.Username,
		},
	}
}
