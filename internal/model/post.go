package model

import "time"

// Post はユーザーの投稿を表す。
// CommentsとLikesは投稿ドキュメントに埋め込まれた追記型のシーケンス。
// JSONタグはフィード一覧キャッシュのシリアライズに使用する。
type Post struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"authorId"`
	Content   string    `json:"content"`
	ImgURL    string    `json:"imgUrl"`
	Tags      []string  `json:"tags"`
	Comments  []Comment `json:"comments"`
	Likes     []Like    `json:"likes"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Comment は投稿に埋め込まれたコメント。
// Usernameは作成時点のスナップショットであり、後からユーザー名が変わっても更新しない。
type Comment struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"authorId"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Like は投稿に埋め込まれたいいね。
// (投稿, AuthorID) ごとに高々1件。
type Like struct {
	AuthorID  string    `json:"authorId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Author は投稿に結合される投稿者の射影。
type Author struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

// PostView は投稿と投稿者を結合したビュー。
type PostView struct {
	Post
	Author Author `json:"author"`
}

// LikeAction はいいねトグルの結果を表す。
type LikeAction string

const (
	// LikeActionLiked はいいねが追加されたことを示す。
	LikeActionLiked LikeAction = "liked"
	// LikeActionUnliked はいいねが取り消されたことを示す。
	LikeActionUnliked LikeAction = "unliked"
)
