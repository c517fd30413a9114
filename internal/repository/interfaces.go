// Package repository はデータ永続化のインターフェースを定義する。
// PostgreSQL、MongoDB、Neo4j（フォローグラフのみ）の実装を持つ。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/pictogram/internal/model"
)

// ストアの一意制約・存在条件に起因するエラー。
var (
	// ErrDuplicateEmail はemailの一意制約違反を表す。
	ErrDuplicateEmail = errors.New("duplicate email")
	// ErrDuplicateUsername はusernameの一意制約違反を表す。
	ErrDuplicateUsername = errors.New("duplicate username")
	// ErrDuplicateFollow は(follower, following)の一意制約違反を表す。
	ErrDuplicateFollow = errors.New("duplicate follow edge")
	// ErrPostNotFound は更新対象の投稿が存在しないことを表す。
	ErrPostNotFound = errors.New("post not found")
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// Create はユーザーを作成する。
	// email、usernameの一意制約違反時はErrDuplicateEmail、ErrDuplicateUsernameを返す。
	Create(ctx context.Context, user *model.User) error

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByUsername はユーザー名でユーザーを取得する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// FindByIDs は指定ID群のユーザーをまとめて取得する。
	// 存在しないIDは結果に含まれない。順序は保証しない。
	FindByIDs(ctx context.Context, ids []string) ([]*model.User, error)

	// SearchByNameOrUsername はnameまたはusernameに部分一致（大文字小文字を区別しない）するユーザーを返す。
	// termはリテラルとして扱い、メタ文字はエスケープする。
	SearchByNameOrUsername(ctx context.Context, term string) ([]*model.User, error)
}

// FollowRepository はフォローエッジの永続化インターフェース。
// ユーザー情報との結合は呼び出し側（graph.Service）が行う。
type FollowRepository interface {
	// Create はフォローエッジを作成する。
	// 同じ組のエッジが既に存在する場合はErrDuplicateFollowを返す。
	Create(ctx context.Context, edge *model.FollowEdge) error

	// Find はフォローエッジを取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, followerID, followingID string) (*model.FollowEdge, error)

	// Delete はフォローエッジを1件削除する。削除できた場合にtrueを返す。
	Delete(ctx context.Context, followerID, followingID string) (bool, error)

	// ListFollowerIDs はuserIDをフォローしているユーザーのIDをエッジ作成順で返す。
	ListFollowerIDs(ctx context.Context, userID string) ([]string, error)

	// ListFollowingIDs はuserIDがフォローしているユーザーのIDをエッジ作成順で返す。
	ListFollowingIDs(ctx context.Context, userID string) ([]string, error)
}

// PostRepository は投稿データの永続化インターフェース。
// コメントといいねは投稿に埋め込まれ、単一ドキュメントの原子的更新で変更する。
type PostRepository interface {
	// Create は投稿を作成する。
	Create(ctx context.Context, post *model.Post) error

	// ListWithAuthors は全投稿を投稿者と結合してcreated_at降順で返す。
	// 投稿者が存在しない投稿は結果に含まれない。
	ListWithAuthors(ctx context.Context) ([]model.PostView, error)

	// FindWithAuthor は指定IDの投稿を投稿者と結合して返す。見つからない場合はnilを返す。
	FindWithAuthor(ctx context.Context, id string) (*model.PostView, error)

	// ListByAuthor は指定ユーザーの投稿をcreated_at降順で返す。
	ListByAuthor(ctx context.Context, authorID string) ([]model.Post, error)

	// AppendComment はコメントを投稿の末尾に追加し、updated_atを更新する。
	// 投稿が存在しない場合はErrPostNotFoundを返す。
	AppendComment(ctx context.Context, postID string, comment model.Comment) error

	// ToggleLike はlike.AuthorIDのいいねが存在すれば取り除き、なければ追加する。
	// 判定と更新は単一の条件付き更新で行う。投稿が存在しない場合はErrPostNotFoundを返す。
	ToggleLike(ctx context.Context, postID string, like model.Like) (model.LikeAction, error)
}

// HealthChecker はストアの疎通確認インターフェース。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}
