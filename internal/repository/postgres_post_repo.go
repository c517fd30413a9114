package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/pictogram/internal/model"
	"github.com/lib/pq"
)

const postColumns = `p.id, p.author_id, p.content, p.img_url, p.tags, p.comments, p.likes, p.created_at, p.updated_at`

// 指定authorIdのいいねを含むかを判定するJSONB述語。$2はいいねしたユーザーID。
const likedByPredicate = `likes @> jsonb_build_array(jsonb_build_object('authorId', $2::text))`

// PostgresPostRepo はPostgreSQLを使用した投稿リポジトリ。
// コメントといいねはJSONB配列として投稿行に埋め込む。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

// Create は投稿を作成する。
func (r *PostgresPostRepo) Create(ctx context.Context, post *model.Post) error {
	comments, err := marshalEmbedded(post.Comments, []model.Comment{})
	if err != nil {
		return fmt.Errorf("failed to encode comments: %w", err)
	}
	likes, err := marshalEmbedded(post.Likes, []model.Like{})
	if err != nil {
		return fmt.Errorf("failed to encode likes: %w", err)
	}
	tags := post.Tags
	if tags == nil {
		tags = []string{}
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO posts (id, author_id, content, img_url, tags, comments, likes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		post.ID, post.AuthorID, post.Content, post.ImgURL, pq.Array(tags), string(comments), string(likes), post.CreatedAt, post.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert post: %w", err)
	}
	return nil
}

// ListWithAuthors は全投稿を投稿者と結合してcreated_at降順で返す。
func (r *PostgresPostRepo) ListWithAuthors(ctx context.Context) ([]model.PostView, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+postColumns+`, u.id, u.name, u.username
		 FROM posts p
		 INNER JOIN users u ON u.id = p.author_id
		 ORDER BY p.created_at DESC, p.id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	views := []model.PostView{}
	for rows.Next() {
		view, err := scanPostView(rows)
		if err != nil {
			return nil, err
		}
		views = append(views, *view)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate post rows: %w", err)
	}
	return views, nil
}

// FindWithAuthor は指定IDの投稿を投稿者と結合して返す。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindWithAuthor(ctx context.Context, id string) (*model.PostView, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+postColumns+`, u.id, u.name, u.username
		 FROM posts p
		 INNER JOIN users u ON u.id = p.author_id
		 WHERE p.id = $1`,
		id,
	)
	view, err := scanPostView(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return view, nil
}

// ListByAuthor は指定ユーザーの投稿をcreated_at降順で返す。
func (r *PostgresPostRepo) ListByAuthor(ctx context.Context, authorID string) ([]model.Post, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+postColumns+`
		 FROM posts p
		 WHERE p.author_id = $1
		 ORDER BY p.created_at DESC, p.id DESC`,
		authorID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts by author: %w", err)
	}
	defer rows.Close()

	posts := []model.Post{}
	for rows.Next() {
		var post model.Post
		if err := scanPost(rows, &post); err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate post rows: %w", err)
	}
	return posts, nil
}

// AppendComment はコメントをcomments配列の末尾に追加する。
func (r *PostgresPostRepo) AppendComment(ctx context.Context, postID string, comment model.Comment) error {
	doc, err := json.Marshal(comment)
	if err != nil {
		return fmt.Errorf("failed to encode comment: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE posts
		 SET comments = comments || jsonb_build_array($2::jsonb), updated_at = $3
		 WHERE id = $1`,
		postID, string(doc), comment.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append comment: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrPostNotFound
	}
	return nil
}

// ToggleLike はいいねの有無を単一のUPDATE文で反転させる。
// 行ロック下でCASE式を評価するため、同一ユーザーの並行トグルでもいいねが重複しない。
func (r *PostgresPostRepo) ToggleLike(ctx context.Context, postID string, like model.Like) (model.LikeAction, error) {
	doc, err := json.Marshal(like)
	if err != nil {
		return "", fmt.Errorf("failed to encode like: %w", err)
	}

	var liked bool
	err = r.db.QueryRowContext(ctx,
		`UPDATE posts
		 SET likes = CASE
		     WHEN `+likedByPredicate+` THEN (
		         SELECT COALESCE(jsonb_agg(l.elem ORDER BY l.pos), '[]'::jsonb)
		         FROM jsonb_array_elements(likes) WITH ORDINALITY AS l(elem, pos)
		         WHERE l.elem->>'authorId' <> $2::text
		     )
		     ELSE likes || jsonb_build_array($3::jsonb)
		 END,
		 updated_at = $4
		 WHERE id = $1
		 RETURNING `+likedByPredicate,
		postID, like.AuthorID, string(doc), like.UpdatedAt,
	).Scan(&liked)
	if err == sql.ErrNoRows {
		return "", ErrPostNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to toggle like: %w", err)
	}

	if liked {
		return model.LikeActionLiked, nil
	}
	return model.LikeActionUnliked, nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanPost は投稿の列をpostに読み込む。extraは投稿列の後に続く列の格納先。
func scanPost(s rowScanner, post *model.Post, extra ...any) error {
	var (
		tags            []string
		comments, likes []byte
	)
	dest := append([]any{
		&post.ID, &post.AuthorID, &post.Content, &post.ImgURL,
		pq.Array(&tags), &comments, &likes, &post.CreatedAt, &post.UpdatedAt,
	}, extra...)
	if err := s.Scan(dest...); err != nil {
		if err == sql.ErrNoRows {
			return err
		}
		return fmt.Errorf("failed to scan post: %w", err)
	}

	if tags == nil {
		tags = []string{}
	}
	post.Tags = tags
	post.Comments = []model.Comment{}
	if err := json.Unmarshal(comments, &post.Comments); err != nil {
		return fmt.Errorf("failed to decode comments: %w", err)
	}
	post.Likes = []model.Like{}
	if err := json.Unmarshal(likes, &post.Likes); err != nil {
		return fmt.Errorf("failed to decode likes: %w", err)
	}
	return nil
}

func scanPostView(s rowScanner) (*model.PostView, error) {
	view := &model.PostView{}
	if err := scanPost(s, &view.Post, &view.Author.ID, &view.Author.Name, &view.Author.Username); err != nil {
		return nil, err
	}
	return view, nil
}

// marshalEmbedded は埋め込み配列をJSONBに書き込む形式へ変換する。nilは空配列として扱う。
func marshalEmbedded[T any](items []T, empty []T) ([]byte, error) {
	if items == nil {
		items = empty
	}
	return json.Marshal(items)
}

// compile-time interface check
var _ PostRepository = (*PostgresPostRepo)(nil)
