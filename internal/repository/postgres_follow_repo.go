package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/pictogram/internal/model"
	"github.com/lib/pq"
)

// followsテーブルの(follower_id, following_id)一意制約名。
const followsPairConstraint = "follows_follower_following_key"

// PostgresFollowRepo はPostgreSQLを使用したフォローエッジリポジトリ。
type PostgresFollowRepo struct {
	db *sql.DB
}

// NewPostgresFollowRepo はPostgresFollowRepoを生成する。
func NewPostgresFollowRepo(db *sql.DB) *PostgresFollowRepo {
	return &PostgresFollowRepo{db: db}
}

// Create はフォローエッジを作成する。
func (r *PostgresFollowRepo) Create(ctx context.Context, edge *model.FollowEdge) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO follows (id, follower_id, following_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		edge.ID, edge.FollowerID, edge.FollowingID, edge.CreatedAt, edge.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation && pqErr.Constraint == followsPairConstraint {
			return ErrDuplicateFollow
		}
		return fmt.Errorf("failed to insert follow: %w", err)
	}
	return nil
}

// Find はフォローエッジを取得する。見つからない場合はnilを返す。
func (r *PostgresFollowRepo) Find(ctx context.Context, followerID, followingID string) (*model.FollowEdge, error) {
	edge := &model.FollowEdge{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, follower_id, following_id, created_at, updated_at
		 FROM follows WHERE follower_id = $1 AND following_id = $2`,
		followerID, followingID,
	).Scan(&edge.ID, &edge.FollowerID, &edge.FollowingID, &edge.CreatedAt, &edge.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find follow: %w", err)
	}
	return edge, nil
}

// Delete はフォローエッジを削除する。削除できた場合にtrueを返す。
func (r *PostgresFollowRepo) Delete(ctx context.Context, followerID, followingID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM follows WHERE follower_id = $1 AND following_id = $2`,
		followerID, followingID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete follow: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// ListFollowerIDs はuserIDのフォロワーのIDをエッジ作成順で返す。
func (r *PostgresFollowRepo) ListFollowerIDs(ctx context.Context, userID string) ([]string, error) {
	return r.listIDs(ctx,
		`SELECT follower_id FROM follows WHERE following_id = $1 ORDER BY created_at ASC, id ASC`,
		userID,
	)
}

// ListFollowingIDs はuserIDがフォローしているユーザーのIDをエッジ作成順で返す。
func (r *PostgresFollowRepo) ListFollowingIDs(ctx context.Context, userID string) ([]string, error) {
	return r.listIDs(ctx,
		`SELECT following_id FROM follows WHERE follower_id = $1 ORDER BY created_at ASC, id ASC`,
		userID,
	)
}

func (r *PostgresFollowRepo) listIDs(ctx context.Context, query, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list follow IDs: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan follow ID: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate follow rows: %w", err)
	}
	return ids, nil
}

// compile-time interface check
var _ FollowRepository = (*PostgresFollowRepo)(nil)
