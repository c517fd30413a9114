package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/pictogram/internal/model"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// createdAtの文字列比較で作成順に並ぶよう、UTCかつ固定桁で保存する。
const neo4jTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Neo4jFollowRepo はNeo4jを使用したフォローエッジリポジトリ。
// (:User {id})-[:FOLLOWS {id, createdAt}]->(:User {id}) の形で保持する。
// ユーザー本体はUserRepository側のストアにあり、ここではIDのみを持つ。
type Neo4jFollowRepo struct {
	driver neo4j.DriverWithContext
}

// NewNeo4jFollowRepo はNeo4jFollowRepoを生成する。
func NewNeo4jFollowRepo(driver neo4j.DriverWithContext) *Neo4jFollowRepo {
	return &Neo4jFollowRepo{driver: driver}
}

// Create はFOLLOWSリレーションをMERGEする。既存の場合はErrDuplicateFollowを返す。
func (r *Neo4jFollowRepo) Create(ctx context.Context, edge *model.FollowEdge) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MERGE (a:User {id: $followerID})
		MERGE (b:User {id: $followingID})
		MERGE (a)-[f:FOLLOWS]->(b)
		ON CREATE SET
			f.id = $id,
			f.createdAt = $createdAt,
			f.updatedAt = $createdAt
		RETURN f.id = $id AS created
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"followerID":  edge.FollowerID,
		"followingID": edge.FollowingID,
		"id":          edge.ID,
		"createdAt":   edge.CreatedAt.UTC().Format(neo4jTimeLayout),
	})
	if err != nil {
		return fmt.Errorf("failed to merge follow: %w", err)
	}

	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return fmt.Errorf("failed to merge follow: %w", err)
		}
		return fmt.Errorf("failed to merge follow: empty result")
	}
	created, _ := result.Record().Get("created")
	if ok, _ := created.(bool); !ok {
		return ErrDuplicateFollow
	}
	return nil
}

// Find はFOLLOWSリレーションを取得する。見つからない場合はnilを返す。
func (r *Neo4jFollowRepo) Find(ctx context.Context, followerID, followingID string) (*model.FollowEdge, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (:User {id: $followerID})-[f:FOLLOWS]->(:User {id: $followingID})
		RETURN f.id AS id, f.createdAt AS createdAt, f.updatedAt AS updatedAt
		LIMIT 1
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"followerID":  followerID,
		"followingID": followingID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find follow: %w", err)
	}

	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, fmt.Errorf("failed to find follow: %w", err)
		}
		return nil, nil
	}

	record := result.Record()
	return &model.FollowEdge{
		ID:          stringFromRecord(record, "id"),
		FollowerID:  followerID,
		FollowingID: followingID,
		CreatedAt:   timeFromRecord(record, "createdAt"),
		UpdatedAt:   timeFromRecord(record, "updatedAt"),
	}, nil
}

// Delete はFOLLOWSリレーションを削除する。削除できた場合にtrueを返す。
func (r *Neo4jFollowRepo) Delete(ctx context.Context, followerID, followingID string) (bool, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MATCH (:User {id: $followerID})-[f:FOLLOWS]->(:User {id: $followingID})
		WITH f, f.id AS id
		DELETE f
		RETURN count(id) AS deleted
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"followerID":  followerID,
		"followingID": followingID,
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete follow: %w", err)
	}

	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return false, fmt.Errorf("failed to delete follow: %w", err)
		}
		return false, nil
	}
	deleted, _ := result.Record().Get("deleted")
	n, _ := deleted.(int64)
	return n > 0, nil
}

// ListFollowerIDs はuserIDのフォロワーのIDをエッジ作成順で返す。
func (r *Neo4jFollowRepo) ListFollowerIDs(ctx context.Context, userID string) ([]string, error) {
	return r.listIDs(ctx, `
		MATCH (other:User)-[f:FOLLOWS]->(:User {id: $userID})
		RETURN other.id AS id
		ORDER BY f.createdAt ASC, f.id ASC
	`, userID)
}

// ListFollowingIDs はuserIDがフォローしているユーザーのIDをエッジ作成順で返す。
func (r *Neo4jFollowRepo) ListFollowingIDs(ctx context.Context, userID string) ([]string, error) {
	return r.listIDs(ctx, `
		MATCH (:User {id: $userID})-[f:FOLLOWS]->(other:User)
		RETURN other.id AS id
		ORDER BY f.createdAt ASC, f.id ASC
	`, userID)
}

func (r *Neo4jFollowRepo) listIDs(ctx context.Context, query, userID string) ([]string, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, map[string]interface{}{"userID": userID})
	if err != nil {
		return nil, fmt.Errorf("failed to list follows: %w", err)
	}

	ids := []string{}
	for result.Next(ctx) {
		if id := stringFromRecord(result.Record(), "id"); id != "" {
			ids = append(ids, id)
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate follows: %w", err)
	}
	return ids, nil
}

func stringFromRecord(record *neo4j.Record, key string) string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}

// timeFromRecord はneo4jTimeLayoutで保存した時刻を読み出す。解釈できない場合はゼロ値。
func timeFromRecord(record *neo4j.Record, key string) time.Time {
	t, err := time.Parse(neo4jTimeLayout, stringFromRecord(record, key))
	if err != nil {
		return time.Time{}
	}
	return t
}

// compile-time interface check
var _ FollowRepository = (*Neo4jFollowRepo)(nil)
