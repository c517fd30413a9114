package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hitoshi/pictogram/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoFollowRepo はMongoDBを使用したフォローエッジリポジトリ。
type MongoFollowRepo struct {
	coll *mongo.Collection
}

// NewMongoFollowRepo はMongoFollowRepoを生成する。
func NewMongoFollowRepo(db *mongo.Database) *MongoFollowRepo {
	return &MongoFollowRepo{coll: db.Collection(mongoFollowsCollection)}
}

// Create はフォローエッジを作成する。
func (r *MongoFollowRepo) Create(ctx context.Context, edge *model.FollowEdge) error {
	doc := followDocument{
		ID:          edge.ID,
		FollowerID:  edge.FollowerID,
		FollowingID: edge.FollowingID,
		CreatedAt:   edge.CreatedAt,
		UpdatedAt:   edge.UpdatedAt,
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) && strings.Contains(err.Error(), mongoFollowPairIndex) {
			return ErrDuplicateFollow
		}
		return fmt.Errorf("failed to insert follow: %w", err)
	}
	return nil
}

// Find はフォローエッジを取得する。見つからない場合はnilを返す。
func (r *MongoFollowRepo) Find(ctx context.Context, followerID, followingID string) (*model.FollowEdge, error) {
	var doc followDocument
	err := r.coll.FindOne(ctx, bson.M{"followerId": followerID, "followingId": followingID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find follow: %w", err)
	}
	return doc.toModel(), nil
}

// Delete はフォローエッジを削除する。削除できた場合にtrueを返す。
func (r *MongoFollowRepo) Delete(ctx context.Context, followerID, followingID string) (bool, error) {
	result, err := r.coll.DeleteOne(ctx, bson.M{"followerId": followerID, "followingId": followingID})
	if err != nil {
		return false, fmt.Errorf("failed to delete follow: %w", err)
	}
	return result.DeletedCount > 0, nil
}

// ListFollowerIDs はuserIDのフォロワーのIDをエッジ作成順で返す。
func (r *MongoFollowRepo) ListFollowerIDs(ctx context.Context, userID string) ([]string, error) {
	docs, err := r.list(ctx, bson.M{"followingId": userID})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.FollowerID)
	}
	return ids, nil
}

// ListFollowingIDs はuserIDがフォローしているユーザーのIDをエッジ作成順で返す。
func (r *MongoFollowRepo) ListFollowingIDs(ctx context.Context, userID string) ([]string, error) {
	docs, err := r.list(ctx, bson.M{"followerId": userID})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.FollowingID)
	}
	return ids, nil
}

func (r *MongoFollowRepo) list(ctx context.Context, filter bson.M) ([]followDocument, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list follows: %w", err)
	}
	var docs []followDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode follows: %w", err)
	}
	return docs, nil
}

// compile-time interface check
var _ FollowRepository = (*MongoFollowRepo)(nil)
