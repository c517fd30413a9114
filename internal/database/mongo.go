package database

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// OpenMongo はMongoDBクライアントを生成し、指定データベースを返す。
// mongo.Connectは接続を確立しないため、疎通確認にはMongoPinger.PingContextを使用すること。
func OpenMongo(ctx context.Context, uri, database string) (*mongo.Client, *mongo.Database, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect mongodb: %w", err)
	}
	return client, client.Database(database), nil
}

// EnsureMongoIndexes はコレクションのインデックスを作成する。
// 既に同名・同定義のインデックスがある場合は何もしない。
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		"users": {
			{
				Keys:    bson.D{{Key: "email", Value: 1}},
				Options: options.Index().SetName("users_email_key").SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "username", Value: 1}},
				Options: options.Index().SetName("users_username_key").SetUnique(true),
			},
		},
		"follows": {
			{
				Keys:    bson.D{{Key: "followerId", Value: 1}, {Key: "followingId", Value: 1}},
				Options: options.Index().SetName("follows_follower_following_key").SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "followingId", Value: 1}, {Key: "createdAt", Value: 1}},
				Options: options.Index().SetName("idx_follows_following_id"),
			},
		},
		"posts": {
			{
				Keys:    bson.D{{Key: "createdAt", Value: -1}},
				Options: options.Index().SetName("idx_posts_created_at"),
			},
			{
				Keys:    bson.D{{Key: "authorId", Value: 1}, {Key: "createdAt", Value: -1}},
				Options: options.Index().SetName("idx_posts_author_id"),
			},
		},
	}

	for coll, models := range indexes {
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

// MongoPinger はMongoDBクライアントをHealthCheckerとして扱うためのアダプタ。
type MongoPinger struct {
	Client *mongo.Client
}

// PingContext はプライマリへの疎通を確認する。
func (p MongoPinger) PingContext(ctx context.Context) error {
	return p.Client.Ping(ctx, nil)
}
