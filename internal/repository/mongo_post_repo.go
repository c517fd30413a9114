package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/pictogram/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoPostRepo はMongoDBを使用した投稿リポジトリ。
// 一覧は$lookupで投稿者を結合する集計パイプラインで取得する。
type MongoPostRepo struct {
	coll               *mongo.Collection
	aggregationTimeout time.Duration
}

// NewMongoPostRepo はMongoPostRepoを生成する。
// aggregationTimeoutは集計パイプライン1回あたりの上限時間。
func NewMongoPostRepo(db *mongo.Database, aggregationTimeout time.Duration) *MongoPostRepo {
	return &MongoPostRepo{
		coll:               db.Collection(mongoPostsCollection),
		aggregationTimeout: aggregationTimeout,
	}
}

// Create は投稿を作成する。
func (r *MongoPostRepo) Create(ctx context.Context, post *model.Post) error {
	if _, err := r.coll.InsertOne(ctx, newPostDocument(post)); err != nil {
		return fmt.Errorf("failed to insert post: %w", err)
	}
	return nil
}

// ListWithAuthors は全投稿を投稿者と結合してcreatedAt降順で返す。
func (r *MongoPostRepo) ListWithAuthors(ctx context.Context) ([]model.PostView, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$sort", Value: bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}}},
	}
	pipeline = append(pipeline, authorLookupStages()...)

	docs, err := r.aggregateViews(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	views := make([]model.PostView, 0, len(docs))
	for _, d := range docs {
		views = append(views, d.toModel())
	}
	return views, nil
}

// FindWithAuthor は指定IDの投稿を投稿者と結合して返す。見つからない場合はnilを返す。
func (r *MongoPostRepo) FindWithAuthor(ctx context.Context, id string) (*model.PostView, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"_id": id}}},
	}
	pipeline = append(pipeline, authorLookupStages()...)
	pipeline = append(pipeline, bson.D{{Key: "$limit", Value: 1}})

	docs, err := r.aggregateViews(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	view := docs[0].toModel()
	return &view, nil
}

// ListByAuthor は指定ユーザーの投稿をcreatedAt降順で返す。
func (r *MongoPostRepo) ListByAuthor(ctx context.Context, authorID string) ([]model.Post, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	cursor, err := r.coll.Find(ctx, bson.M{"authorId": authorID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts by author: %w", err)
	}

	var docs []postDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode posts: %w", err)
	}
	posts := make([]model.Post, 0, len(docs))
	for _, d := range docs {
		posts = append(posts, d.toModel())
	}
	return posts, nil
}

// AppendComment はコメントをcomments配列の末尾に$pushする。
func (r *MongoPostRepo) AppendComment(ctx context.Context, postID string, comment model.Comment) error {
	result, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": postID},
		bson.M{
			"$push": bson.M{"comments": newCommentDocument(comment)},
			"$set":  bson.M{"updatedAt": comment.CreatedAt},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to append comment: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrPostNotFound
	}
	return nil
}

// ToggleLike はいいねの有無を更新パイプライン付きのFindOneAndUpdateで反転させる。
// 判定と更新が単一ドキュメントの原子的操作になるため、並行トグルでもいいねが重複しない。
func (r *MongoPostRepo) ToggleLike(ctx context.Context, postID string, like model.Like) (model.LikeAction, error) {
	authorID := bson.M{"$literal": like.AuthorID}
	likes := bson.M{"$ifNull": bson.A{"$likes", bson.A{}}}

	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"likes": bson.M{"$cond": bson.M{
				"if": bson.M{"$in": bson.A{authorID, bson.M{"$ifNull": bson.A{"$likes.authorId", bson.A{}}}}},
				"then": bson.M{"$filter": bson.M{
					"input": likes,
					"as":    "l",
					"cond":  bson.M{"$ne": bson.A{"$$l.authorId", authorID}},
				}},
				"else": bson.M{"$concatArrays": bson.A{likes, bson.A{bson.M{"$literal": newLikeDocument(like)}}}},
			}},
			"updatedAt": like.UpdatedAt,
		}}},
	}

	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"likes": 1})

	var doc postDocument
	err := r.coll.FindOneAndUpdate(ctx, bson.M{"_id": postID}, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", ErrPostNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to toggle like: %w", err)
	}

	for _, l := range doc.Likes {
		if l.AuthorID == like.AuthorID {
			return model.LikeActionLiked, nil
		}
	}
	return model.LikeActionUnliked, nil
}

func (r *MongoPostRepo) aggregateViews(ctx context.Context, pipeline mongo.Pipeline) ([]postViewDocument, error) {
	if r.aggregationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.aggregationTimeout)
		defer cancel()
	}

	opts := options.Aggregate().SetAllowDiskUse(true)
	if r.aggregationTimeout > 0 {
		opts.SetMaxTime(r.aggregationTimeout)
	}

	cursor, err := r.coll.Aggregate(ctx, pipeline, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate posts: %w", err)
	}

	var docs []postViewDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode aggregated posts: %w", err)
	}
	return docs, nil
}

// authorLookupStages は投稿者を結合するステージを返す。投稿者が存在しない投稿は$unwindで除外される。
func authorLookupStages() mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$lookup", Value: bson.M{
			"from":         mongoUsersCollection,
			"localField":   "authorId",
			"foreignField": "_id",
			"as":           "author",
		}}},
		{{Key: "$unwind", Value: "$author"}},
	}
}

// compile-time interface check
var _ PostRepository = (*MongoPostRepo)(nil)
