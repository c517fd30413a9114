// Package feed は投稿一覧（グローバルフィード）のリードスルーキャッシュを提供する。
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"

	"github.com/hitoshi/pictogram/internal/cache"
	"github.com/hitoshi/pictogram/internal/metrics"
	"github.com/hitoshi/pictogram/internal/model"
)

// ListingKey は投稿一覧キャッシュのキー接頭辞。実際のペイロードは世代番号付きのキーに置かれる。
const ListingKey = "posts:listing"

// GenerationKey は投稿一覧キャッシュの世代番号を保持するキー。
// Invalidateで世代を進めると、それ以前の世代で計算された一覧は参照されなくなる。
const GenerationKey = ListingKey + ":generation"

// ComputeFunc はキャッシュミス時に投稿一覧をストアから組み立てる関数。
type ComputeFunc func(ctx context.Context) ([]model.PostView, error)

// ListingCache は投稿一覧のリードスルーキャッシュ。
//
// キャッシュの障害は読み取りを失敗させない（フェイルオープン）。
// Get失敗や壊れたペイロードはミスとして扱い、ストアから再計算する。
// 書き戻しの失敗はログに残すだけで呼び出し元には返さない。
//
// 一覧は計算開始前に読んだ世代のキーへ書き戻す。計算中にInvalidateが走った場合、
// 書き戻された一覧は古い世代に属するため以後の読み取りでは使われない。
type ListingCache struct {
	store   cache.Store
	metrics metrics.MetricsCollector
}

// NewListingCache はListingCacheを生成する。
func NewListingCache(store cache.Store, collector metrics.MetricsCollector) *ListingCache {
	return &ListingCache{store: store, metrics: collector}
}

// Load はキャッシュ済みの投稿一覧を返す。キャッシュにない場合はcomputeの結果を書き戻して返す。
func (c *ListingCache) Load(ctx context.Context, compute ComputeFunc) ([]model.PostView, error) {
	gen, ok := c.generation(ctx)
	if !ok {
		// 世代が分からない状態で書き戻すと無効化済みの一覧を残しうるため、計算結果をそのまま返す
		c.metrics.RecordCacheMiss()
		return computeViews(ctx, compute)
	}

	key := listingKey(gen)
	if views, ok := c.lookup(ctx, key); ok {
		c.metrics.RecordCacheHit()
		return views, nil
	}
	c.metrics.RecordCacheMiss()

	views, err := computeViews(ctx, compute)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(views)
	if err != nil {
		c.metrics.RecordCacheError("encode")
		slog.Warn("投稿一覧キャッシュ: シリアライズ失敗", "key", key, "error", err)
		return views, nil
	}
	if err := c.store.Set(ctx, key, payload); err != nil {
		c.metrics.RecordCacheError("set")
		slog.Warn("投稿一覧キャッシュ: 書き込み失敗", "key", key, "error", err)
		return views, nil
	}

	// 書き戻しの間に世代が進んでいれば、もう参照されないキーを片付ける
	if current, ok := c.generation(ctx); ok && current != gen {
		c.removeStale(ctx, key)
	}
	return views, nil
}

// Invalidate は世代を進めて投稿一覧のキャッシュを無効化する。
// 世代を進められなかった場合のみエラーを返す。旧世代のキー削除は失敗しても無視する。
func (c *ListingCache) Invalidate(ctx context.Context) error {
	gen, err := c.store.Incr(ctx, GenerationKey)
	if err != nil {
		c.metrics.RecordCacheError("invalidate")
		return err
	}
	c.removeStale(ctx, listingKey(gen-1))
	return nil
}

// generation は現在の世代番号を返す。未設定なら0。読み出せない場合はfalseを返す。
func (c *ListingCache) generation(ctx context.Context) (int64, bool) {
	raw, err := c.store.Get(ctx, GenerationKey)
	if errors.Is(err, cache.ErrMiss) {
		return 0, true
	}
	if err != nil {
		c.metrics.RecordCacheError("generation")
		slog.Warn("投稿一覧キャッシュ: 世代の読み出し失敗のためストアから取得", "key", GenerationKey, "error", err)
		return 0, false
	}
	gen, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		c.metrics.RecordCacheError("generation")
		slog.Warn("投稿一覧キャッシュ: 不正な世代番号のためストアから取得", "key", GenerationKey, "error", err)
		return 0, false
	}
	return gen, true
}

// lookup はキャッシュを読み出す。利用可能な値がない場合はfalseを返す。
func (c *ListingCache) lookup(ctx context.Context, key string) ([]model.PostView, bool) {
	payload, err := c.store.Get(ctx, key)
	if errors.Is(err, cache.ErrMiss) {
		return nil, false
	}
	if err != nil {
		c.metrics.RecordCacheError("get")
		slog.Warn("投稿一覧キャッシュ: 読み出し失敗のためストアから取得", "key", key, "error", err)
		return nil, false
	}

	var views []model.PostView
	if err := json.Unmarshal(payload, &views); err != nil || views == nil {
		c.metrics.RecordCacheError("decode")
		slog.Warn("投稿一覧キャッシュ: 不正なペイロードのためストアから取得", "key", key, "error", err)
		return nil, false
	}
	return views, true
}

func (c *ListingCache) removeStale(ctx context.Context, key string) {
	if err := c.store.Delete(ctx, key); err != nil {
		c.metrics.RecordCacheError("delete")
		slog.Warn("投稿一覧キャッシュ: 旧世代の削除失敗", "key", key, "error", err)
	}
}

func computeViews(ctx context.Context, compute ComputeFunc) ([]model.PostView, error) {
	views, err := compute(ctx)
	if err != nil {
		return nil, err
	}
	if views == nil {
		views = []model.PostView{}
	}
	return views, nil
}

func listingKey(gen int64) string {
	return ListingKey + ":" + strconv.FormatInt(gen, 10)
}
