// Package cache はキー・バリュー形式のキャッシュストアを提供する。
// 本番ではRedis、テストや単一プロセス構成ではメモリ実装を使用する。
package cache

import (
	"context"
	"errors"
)

// ErrMiss はキーが存在しないことを表す。
var ErrMiss = errors.New("cache miss")

// Store はキャッシュストアのインターフェース。
// 値は不透明なバイト列として扱い、TTLは持たない（明示的なDeleteでのみ消える）。
type Store interface {
	// Get はキーの値を返す。キーが存在しない場合はErrMissを返す。
	Get(ctx context.Context, key string) ([]byte, error)

	// Set はキーに値を書き込む。
	Set(ctx context.Context, key string, value []byte) error

	// Delete はキーを削除する。存在しないキーの削除はエラーにしない。
	Delete(ctx context.Context, key string) error

	// Incr はキーの整数値を原子的に1増やし、増加後の値を返す。
	// キーが存在しない場合は0として扱う。値は10進数の文字列で保存される。
	Incr(ctx context.Context, key string) (int64, error)
}
