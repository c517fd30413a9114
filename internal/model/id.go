package model

import "github.com/google/uuid"

// NewID は新しいエンティティIDを生成する。
func NewID() string {
	return uuid.New().String()
}

// IsValidID はidが正規形（ハイフン区切り36文字）のUUIDかを返す。
// 不正な形式のIDはストアに問い合わせず未検出として扱う。
func IsValidID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
