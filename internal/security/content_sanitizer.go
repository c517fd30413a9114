// Package security はユーザー入力の正規化を提供する。
//
// 投稿本文・コメント本文はプレーンテキストとして入力どおりに保存する。
// マークアップの除去やエスケープは行わず、表示側がテキストとして扱う。
package security

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// ContentSanitizerService はユーザー投稿テキストの正規化機能のインターフェース。
type ContentSanitizerService interface {
	// Sanitize は前後の空白を取り除いた本文を返す。空白のみの入力には空文字列を返す。
	// 不正なUTF-8と改行・タブ以外の制御文字は取り除き、NFCに正規化する。
	// それ以外の文字（<や&を含む）はそのまま残す。
	Sanitize(raw string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
type contentSanitizer struct{}

// NewContentSanitizer はContentSanitizerServiceを生成する。
func NewContentSanitizer() ContentSanitizerService {
	return contentSanitizer{}
}

func (contentSanitizer) Sanitize(raw string) string {
	text := strings.ToValidUTF8(raw, "")
	text = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, text)
	return strings.TrimSpace(norm.NFC.String(text))
}
