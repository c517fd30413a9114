// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, not_found, conflict, auth, upstream, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// エラーカテゴリ
const (
	CategoryValidation = "validation"
	CategoryNotFound   = "not_found"
	CategoryConflict   = "conflict"
	CategoryAuth       = "auth"
	CategoryUpstream   = "upstream"
	CategorySystem     = "system"
)

// 定義済みエラーコード
const (
	ErrCodeRequiredField      = "REQUIRED_FIELD"
	ErrCodeInvalidEmail       = "INVALID_EMAIL"
	ErrCodePasswordTooLong    = "PASSWORD_TOO_LONG"
	ErrCodeEmptyContent       = "EMPTY_CONTENT"
	ErrCodeMissingImage       = "MISSING_IMAGE"
	ErrCodeDuplicateEmail     = "DUPLICATE_EMAIL"
	ErrCodeDuplicateUsername  = "DUPLICATE_USERNAME"
	ErrCodeSelfFollow         = "SELF_FOLLOW"
	ErrCodeAlreadyFollowing   = "ALREADY_FOLLOWING"
	ErrCodeNotFollowing       = "NOT_FOLLOWING"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodePostNotFound       = "POST_NOT_FOUND"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeUpstream           = "UPSTREAM_ERROR"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// AsAPIError はerrのチェーンからAPIErrorを取り出す。
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// HasCode はerrが指定コードのAPIErrorであるかを返す。
func HasCode(err error, code string) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Code == code
}

// NewRequiredFieldError は必須項目が未入力の場合のエラーを生成する。
func NewRequiredFieldError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeRequiredField,
		Message:  fmt.Sprintf("%sは必須です。", field),
		Category: CategoryValidation,
		Action:   fmt.Sprintf("%sを入力してください。", field),
	}
}

// NewInvalidEmailError はメールアドレスの形式が不正な場合のエラーを生成する。
func NewInvalidEmailError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmail,
		Message:  fmt.Sprintf("メールアドレスの形式が正しくありません: %s", email),
		Category: CategoryValidation,
		Action:   "name@example.com の形式で入力してください。",
	}
}

// NewPasswordTooLongError はパスワードが上限バイト数を超える場合のエラーを生成する。
func NewPasswordTooLongError(maxBytes int) *APIError {
	return &APIError{
		Code:     ErrCodePasswordTooLong,
		Message:  fmt.Sprintf("パスワードが長すぎます（最大%dバイト）。", maxBytes),
		Category: CategoryValidation,
		Action:   "より短いパスワードを入力してください。",
	}
}

// NewEmptyContentError は本文が空の場合のエラーを生成する。
func NewEmptyContentError() *APIError {
	return &APIError{
		Code:     ErrCodeEmptyContent,
		Message:  "本文が入力されていません。",
		Category: CategoryValidation,
		Action:   "本文を入力してください。",
	}
}

// NewMissingImageError は画像URLが未指定の場合のエラーを生成する。
func NewMissingImageError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingImage,
		Message:  "画像URLが指定されていません。",
		Category: CategoryValidation,
		Action:   "投稿する画像のURLを指定してください。",
	}
}

// NewDuplicateEmailError はメールアドレスが登録済みの場合のエラーを生成する。
func NewDuplicateEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateEmail,
		Message:  "このメールアドレスは既に登録されています。",
		Category: CategoryConflict,
		Action:   "別のメールアドレスを使用するか、ログインしてください。",
	}
}

// NewDuplicateUsernameError はユーザー名が使用済みの場合のエラーを生成する。
func NewDuplicateUsernameError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateUsername,
		Message:  "このユーザー名は既に使われています。",
		Category: CategoryConflict,
		Action:   "別のユーザー名を指定してください。",
	}
}

// NewSelfFollowError は自分自身をフォローしようとした場合のエラーを生成する。
func NewSelfFollowError() *APIError {
	return &APIError{
		Code:     ErrCodeSelfFollow,
		Message:  "自分自身をフォローすることはできません。",
		Category: CategoryConflict,
		Action:   "他のユーザーを指定してください。",
	}
}

// NewAlreadyFollowingError は既にフォロー済みの場合のエラーを生成する。
func NewAlreadyFollowingError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyFollowing,
		Message:  "このユーザーは既にフォローしています。",
		Category: CategoryConflict,
		Action:   "フォロー状態を確認してください。",
	}
}

// NewNotFollowingError はフォローしていないユーザーをフォロー解除しようとした場合のエラーを生成する。
func NewNotFollowingError() *APIError {
	return &APIError{
		Code:     ErrCodeNotFollowing,
		Message:  "このユーザーはフォローしていません。",
		Category: CategoryConflict,
		Action:   "フォロー状態を確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError(userID string) *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  fmt.Sprintf("ユーザーが見つかりません: %s", userID),
		Category: CategoryNotFound,
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewPostNotFoundError は投稿が見つからない場合のエラーを生成する。
func NewPostNotFoundError(postID string) *APIError {
	return &APIError{
		Code:     ErrCodePostNotFound,
		Message:  fmt.Sprintf("投稿が見つかりません: %s", postID),
		Category: CategoryNotFound,
		Action:   "投稿IDを確認してください。",
	}
}

// NewInvalidCredentialsError はログイン失敗時のエラーを生成する。
// メールアドレスの未登録とパスワード誤りを区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: CategoryAuth,
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewUnauthorizedError は未認証リクエストのエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: CategoryAuth,
		Action:   "ログインしてください。",
	}
}

// NewUpstreamError はストアへの接続失敗・タイムアウト時のエラーを生成する。
// 原因はログのみに記録する。
func NewUpstreamError() *APIError {
	return &APIError{
		Code:     ErrCodeUpstream,
		Message:  "データストアに接続できませんでした。",
		Category: CategoryUpstream,
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーの統一表現を生成する。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: CategorySystem,
		Action:   "しばらく待ってから再度お試しください。",
	}
}
