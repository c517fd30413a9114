// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// PasswordHashはIdentity Storeの外に出してはならない。
type User struct {
	ID           string
	Name         string
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Summary は認証情報を含まないユーザーの射影を返す。
func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:       u.ID,
		Name:     u.Name,
		Username: u.Username,
		Email:    u.Email,
	}
}

// UserSummary は他のビューに埋め込まれるユーザーの軽量表現。
// 資格情報のフィールドを持たないため、型レベルで秘匿が保証される。
type UserSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Principal は認証済みのリクエスト主体を表す。
type Principal struct {
	ID       string
	Name     string
	Username string
	Email    string
}

// UserView はフォロワー、フォロー中ユーザー、投稿を結合したユーザーのビュー。
type UserView struct {
	UserSummary
	Followers []UserSummary
	Following []UserSummary
	Posts     []Post
}
