// Package auth はログイン（資格情報の検証とトークン発行）とトークン検証を提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/pictogram/internal/model"
)

// CredentialVerifier は資格情報の検証インターフェース。
type CredentialVerifier interface {
	VerifyCredentials(ctx context.Context, email, password string) (string, error)
}

// UserFinder はトークン主体の解決に使うユーザー取得インターフェース。
// 見つからない場合はUSER_NOT_FOUNDのAPIErrorを返す。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	Secret []byte // HS256署名鍵
	Issuer string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	credentials CredentialVerifier
	users       UserFinder
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(credentials CredentialVerifier, users UserFinder, config ServiceConfig) *Service {
	return &Service{
		credentials: credentials,
		users:       users,
		config:      config,
		now:         time.Now,
	}
}

// Login は資格情報を検証し、セッショントークンを発行する。
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	userID, err := s.credentials.VerifyCredentials(ctx, email, password)
	if err != nil {
		return "", err
	}

	token, err := s.Issue(userID)
	if err != nil {
		return "", err
	}

	slog.Info("ログインしました", slog.String("user_id", userID))
	return token, nil
}

// Issue はユーザーIDを主体とする署名済みトークンを発行する。
// 有効期限は設定しない。
func (s *Service) Issue(userID string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:  userID,
		Issuer:   s.config.Issuer,
		IssuedAt: jwt.NewNumericDate(s.now()),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.config.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Authenticate はトークンを検証し、主体のユーザーを返す。
// 検証に失敗した場合、または主体のユーザーが存在しない場合はUNAUTHORIZEDを返す。
func (s *Service) Authenticate(ctx context.Context, token string) (*model.Principal, error) {
	if token == "" {
		return nil, model.NewUnauthorizedError()
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.config.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.config.Issuer),
	)
	if err != nil {
		slog.Debug("トークンの検証に失敗しました", "error", err)
		return nil, model.NewUnauthorizedError()
	}
	if claims.Subject == "" {
		return nil, model.NewUnauthorizedError()
	}

	user, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		if model.HasCode(err, model.ErrCodeUserNotFound) {
			return nil, model.NewUnauthorizedError()
		}
		return nil, fmt.Errorf("failed to resolve token subject: %w", err)
	}

	return &model.Principal{
		ID:       user.ID,
		Name:     user.Name,
		Username: user.Username,
		Email:    user.Email,
	}, nil
}
