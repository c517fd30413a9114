// Package identity はユーザー登録・資格情報の検証・ユーザー検索のドメインロジックを提供する。
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/pictogram/internal/model"
	"github.com/hitoshi/pictogram/internal/repository"
)

// MaxPasswordBytes はbcryptがハッシュ化できるパスワードの最大バイト数。
const MaxPasswordBytes = 72

// RegisterInput はユーザー登録の入力。
type RegisterInput struct {
	Name     string
	Username string
	Email    string
	Password string
}

// Service はIdentity Storeのサービス層。
type Service struct {
	userRepo   repository.UserRepository
	bcryptCost int
	dummyHash  []byte
	now        func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// bcryptCostが範囲外の場合はbcrypt.DefaultCostを使用する。
func NewService(userRepo repository.UserRepository, bcryptCost int) *Service {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	// 未登録メールアドレスでも同じ比較コストを払うためのハッシュ
	dummy, err := bcrypt.GenerateFromPassword([]byte("pictogram-dummy-password"), bcryptCost)
	if err != nil {
		slog.Error("ダミーハッシュの生成に失敗しました", "error", err)
	}
	return &Service{
		userRepo:   userRepo,
		bcryptCost: bcryptCost,
		dummyHash:  dummy,
		now:        time.Now,
	}
}

// Register はユーザーを登録し、生成したユーザーIDを返す。
// usernameは小文字に揃えて保存するため、大文字小文字違いの登録は重複になる。
func (s *Service) Register(ctx context.Context, in RegisterInput) (string, error) {
	name := strings.TrimSpace(in.Name)
	username := normalizeUsername(in.Username)
	email := strings.TrimSpace(in.Email)
	password := in.Password

	switch {
	case name == "":
		return "", model.NewRequiredFieldError("name")
	case email == "":
		return "", model.NewRequiredFieldError("email")
	case username == "":
		return "", model.NewRequiredFieldError("username")
	case strings.TrimSpace(password) == "":
		return "", model.NewRequiredFieldError("password")
	case len(password) > MaxPasswordBytes:
		return "", model.NewPasswordTooLongError(MaxPasswordBytes)
	}

	normalized, ok := normalizeEmail(email)
	if !ok {
		return "", model.NewInvalidEmailError(email)
	}

	existing, err := s.userRepo.FindByEmail(ctx, normalized)
	if err != nil {
		return "", fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if existing != nil {
		return "", model.NewDuplicateEmailError()
	}

	existing, err = s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return "", fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if existing != nil {
		return "", model.NewDuplicateUsernameError()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}

	now := s.now().UTC()
	user := &model.User{
		ID:           model.NewID(),
		Name:         name,
		Username:     username,
		Email:        normalized,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateEmail):
			return "", model.NewDuplicateEmailError()
		case errors.Is(err, repository.ErrDuplicateUsername):
			return "", model.NewDuplicateUsernameError()
		}
		return "", fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	slog.Info("ユーザーを登録しました", slog.String("user_id", user.ID))
	return user.ID, nil
}

// VerifyCredentials はメールアドレスとパスワードを検証し、ユーザーIDを返す。
// 未登録とパスワード誤りは同じエラーになる。
func (s *Service) VerifyCredentials(ctx context.Context, email, password string) (string, error) {
	normalized, ok := normalizeEmail(strings.TrimSpace(email))
	if !ok || password == "" {
		s.compareDummy(password)
		return "", model.NewInvalidCredentialsError()
	}

	user, err := s.userRepo.FindByEmail(ctx, normalized)
	if err != nil {
		return "", fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		s.compareDummy(password)
		return "", model.NewInvalidCredentialsError()
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", model.NewInvalidCredentialsError()
	}
	return user.ID, nil
}

func (s *Service) compareDummy(password string) {
	if s.dummyHash != nil {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
	}
}

// FindByID は指定IDのユーザーを返す。
func (s *Service) FindByID(ctx context.Context, id string) (*model.User, error) {
	if !model.IsValidID(id) {
		return nil, model.NewUserNotFoundError(id)
	}
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError(id)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを返す。
func (s *Service) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	normalized, ok := normalizeEmail(strings.TrimSpace(email))
	if !ok {
		return nil, model.NewUserNotFoundError(email)
	}
	user, err := s.userRepo.FindByEmail(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError(email)
	}
	return user, nil
}

// Search はnameまたはusernameに部分一致するユーザーを返す。
// 空白のみの検索語は空の結果を返す。
func (s *Service) Search(ctx context.Context, term string) ([]*model.User, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return []*model.User{}, nil
	}
	users, err := s.userRepo.SearchByNameOrUsername(ctx, term)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの検索に失敗しました: %w", err)
	}
	return users, nil
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// normalizeEmail は表示名なしのアドレスのみを受け付け、小文字化して返す。
func normalizeEmail(email string) (string, bool) {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Name != "" || addr.Address != email {
		return "", false
	}
	return strings.ToLower(addr.Address), true
}
