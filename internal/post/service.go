// Package post は投稿の作成・一覧・取得と、コメント追加・いいねトグルのドメインロジックを提供する。
package post

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/pictogram/internal/feed"
	"github.com/hitoshi/pictogram/internal/metrics"
	"github.com/hitoshi/pictogram/internal/model"
	"github.com/hitoshi/pictogram/internal/repository"
	"github.com/hitoshi/pictogram/internal/security"
)

// AddPostInput は投稿作成の入力。
type AddPostInput struct {
	Content string
	ImgURL  string
	Tags    []string
}

// Service はPost Aggregatorのサービス層。
type Service struct {
	postRepo  repository.PostRepository
	userRepo  repository.UserRepository
	listing   *feed.ListingCache
	sanitizer security.ContentSanitizerService
	metrics   metrics.MetricsCollector
	timeout   time.Duration
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// timeoutは一覧の組み立て1回あたりの上限で、0以下なら上限なし。
func NewService(
	postRepo repository.PostRepository,
	userRepo repository.UserRepository,
	listing *feed.ListingCache,
	sanitizer security.ContentSanitizerService,
	collector metrics.MetricsCollector,
	timeout time.Duration,
) *Service {
	return &Service{
		postRepo:  postRepo,
		userRepo:  userRepo,
		listing:   listing,
		sanitizer: sanitizer,
		metrics:   collector,
		timeout:   timeout,
		now:       time.Now,
	}
}

// AddPost は投稿を作成し、投稿IDを返す。
// 作成後に投稿一覧キャッシュを無効化する。無効化の失敗は記録のみで、作成は成功として扱う。
func (s *Service) AddPost(ctx context.Context, authorID string, in AddPostInput) (string, error) {
	content := s.sanitizer.Sanitize(in.Content)
	if content == "" {
		return "", model.NewEmptyContentError()
	}
	imgURL := strings.TrimSpace(in.ImgURL)
	if imgURL == "" {
		return "", model.NewMissingImageError()
	}

	now := s.now().UTC()
	p := &model.Post{
		ID:        model.NewID(),
		AuthorID:  authorID,
		Content:   content,
		ImgURL:    imgURL,
		Tags:      normalizeTags(in.Tags),
		Comments:  []model.Comment{},
		Likes:     []model.Like{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.postRepo.Create(ctx, p); err != nil {
		return "", fmt.Errorf("投稿の作成に失敗しました: %w", err)
	}

	if err := s.listing.Invalidate(ctx); err != nil {
		s.metrics.RecordCacheInvalidationFailure()
		slog.Error("投稿一覧キャッシュの無効化に失敗しました",
			slog.String("post_id", p.ID),
			slog.String("key", feed.GenerationKey),
			slog.Any("error", err),
		)
	}

	slog.Info("投稿を作成しました", slog.String("post_id", p.ID), slog.String("author_id", authorID))
	return p.ID, nil
}

// ListPosts は全投稿を投稿者と結合してcreated_at降順で返す。
func (s *Service) ListPosts(ctx context.Context) ([]model.PostView, error) {
	return s.listing.Load(ctx, func(ctx context.Context) ([]model.PostView, error) {
		ctx, cancel := s.withTimeout(ctx)
		defer cancel()

		views, err := s.postRepo.ListWithAuthors(ctx)
		if err != nil {
			return nil, fmt.Errorf("投稿一覧の取得に失敗しました: %w", err)
		}
		return views, nil
	})
}

// GetPostByID は指定IDの投稿を投稿者と結合して返す。
func (s *Service) GetPostByID(ctx context.Context, id string) (*model.PostView, error) {
	if !model.IsValidID(id) {
		return nil, model.NewPostNotFoundError(id)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	view, err := s.postRepo.FindWithAuthor(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	if view == nil {
		return nil, model.NewPostNotFoundError(id)
	}
	return view, nil
}

// AddComment は投稿の末尾にコメントを追加する。
// コメントのユーザー名は作成時点の値を保存する。
func (s *Service) AddComment(ctx context.Context, postID, authorID, content string) (*model.Comment, error) {
	content = s.sanitizer.Sanitize(content)
	if content == "" {
		return nil, model.NewEmptyContentError()
	}
	if !model.IsValidID(postID) {
		return nil, model.NewPostNotFoundError(postID)
	}

	author, err := s.findAuthor(ctx, authorID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	comment := model.Comment{
		ID:        model.NewID(),
		AuthorID:  author.ID,
		Username:  author.Username,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.postRepo.AppendComment(ctx, postID, comment); err != nil {
		if errors.Is(err, repository.ErrPostNotFound) {
			return nil, model.NewPostNotFoundError(postID)
		}
		return nil, fmt.Errorf("コメントの追加に失敗しました: %w", err)
	}
	return &comment, nil
}

// ToggleLike はauthorIDのいいねを付け外しし、結果を返す。
func (s *Service) ToggleLike(ctx context.Context, postID, authorID string) (model.LikeAction, error) {
	if !model.IsValidID(postID) {
		return "", model.NewPostNotFoundError(postID)
	}
	author, err := s.findAuthor(ctx, authorID)
	if err != nil {
		return "", err
	}

	now := s.now().UTC()
	action, err := s.postRepo.ToggleLike(ctx, postID, model.Like{
		AuthorID:  author.ID,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		if errors.Is(err, repository.ErrPostNotFound) {
			return "", model.NewPostNotFoundError(postID)
		}
		return "", fmt.Errorf("いいねの更新に失敗しました: %w", err)
	}

	s.metrics.RecordLikeToggle(string(action))
	return action, nil
}

func (s *Service) findAuthor(ctx context.Context, authorID string) (*model.User, error) {
	if !model.IsValidID(authorID) {
		return nil, model.NewUserNotFoundError(authorID)
	}
	user, err := s.userRepo.FindByID(ctx, authorID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError(authorID)
	}
	return user, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// normalizeTags は各タグの前後の空白を除き、空のタグを取り除く。
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
