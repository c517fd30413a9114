// Package graph はフォロー・フォロー解除と、フォロー関係と投稿を結合したユーザービューの組み立てを提供する。
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/pictogram/internal/model"
	"github.com/hitoshi/pictogram/internal/repository"
)

// searchConcurrency は検索結果の結合を並行実行する上限。
const searchConcurrency = 4

// UserSearcher はユーザー検索インターフェース。空白のみの検索語には空の結果を返す。
type UserSearcher interface {
	Search(ctx context.Context, term string) ([]*model.User, error)
}

// Service はGraph Aggregatorのサービス層。
type Service struct {
	userRepo   repository.UserRepository
	followRepo repository.FollowRepository
	postRepo   repository.PostRepository
	searcher   UserSearcher
	timeout    time.Duration
	now        func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// timeoutは結合読み取り1回あたりの上限で、0以下なら上限なし。
func NewService(
	userRepo repository.UserRepository,
	followRepo repository.FollowRepository,
	postRepo repository.PostRepository,
	searcher UserSearcher,
	timeout time.Duration,
) *Service {
	return &Service{
		userRepo:   userRepo,
		followRepo: followRepo,
		postRepo:   postRepo,
		searcher:   searcher,
		timeout:    timeout,
		now:        time.Now,
	}
}

// Follow はfollowerIDがfollowingIDをフォローするエッジを作成する。
func (s *Service) Follow(ctx context.Context, followerID, followingID string) (*model.FollowEdge, error) {
	if followerID == followingID {
		return nil, model.NewSelfFollowError()
	}

	for _, id := range []string{followerID, followingID} {
		if err := s.requireUser(ctx, id); err != nil {
			return nil, err
		}
	}

	existing, err := s.followRepo.Find(ctx, followerID, followingID)
	if err != nil {
		return nil, fmt.Errorf("フォロー関係の取得に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewAlreadyFollowingError()
	}

	now := s.now().UTC()
	edge := &model.FollowEdge{
		ID:          model.NewID(),
		FollowerID:  followerID,
		FollowingID: followingID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.followRepo.Create(ctx, edge); err != nil {
		if errors.Is(err, repository.ErrDuplicateFollow) {
			return nil, model.NewAlreadyFollowingError()
		}
		return nil, fmt.Errorf("フォロー関係の作成に失敗しました: %w", err)
	}

	slog.Info("フォローしました",
		slog.String("follower_id", followerID),
		slog.String("following_id", followingID),
	)
	return edge, nil
}

// Unfollow はフォローエッジを削除する。エッジが存在しない場合はNOT_FOLLOWINGを返す。
func (s *Service) Unfollow(ctx context.Context, followerID, followingID string) error {
	if !model.IsValidID(followerID) || !model.IsValidID(followingID) {
		return model.NewNotFollowingError()
	}

	deleted, err := s.followRepo.Delete(ctx, followerID, followingID)
	if err != nil {
		return fmt.Errorf("フォロー関係の削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewNotFollowingError()
	}

	slog.Info("フォローを解除しました",
		slog.String("follower_id", followerID),
		slog.String("following_id", followingID),
	)
	return nil
}

// GetEnrichedUser はユーザーにフォロワー、フォロー中ユーザー、投稿を結合したビューを返す。
func (s *Service) GetEnrichedUser(ctx context.Context, id string) (*model.UserView, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

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

	return s.enrich(ctx, user)
}

// SearchUsers はnameまたはusernameに部分一致するユーザーを結合ビューで返す。
// 検索者自身も結果から除外しない。
func (s *Service) SearchUsers(ctx context.Context, term string) ([]*model.UserView, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	users, err := s.searcher.Search(ctx, term)
	if err != nil {
		return nil, err
	}

	views := make([]*model.UserView, len(users))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(searchConcurrency)
	for i, u := range users {
		g.Go(func() error {
			v, err := s.enrich(gctx, u)
			if err != nil {
				return err
			}
			views[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return views, nil
}

func (s *Service) enrich(ctx context.Context, user *model.User) (*model.UserView, error) {
	var (
		followers []model.UserSummary
		following []model.UserSummary
		posts     []model.Post
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ids, err := s.followRepo.ListFollowerIDs(gctx, user.ID)
		if err != nil {
			return fmt.Errorf("フォロワーの取得に失敗しました: %w", err)
		}
		followers, err = s.resolveSummaries(gctx, ids)
		return err
	})
	g.Go(func() error {
		ids, err := s.followRepo.ListFollowingIDs(gctx, user.ID)
		if err != nil {
			return fmt.Errorf("フォロー中ユーザーの取得に失敗しました: %w", err)
		}
		following, err = s.resolveSummaries(gctx, ids)
		return err
	})
	g.Go(func() error {
		var err error
		posts, err = s.postRepo.ListByAuthor(gctx, user.ID)
		if err != nil {
			return fmt.Errorf("投稿の取得に失敗しました: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if posts == nil {
		posts = []model.Post{}
	}
	return &model.UserView{
		UserSummary: user.Summary(),
		Followers:   followers,
		Following:   following,
		Posts:       posts,
	}, nil
}

// resolveSummaries はID列をユーザー要約に解決する。
// 順序はidsの順を保ち、解決できないIDは読み飛ばす。
func (s *Service) resolveSummaries(ctx context.Context, ids []string) ([]model.UserSummary, error) {
	summaries := []model.UserSummary{}
	if len(ids) == 0 {
		return summaries, nil
	}

	users, err := s.userRepo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの一括取得に失敗しました: %w", err)
	}
	byID := make(map[string]*model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	for _, id := range ids {
		u, ok := byID[id]
		if !ok {
			slog.Warn("存在しないユーザーへのフォロー関係を読み飛ばしました", "user_id", id)
			continue
		}
		summaries = append(summaries, u.Summary())
	}
	return summaries, nil
}

func (s *Service) requireUser(ctx context.Context, id string) error {
	if !model.IsValidID(id) {
		return model.NewUserNotFoundError(id)
	}
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError(id)
	}
	return nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}
