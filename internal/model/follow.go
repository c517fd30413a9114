package model

import "time"

// FollowEdge は「FollowerIDがFollowingIDをフォローしている」ことを表す有向エッジ。
// (FollowerID, FollowingID) の組で一意、FollowerID != FollowingID。
// 作成と削除のみで更新は行わない。
type FollowEdge struct {
	ID          string
	FollowerID  string
	FollowingID string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
