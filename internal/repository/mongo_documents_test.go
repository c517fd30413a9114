package repository

import (
	"testing"
	"time"

	"github.com/hitoshi/pictogram/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestMongoRepos_ImplementInterfaces(t *testing.T) {
	var _ UserRepository = (*MongoUserRepo)(nil)
	var _ FollowRepository = (*MongoFollowRepo)(nil)
	var _ PostRepository = (*MongoPostRepo)(nil)
	var _ FollowRepository = (*Neo4jFollowRepo)(nil)
}

func TestPostDocument_NilSlicesBecomeEmpty(t *testing.T) {
	doc := newPostDocument(&model.Post{ID: "p1", AuthorID: "u1"})

	assert.NotNil(t, doc.Tags)
	assert.NotNil(t, doc.Comments)
	assert.NotNil(t, doc.Likes)

	raw, err := bson.Marshal(doc)
	require.NoError(t, err)

	var m bson.M
	require.NoError(t, bson.Unmarshal(raw, &m))
	assert.Equal(t, "p1", m["_id"])
	assert.IsType(t, bson.A{}, m["likes"])
	assert.Empty(t, m["likes"])
}

func TestPostViewDocument_DecodesLookupResult(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	raw, err := bson.Marshal(bson.M{
		"_id":       "p1",
		"authorId":  "u1",
		"content":   "hello",
		"imgUrl":    "https://example.com/a.png",
		"tags":      bson.A{"go"},
		"comments":  bson.A{bson.M{"_id": "c1", "authorId": "u2", "username": "bob", "content": "hi", "createdAt": now, "updatedAt": now}},
		"likes":     bson.A{bson.M{"authorId": "u2", "createdAt": now, "updatedAt": now}},
		"createdAt": now,
		"updatedAt": now,
		"author":    bson.M{"_id": "u1", "name": "Alice", "username": "alice", "email": "a@example.com", "passwordHash": "secret"},
	})
	require.NoError(t, err)

	var doc postViewDocument
	require.NoError(t, bson.Unmarshal(raw, &doc))
	view := doc.toModel()

	assert.Equal(t, "p1", view.ID)
	assert.Equal(t, []string{"go"}, view.Tags)
	require.Len(t, view.Comments, 1)
	assert.Equal(t, "bob", view.Comments[0].Username)
	require.Len(t, view.Likes, 1)
	assert.Equal(t, "u2", view.Likes[0].AuthorID)
	assert.Equal(t, model.Author{ID: "u1", Name: "Alice", Username: "alice"}, view.Author)
	assert.True(t, view.CreatedAt.Equal(now))
}

func TestNeo4jTimeLayout_SortsLexicographically(t *testing.T) {
	base := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	earlier := base.Add(100 * time.Millisecond).Format(neo4jTimeLayout)
	later := base.Add(120 * time.Millisecond).Format(neo4jTimeLayout)

	assert.Less(t, earlier, later)

	parsed, err := time.Parse(neo4jTimeLayout, later)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(base.Add(120*time.Millisecond)))
}
