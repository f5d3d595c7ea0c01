package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDirection(t *testing.T) {
	for in, want := range map[string]Direction{"up": Up, "UPVOTE": Up, " like ": Up, "down": Down, "dislike": Down} {
		got, err := ParseDirection(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseDirection("sideways")
	assert.Error(t, err)
}

func TestParseTargetType(t *testing.T) {
	got, err := ParseTargetType("Comment")
	require.NoError(t, err)
	assert.Equal(t, TargetComment, got)

	_, err = ParseTargetType("user")
	assert.Error(t, err)
}

func TestReactionStateDirection(t *testing.T) {
	_, ok := ReactionState{}.Direction()
	assert.False(t, ok)

	d, ok := ReactionState{Downvoted: true}.Direction()
	assert.True(t, ok)
	assert.Equal(t, Down, d)
}

func TestTallyAdd(t *testing.T) {
	tally := Tally{Upvotes: 2, Downvotes: 1}
	assert.Equal(t, Tally{Upvotes: 3, Downvotes: 1}, tally.Add(Up))
	assert.Equal(t, Tally{Upvotes: 2, Downvotes: 2}, tally.Add(Down))
}

func TestTagList(t *testing.T) {
	assert.Equal(t, []string{"Web3", "DeFi"}, PostMetadata{Tags: `["Web3"," ","DeFi"]`}.TagList())
	assert.Empty(t, PostMetadata{Tags: "not json"}.TagList())
	assert.Empty(t, PostMetadata{Tags: "[]"}.TagList())
}

func TestParseTags(t *testing.T) {
	tags, err := ParseTags(`[" go ", "", "web3"]`)
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "web3"}, tags)

	_, err = ParseTags("go,web3")
	assert.Error(t, err)
}

func TestUploadMetadata(t *testing.T) {
	meta := Upload{Title: "T", Author: "A", Tags: "[]", Content: "C"}.Metadata()
	assert.Nil(t, meta.ImageHash)

	meta = Upload{Title: "T", ImageCID: "QmImage"}.Metadata()
	require.NotNil(t, meta.ImageHash)
	assert.Equal(t, "QmImage", *meta.ImageHash)
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short...", PostMetadata{Content: " short "}.Excerpt())

	long := PostMetadata{Content: strings.Repeat("é", 200)}.Excerpt()
	assert.Equal(t, strings.Repeat("é", 150)+"...", long)
}
