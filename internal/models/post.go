package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Post is a blog post as stored on the ledger. Only the vote counters
// change after creation.
type Post struct {
	ID            uint64         `json:"id"`
	Author        string         `json:"author"`
	AuthorAddress common.Address `json:"authorAddress"`
	Title         string         `json:"title"`
	ContentRef    string         `json:"ipfsHash"`
	Upvotes       uint64         `json:"upvote"`
	Downvotes     uint64         `json:"downvote"`
	Timestamp     int64          `json:"timestamp"`

	// Content is the pinned metadata document behind ContentRef, filled
	// in by the read API when it can be resolved.
	Content *PostMetadata `json:"content,omitempty"`
	Excerpt string        `json:"excerpt,omitempty"`
}

func (p Post) Tally() Tally {
	return Tally{Upvotes: p.Upvotes, Downvotes: p.Downvotes}
}

// PostMetadata is the JSON document pinned to IPFS for every post.
type PostMetadata struct {
	Title     string    `json:"title"`
	Tags      string    `json:"tags"`
	Content   string    `json:"content"`
	Author    string    `json:"author"`
	ImageHash *string   `json:"imageHash"`
	CreatedAt time.Time `json:"createdAt"`
}

// ParseTags decodes a JSON-encoded array of strings, trimming each tag
// and dropping blank ones.
func ParseTags(raw string) ([]string, error) {
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out, nil
}

// TagList decodes Tags. Malformed input yields an empty list.
func (m PostMetadata) TagList() []string {
	tags, err := ParseTags(m.Tags)
	if err != nil {
		return []string{}
	}
	return tags
}

const excerptLength = 150

// Excerpt is the first 150 characters of the content followed by "...".
func (m PostMetadata) Excerpt() string {
	content := []rune(strings.TrimSpace(m.Content))
	if len(content) > excerptLength {
		content = content[:excerptLength]
	}
	return string(content) + "..."
}
