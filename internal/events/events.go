// Package events announces pinned uploads and server-created posts on
// NATS so other services can follow the blog without polling the ledger.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const (
	SubjectUploadPinned = "chainblog.upload.pinned"
	SubjectPostCreated  = "chainblog.post.created"
)

type UploadPinned struct {
	CID      string    `json:"cid"`
	Kind     string    `json:"kind"`
	Title    string    `json:"title,omitempty"`
	ImageCID string    `json:"imageCid,omitempty"`
	PinnedAt time.Time `json:"pinnedAt"`
}

type PostCreated struct {
	PostID    uint64 `json:"postId"`
	TxHash    string `json:"txHash"`
	Title     string `json:"title"`
	Author    string `json:"author"`
	IPFSHash  string `json:"ipfsHash"`
	Timestamp int64  `json:"timestamp"`
}

type Publisher interface {
	Publish(ctx context.Context, subject string, event any) error
	Close() error
}

// Noop drops every event. It is used when NATS_URL is not configured.
type Noop struct{}

func (Noop) Publish(context.Context, string, any) error { return nil }
func (Noop) Close() error                               { return nil }

type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

type NATS struct {
	conn conn
}

func Connect(url string) (*NATS, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, nats.Name("chainblog-backend"))
	if err != nil {
		return nil, fmt.Errorf("error connecting to nats: %w", err)
	}
	return &NATS{conn: nc}, nil
}

func (n *NATS) Publish(ctx context.Context, subject string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("error publishing %s: %w", subject, err)
	}
	log.Debug().Str("subject", subject).Msg("Event published")
	return nil
}

func (n *NATS) Close() error {
	return n.conn.Drain()
}
