package models

import "github.com/ethereum/go-ethereum/common"

// Comment is a ledger comment scoped under its parent post.
type Comment struct {
	ID               uint64         `json:"id"`
	PostID           uint64         `json:"postId"`
	CommenterName    string         `json:"commenterName"`
	CommenterAddress common.Address `json:"commenterAddress"`
	Content          string         `json:"content"`
	Upvotes          uint64         `json:"upvote"`
	Downvotes        uint64         `json:"downvote"`
	Timestamp        int64          `json:"timestamp"`
}

func (c Comment) Tally() Tally {
	return Tally{Upvotes: c.Upvotes, Downvotes: c.Downvotes}
}
