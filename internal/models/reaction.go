package models

import (
	"fmt"
	"strings"
)

// TargetType identifies what a reaction points at.
type TargetType string

const (
	TargetPost    TargetType = "post"
	TargetComment TargetType = "comment"
)

func ParseTargetType(s string) (TargetType, error) {
	switch TargetType(strings.ToLower(strings.TrimSpace(s))) {
	case TargetPost:
		return TargetPost, nil
	case TargetComment:
		return TargetComment, nil
	default:
		return "", fmt.Errorf("invalid target type %q, must be post or comment", s)
	}
}

// Direction is the side of a vote.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up", "upvote", "like":
		return Up, nil
	case "down", "downvote", "dislike":
		return Down, nil
	default:
		return "", fmt.Errorf("invalid vote direction %q, must be up or down", s)
	}
}

// Target is a reactable entity. PostID is the parent post of a comment
// target; the ledger's comment vote calls take both ids. It is ignored
// for post targets.
type Target struct {
	Type   TargetType `json:"type"`
	ID     uint64     `json:"id"`
	PostID uint64     `json:"postId,omitempty"`
}

func PostTarget(postID uint64) Target {
	return Target{Type: TargetPost, ID: postID, PostID: postID}
}

func CommentTarget(postID, commentID uint64) Target {
	return Target{Type: TargetComment, ID: commentID, PostID: postID}
}

func (t Target) String() string {
	if t.Type == TargetComment {
		return fmt.Sprintf("comment#%d(post#%d)", t.ID, t.PostID)
	}
	return fmt.Sprintf("post#%d", t.ID)
}

// ReactionState is a voter's reaction on one target as reported by the
// ledger. Both false means no reaction yet.
type ReactionState struct {
	Upvoted   bool `json:"upvoted"`
	Downvoted bool `json:"downvoted"`
}

func (s ReactionState) Any() bool {
	return s.Upvoted || s.Downvoted
}

// Direction reports which way the voter reacted, if at all.
func (s ReactionState) Direction() (Direction, bool) {
	switch {
	case s.Upvoted:
		return Up, true
	case s.Downvoted:
		return Down, true
	default:
		return "", false
	}
}

// Tally holds the vote counters of a target.
type Tally struct {
	Upvotes   uint64 `json:"upvote"`
	Downvotes uint64 `json:"downvote"`
}

// Add returns t with one more vote in direction d.
func (t Tally) Add(d Direction) Tally {
	if d == Up {
		t.Upvotes++
	} else {
		t.Downvotes++
	}
	return t
}
