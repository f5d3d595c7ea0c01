package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/samber/lo"

	"github.com/emilythestrangee/chainblog/backend/internal/models"
)

type voteKey struct {
	id    uint64
	voter common.Address
}

// MemoryContract is an in-process ledger with the blog contract's rules:
// append-only posts and comments, one vote per (target, voter) and a
// revert for anything else. Writes are mined one at a time.
type MemoryContract struct {
	mu sync.Mutex

	posts        []models.Post
	comments     []models.Comment
	postVotes    map[voteKey]models.Direction
	commentVotes map[voteKey]models.Direction
	block        uint64

	mineDelay time.Duration
	now       func() time.Time
}

func NewMemoryContract() *MemoryContract {
	return &MemoryContract{
		postVotes:    make(map[voteKey]models.Direction),
		commentVotes: make(map[voteKey]models.Direction),
		now:          time.Now,
	}
}

// SetMineDelay makes every write wait d before it is applied, the way a
// real transaction waits for its block.
func (m *MemoryContract) SetMineDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mineDelay = d
}

func (m *MemoryContract) GetAllPosts(ctx context.Context) ([]models.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Post{}, m.posts...), nil
}

func (m *MemoryContract) GetPostsByUser(ctx context.Context, author common.Address) ([]models.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return lo.Filter(m.posts, func(p models.Post, _ int) bool { return p.AuthorAddress == author }), nil
}

func (m *MemoryContract) GetPostByID(ctx context.Context, postID uint64) (models.Post, error) {
	if err := ctx.Err(); err != nil {
		return models.Post{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	post, ok := m.post(postID)
	if !ok {
		return models.Post{}, fmt.Errorf("post %d: %w", postID, ErrNotFound)
	}
	return *post, nil
}

func (m *MemoryContract) GetComments(ctx context.Context, postID uint64) ([]models.Comment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return lo.Filter(m.comments, func(c models.Comment, _ int) bool { return c.PostID == postID }), nil
}

func (m *MemoryContract) GetCommentsByUser(ctx context.Context, commenter common.Address) ([]models.Comment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return lo.Filter(m.comments, func(c models.Comment, _ int) bool { return c.CommenterAddress == commenter }), nil
}

func (m *MemoryContract) GetPostIDFromComment(ctx context.Context, commentID uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	comment, ok := m.comment(commentID)
	if !ok {
		return 0, fmt.Errorf("comment %d: %w", commentID, ErrNotFound)
	}
	return comment.PostID, nil
}

func (m *MemoryContract) HasUpVoted(ctx context.Context, postID uint64, voter common.Address) (bool, error) {
	return m.hasVoted(ctx, m.postVotes, postID, voter, models.Up)
}

func (m *MemoryContract) HasDownVoted(ctx context.Context, postID uint64, voter common.Address) (bool, error) {
	return m.hasVoted(ctx, m.postVotes, postID, voter, models.Down)
}

func (m *MemoryContract) HasUpVotedComment(ctx context.Context, commentID uint64, voter common.Address) (bool, error) {
	return m.hasVoted(ctx, m.commentVotes, commentID, voter, models.Up)
}

func (m *MemoryContract) HasDownVotedComment(ctx context.Context, commentID uint64, voter common.Address) (bool, error) {
	return m.hasVoted(ctx, m.commentVotes, commentID, voter, models.Down)
}

func (m *MemoryContract) hasVoted(ctx context.Context, votes map[voteKey]models.Direction, id uint64, voter common.Address, d models.Direction) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return votes[voteKey{id, voter}] == d, nil
}

func (m *MemoryContract) CreatePost(ctx context.Context, opts *bind.TransactOpts, author, title, contentRef string) (PostCreated, error) {
	var created PostCreated
	tx, err := m.mine(ctx, opts, "createPost", func(from common.Address) error {
		post := models.Post{
			ID:            uint64(len(m.posts) + 1),
			Author:        author,
			AuthorAddress: from,
			Title:         title,
			ContentRef:    contentRef,
			Timestamp:     m.now().Unix(),
		}
		m.posts = append(m.posts, post)
		created = PostCreated{PostID: post.ID, Title: title, Author: author, Timestamp: post.Timestamp}
		return nil
	})
	if err != nil {
		return PostCreated{}, err
	}
	created.Tx = tx
	return created, nil
}

func (m *MemoryContract) AddComment(ctx context.Context, opts *bind.TransactOpts, postID uint64, name, text string) (Tx, error) {
	return m.mine(ctx, opts, "addComment", func(from common.Address) error {
		if _, ok := m.post(postID); !ok {
			return errors.New("Post does not exist")
		}
		m.comments = append(m.comments, models.Comment{
			ID:               uint64(len(m.comments) + 1),
			PostID:           postID,
			CommenterName:    name,
			CommenterAddress: from,
			Content:          text,
			Timestamp:        m.now().Unix(),
		})
		return nil
	})
}

func (m *MemoryContract) UpvotePost(ctx context.Context, opts *bind.TransactOpts, postID uint64) (Tx, error) {
	return m.votePost(ctx, opts, "upvotePost", postID, models.Up)
}

func (m *MemoryContract) DownvotePost(ctx context.Context, opts *bind.TransactOpts, postID uint64) (Tx, error) {
	return m.votePost(ctx, opts, "downvotePost", postID, models.Down)
}

func (m *MemoryContract) UpvoteComment(ctx context.Context, opts *bind.TransactOpts, postID, commentID uint64) (Tx, error) {
	return m.voteComment(ctx, opts, "upvoteComment", postID, commentID, models.Up)
}

func (m *MemoryContract) DownvoteComment(ctx context.Context, opts *bind.TransactOpts, postID, commentID uint64) (Tx, error) {
	return m.voteComment(ctx, opts, "downvoteComment", postID, commentID, models.Down)
}

func (m *MemoryContract) votePost(ctx context.Context, opts *bind.TransactOpts, method string, postID uint64, d models.Direction) (Tx, error) {
	return m.mine(ctx, opts, method, func(from common.Address) error {
		post, ok := m.post(postID)
		if !ok {
			return errors.New("Post does not exist")
		}
		key := voteKey{postID, from}
		if _, voted := m.postVotes[key]; voted {
			return errors.New("Already voted")
		}
		m.postVotes[key] = d
		tally := post.Tally().Add(d)
		post.Upvotes, post.Downvotes = tally.Upvotes, tally.Downvotes
		return nil
	})
}

func (m *MemoryContract) voteComment(ctx context.Context, opts *bind.TransactOpts, method string, postID, commentID uint64, d models.Direction) (Tx, error) {
	return m.mine(ctx, opts, method, func(from common.Address) error {
		comment, ok := m.comment(commentID)
		if !ok {
			return errors.New("Comment does not exist")
		}
		if comment.PostID != postID {
			return errors.New("Comment does not belong to post")
		}
		key := voteKey{commentID, from}
		if _, voted := m.commentVotes[key]; voted {
			return errors.New("Already voted")
		}
		m.commentVotes[key] = d
		tally := comment.Tally().Add(d)
		comment.Upvotes, comment.Downvotes = tally.Upvotes, tally.Downvotes
		return nil
	})
}

// mine applies one state transition under the ledger lock. A rule
// violation reported by apply reverts the transaction.
func (m *MemoryContract) mine(ctx context.Context, opts *bind.TransactOpts, method string, apply func(from common.Address) error) (Tx, error) {
	if opts == nil {
		return Tx{}, ErrNotConnected
	}

	m.mu.Lock()
	delay := m.mineDelay
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Tx{}, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return Tx{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.block++
	var seed [8]byte
	binary.BigEndian.PutUint64(seed[:], m.block)
	hash := crypto.Keccak256Hash(seed[:], []byte(method), opts.From.Bytes())

	if err := apply(opts.From); err != nil {
		return Tx{}, &RevertError{Method: method, Reason: err.Error(), TxHash: hash}
	}
	return Tx{Hash: hash, BlockNumber: m.block}, nil
}

func (m *MemoryContract) post(id uint64) (*models.Post, bool) {
	if id == 0 || id > uint64(len(m.posts)) {
		return nil, false
	}
	return &m.posts[id-1], true
}

func (m *MemoryContract) comment(id uint64) (*models.Comment, bool) {
	if id == 0 || id > uint64(len(m.comments)) {
		return nil, false
	}
	return &m.comments[id-1], true
}
