package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/emilythestrangee/chainblog/backend/internal/models"
)

// Tx describes a mined write.
type Tx struct {
	Hash        common.Hash `json:"txHash"`
	BlockNumber uint64      `json:"blockNumber"`
}

// PostCreated is the outcome of createPost, read back from the
// Postcreation event.
type PostCreated struct {
	Tx
	PostID    uint64 `json:"postId"`
	Title     string `json:"title"`
	Author    string `json:"author"`
	Timestamp int64  `json:"timestamp"`
}

// Contract is the blog contract's on-chain interface. Writes block until
// the transaction is mined and return a *RevertError when the ledger
// rejects them.
type Contract interface {
	GetAllPosts(ctx context.Context) ([]models.Post, error)
	GetPostsByUser(ctx context.Context, author common.Address) ([]models.Post, error)
	GetPostByID(ctx context.Context, postID uint64) (models.Post, error)
	GetComments(ctx context.Context, postID uint64) ([]models.Comment, error)
	GetCommentsByUser(ctx context.Context, commenter common.Address) ([]models.Comment, error)
	GetPostIDFromComment(ctx context.Context, commentID uint64) (uint64, error)

	HasUpVoted(ctx context.Context, postID uint64, voter common.Address) (bool, error)
	HasDownVoted(ctx context.Context, postID uint64, voter common.Address) (bool, error)
	HasUpVotedComment(ctx context.Context, commentID uint64, voter common.Address) (bool, error)
	HasDownVotedComment(ctx context.Context, commentID uint64, voter common.Address) (bool, error)

	CreatePost(ctx context.Context, opts *bind.TransactOpts, author, title, contentRef string) (PostCreated, error)
	AddComment(ctx context.Context, opts *bind.TransactOpts, postID uint64, name, text string) (Tx, error)
	UpvotePost(ctx context.Context, opts *bind.TransactOpts, postID uint64) (Tx, error)
	DownvotePost(ctx context.Context, opts *bind.TransactOpts, postID uint64) (Tx, error)
	UpvoteComment(ctx context.Context, opts *bind.TransactOpts, postID, commentID uint64) (Tx, error)
	DownvoteComment(ctx context.Context, opts *bind.TransactOpts, postID, commentID uint64) (Tx, error)
}
