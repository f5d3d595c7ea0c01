package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/emilythestrangee/chainblog/backend/internal/events"
	"github.com/emilythestrangee/chainblog/backend/internal/ipfs"
	"github.com/emilythestrangee/chainblog/backend/internal/ledger"
	"github.com/emilythestrangee/chainblog/backend/internal/models"
)

// Ledger is the ledger client surface the API exposes.
type Ledger interface {
	GetPosts(ctx context.Context) ([]models.Post, error)
	GetPost(ctx context.Context, postID uint64) (models.Post, error)
	GetPostsByAuthor(ctx context.Context, author string) ([]models.Post, error)
	GetCommentsForPost(ctx context.Context, postID uint64) ([]models.Comment, error)
	GetCommentsForUser(ctx context.Context, address string) ([]models.Comment, error)
	PostIDForComment(ctx context.Context, commentID uint64) (uint64, error)
	HasReacted(ctx context.Context, target models.Target, voter common.Address) (models.ReactionState, error)
	SubmitPost(ctx context.Context, author, title, contentRef string) (ledger.PostCreated, error)
}

type Uploader interface {
	UploadJSON(ctx context.Context, v any, opts ipfs.Options) (ipfs.Artifact, error)
	UploadImage(ctx context.Context, data []byte, filename, mimeType string) (ipfs.Artifact, error)
}

type UploadStore interface {
	SaveUpload(ctx context.Context, upload *models.Upload) error
	ListUploads(ctx context.Context, kind string, limit int) ([]models.Upload, error)
}

type MetadataResolver interface {
	Metadata(ctx context.Context, cid string) (models.PostMetadata, error)
}

// Deps are the collaborators of the API handlers. Uploads, Resolver and
// Events are optional.
type Deps struct {
	Ledger   Ledger
	Uploader Uploader
	Uploads  UploadStore
	Resolver MetadataResolver
	Events   events.Publisher

	// Local enables server-signed post creation.
	Local bool
}

// Handler combines all handler types
type Handler struct {
	Post     *PostHandler
	Comment  *CommentHandler
	Upload   *UploadHandler
	Reaction *ReactionHandler
}

// NewHandler creates a unified handler with all sub-handlers
func NewHandler(d Deps) *Handler {
	if d.Events == nil {
		d.Events = events.Noop{}
	}

	return &Handler{
		Post:     NewPostHandler(d.Ledger, d.Resolver, d.Events, d.Local),
		Comment:  NewCommentHandler(d.Ledger),
		Upload:   NewUploadHandler(d.Uploader, d.Uploads, d.Events),
		Reaction: NewReactionHandler(d.Ledger),
	}
}

// ledgerStatus maps ledger failures to HTTP status codes.
func ledgerStatus(err error) int {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInvalidAddress), errors.Is(err, ledger.ErrMissingField):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ledger.ErrNotConnected), errors.Is(err, ledger.ErrWalletUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func ledgerError(c *gin.Context, message string, err error) {
	_ = c.Error(err)
	c.JSON(ledgerStatus(err), gin.H{"message": message, "error": err.Error()})
}

func parseID(c *gin.Context, param string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(param), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid " + param})
		return 0, false
	}
	return id, true
}
