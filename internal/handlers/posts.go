package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/emilythestrangee/chainblog/backend/internal/events"
	"github.com/emilythestrangee/chainblog/backend/internal/models"
)

const resolveTimeout = 5 * time.Second

type PostHandler struct {
	ledger   Ledger
	resolver MetadataResolver
	events   events.Publisher
	local    bool
}

func NewPostHandler(l Ledger, resolver MetadataResolver, publisher events.Publisher, local bool) *PostHandler {
	return &PostHandler{ledger: l, resolver: resolver, events: publisher, local: local}
}

// enrich attaches the pinned post document to each post it can resolve.
func (h *PostHandler) enrich(ctx context.Context, posts []models.Post) []models.Post {
	if h.resolver == nil {
		return posts
	}
	for i := range posts {
		rctx, cancel := context.WithTimeout(ctx, resolveTimeout)
		meta, err := h.resolver.Metadata(rctx, posts[i].ContentRef)
		cancel()
		if err != nil {
			log.Debug().Err(err).Uint64("postId", posts[i].ID).Msg("Post content unresolved")
			continue
		}
		posts[i].Content = &meta
		posts[i].Excerpt = meta.Excerpt()
	}
	return posts
}

// GetAllPosts returns every post on the ledger
func (h *PostHandler) GetAllPosts(c *gin.Context) {
	posts, err := h.ledger.GetPosts(c.Request.Context())
	if err != nil {
		ledgerError(c, "Error fetching posts from blockchain", err)
		return
	}

	// If no posts, return empty array not null
	if posts == nil {
		posts = []models.Post{}
	}
	c.JSON(http.StatusOK, h.enrich(c.Request.Context(), posts))
}

// GetPostsOfUser returns the posts created by an address
func (h *PostHandler) GetPostsOfUser(c *gin.Context) {
	posts, err := h.ledger.GetPostsByAuthor(c.Request.Context(), c.Param("address"))
	if err != nil {
		ledgerError(c, "Error fetching posts from blockchain", err)
		return
	}
	if posts == nil {
		posts = []models.Post{}
	}
	c.JSON(http.StatusOK, h.enrich(c.Request.Context(), posts))
}

// GetPostByID returns a single post by ID
func (h *PostHandler) GetPostByID(c *gin.Context) {
	postID, ok := parseID(c, "postId")
	if !ok {
		return
	}

	post, err := h.ledger.GetPost(c.Request.Context(), postID)
	if err != nil {
		ledgerError(c, "Post not found", err)
		return
	}
	c.JSON(http.StatusOK, h.enrich(c.Request.Context(), []models.Post{post})[0])
}

// CreatePostOnBlockchain records an already pinned post with the server
// wallet. Only available against a local chain.
func (h *PostHandler) CreatePostOnBlockchain(c *gin.Context) {
	var input struct {
		Title    string `json:"title" form:"title"`
		Author   string `json:"author" form:"author"`
		IPFSHash string `json:"ipfsHash" form:"ipfsHash"`
	}
	if err := c.ShouldBind(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body", "error": err.Error()})
		return
	}

	switch {
	case input.Title == "":
		c.JSON(http.StatusBadRequest, gin.H{"message": "Title required"})
		return
	case input.Author == "":
		c.JSON(http.StatusBadRequest, gin.H{"message": "Author required"})
		return
	case input.IPFSHash == "":
		c.JSON(http.StatusBadRequest, gin.H{"message": "IPFS hash required"})
		return
	}

	if !h.local {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Use frontend MetaMask for testnet"})
		return
	}

	created, err := h.ledger.SubmitPost(c.Request.Context(), input.Author, input.Title, input.IPFSHash)
	if err != nil {
		ledgerError(c, "Error creating post on blockchain", err)
		return
	}

	err = h.events.Publish(c.Request.Context(), events.SubjectPostCreated, events.PostCreated{
		PostID:    created.PostID,
		TxHash:    created.Hash.Hex(),
		Title:     created.Title,
		Author:    created.Author,
		IPFSHash:  input.IPFSHash,
		Timestamp: created.Timestamp,
	})
	if err != nil {
		log.Warn().Err(err).Uint64("postId", created.PostID).Msg("Could not announce post")
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Post stored on local blockchain",
		"txHash":    created.Hash.Hex(),
		"postId":    strconv.FormatUint(created.PostID, 10),
		"title":     created.Title,
		"author":    created.Author,
		"timestamp": strconv.FormatInt(created.Timestamp, 10),
	})
}
