package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/emilythestrangee/chainblog/backend/internal/models"
)

type CommentHandler struct {
	ledger Ledger
}

func NewCommentHandler(l Ledger) *CommentHandler {
	return &CommentHandler{ledger: l}
}

// commentResponse is a comment as served to the front end: counters as
// decimal strings and an ISO-8601 timestamp.
type commentResponse struct {
	CommentID        uint64 `json:"commentId"`
	PostID           uint64 `json:"postId"`
	CommenterAddress string `json:"commenterAddress"`
	CommenterName    string `json:"commenterName"`
	Content          string `json:"content"`
	Upvote           string `json:"upvote"`
	Downvote         string `json:"downvote"`
	Timestamp        string `json:"timestamp"`
}

func toCommentResponses(comments []models.Comment) []commentResponse {
	return lo.Map(comments, func(cm models.Comment, _ int) commentResponse {
		return commentResponse{
			CommentID:        cm.ID,
			PostID:           cm.PostID,
			CommenterAddress: cm.CommenterAddress.Hex(),
			CommenterName:    cm.CommenterName,
			Content:          cm.Content,
			Upvote:           strconv.FormatUint(cm.Upvotes, 10),
			Downvote:         strconv.FormatUint(cm.Downvotes, 10),
			Timestamp:        time.Unix(cm.Timestamp, 0).UTC().Format("2006-01-02T15:04:05.000Z"),
		}
	})
}

// GetCommentsFromPost returns the comments of a post in ledger order
func (h *CommentHandler) GetCommentsFromPost(c *gin.Context) {
	postID, err := strconv.ParseUint(c.Param("postId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "No postId provided"})
		return
	}

	comments, err := h.ledger.GetCommentsForPost(c.Request.Context(), postID)
	if err != nil {
		ledgerError(c, "Error fetching comments from blockchain", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Fetching comments successful",
		"result":  toCommentResponses(comments),
	})
}

// GetCommentsOfUser returns every comment written by an address
func (h *CommentHandler) GetCommentsOfUser(c *gin.Context) {
	comments, err := h.ledger.GetCommentsForUser(c.Request.Context(), c.Param("address"))
	if err != nil {
		ledgerError(c, "Error fetching comments from blockchain", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": toCommentResponses(comments)})
}

// GetPostOfComment resolves the parent post of a comment
func (h *CommentHandler) GetPostOfComment(c *gin.Context) {
	commentID, ok := parseID(c, "commentId")
	if !ok {
		return
	}

	postID, err := h.ledger.PostIDForComment(c.Request.Context(), commentID)
	if err != nil {
		ledgerError(c, "Error fetching comment from blockchain", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commentId": commentID, "postId": postID})
}
