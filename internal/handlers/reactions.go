package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/emilythestrangee/chainblog/backend/internal/ledger"
	"github.com/emilythestrangee/chainblog/backend/internal/models"
)

type ReactionHandler struct {
	ledger Ledger
}

func NewReactionHandler(l Ledger) *ReactionHandler {
	return &ReactionHandler{ledger: l}
}

// GetReaction reports how an address reacted to a post or comment. A
// comment target may name its post with ?postId=.
func (h *ReactionHandler) GetReaction(c *gin.Context) {
	targetType, err := models.ParseTargetType(c.Param("targetType"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	id, ok := parseID(c, "targetId")
	if !ok {
		return
	}
	voter, err := ledger.ParseAddress(c.Param("address"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid address", "error": err.Error()})
		return
	}

	target := models.PostTarget(id)
	if targetType == models.TargetComment {
		var postID uint64
		if raw := c.Query("postId"); raw != "" {
			if postID, err = strconv.ParseUint(raw, 10, 64); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid postId"})
				return
			}
		}
		target = models.CommentTarget(postID, id)
	}

	state, err := h.ledger.HasReacted(c.Request.Context(), target, voter)
	if err != nil {
		ledgerError(c, "Error fetching reaction from blockchain", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"target":    target,
		"address":   voter.Hex(),
		"upvoted":   state.Upvoted,
		"downvoted": state.Downvoted,
	})
}
