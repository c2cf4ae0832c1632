package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/readingroom/catalog/internal/comments"
)

type commentRequestPayload struct {
	Comment  string `json:"comment"`
	ParentID *uint  `json:"parent_id"`
}

// handleCreateComment stores a comment under the optional parent for the
// resolved visitor and echoes the stored receipt.
func (h *httpHandler) handleCreateComment(c *gin.Context) {
	bookID, ok := parseID(c)
	if !ok {
		return
	}
	visitorID, ok := h.callerVisitorID(c)
	if !ok {
		return
	}

	var request commentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	receipt, err := h.comments.Create(c.Request.Context(), comments.CreateRequest{
		BookID:    bookID,
		VisitorID: visitorID,
		Text:      request.Comment,
		ParentID:  request.ParentID,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.CommentsCreated.Inc()
	}
	c.JSON(http.StatusOK, receipt)
}

func (h *httpHandler) handleCommentTree(c *gin.Context) {
	bookID, ok := parseID(c)
	if !ok {
		return
	}
	tree, err := h.comments.TreeForBook(c.Request.Context(), bookID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": tree})
}

type voteRequestPayload struct {
	Rate int `json:"rate"`
}

func (h *httpHandler) handleCastVote(c *gin.Context) {
	bookID, ok := parseID(c)
	if !ok {
		return
	}
	visitorID, ok := h.callerVisitorID(c)
	if !ok {
		return
	}

	var request voteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	receipt, err := h.ratings.CastVote(c.Request.Context(), bookID, visitorID, request.Rate)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.VotesCast.WithLabelValues(string(receipt.Status)).Inc()
	}
	c.JSON(http.StatusOK, receipt)
}
