package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/readingroom/catalog/internal/visitors"
)

type registerRequestPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Surname  string `json:"surname"`
}

type loginRequestPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
	VisitorID   uint   `json:"visitor_id"`
}

// handleRegister creates the account with its visitor profile and logs
// the caller straight in.
func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Username) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	visitor, err := h.visitors.Register(c.Request.Context(), visitors.RegisterRequest{
		Username: request.Username,
		Password: request.Password,
		Name:     request.Name,
		Surname:  request.Surname,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), visitor.AccountID)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusCreated, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		VisitorID:   visitor.ID,
	})
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Username) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	account, visitor, err := h.visitors.Authenticate(c.Request.Context(), request.Username, request.Password)
	if err != nil {
		h.logger.Warn("login failed", zap.String("username", request.Username))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), account.ID)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		VisitorID:   visitor.ID,
	})
}

type visitorResponsePayload struct {
	ID      uint   `json:"id"`
	Name    string `json:"name"`
	Surname string `json:"surname"`
	Bio     string `json:"bio"`
}

func (h *httpHandler) handleVisitorDetails(c *gin.Context) {
	visitorID, ok := parseID(c)
	if !ok {
		return
	}
	visitor, err := h.visitors.ByID(c.Request.Context(), visitorID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, visitorResponsePayload{
		ID:      visitor.ID,
		Name:    visitor.Name,
		Surname: visitor.Surname,
		Bio:     visitor.Bio,
	})
}

type visitorUpdatePayload struct {
	Name    string `json:"name"`
	Surname string `json:"surname"`
	Bio     string `json:"bio"`
}

func (h *httpHandler) handleUpdateVisitor(c *gin.Context) {
	visitorID, ok := parseID(c)
	if !ok {
		return
	}
	accountID := c.GetString(accountIDContextKey)

	var request visitorUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	visitor, err := h.visitors.UpdateProfile(c.Request.Context(), visitorID, accountID, visitors.ProfileUpdate{
		Name:    request.Name,
		Surname: request.Surname,
		Bio:     request.Bio,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, visitorResponsePayload{
		ID:      visitor.ID,
		Name:    visitor.Name,
		Surname: visitor.Surname,
		Bio:     visitor.Bio,
	})
}
