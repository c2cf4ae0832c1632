package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type stubTokenManager struct {
	accountID   string
	validateErr error
}

func (s stubTokenManager) IssueToken(context.Context, string) (string, int64, error) {
	return "", 0, errors.New("not implemented")
}

func (s stubTokenManager) ValidateToken(string) (string, error) {
	return s.accountID, s.validateErr
}

func TestAuthorizeRequestRejectsMissingHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodPost, "/books", http.NoBody)

	handler := &httpHandler{
		tokens: stubTokenManager{},
		logger: zap.NewNop(),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without an Authorization header, got %d", recorder.Code)
	}
}

func TestAuthorizeRequestRejectsMalformedHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	for _, header := range []string{"Basic abc", "Bearer", "Bearer   ", "token-without-scheme"} {
		recorder := httptest.NewRecorder()
		ctx, _ := gin.CreateTestContext(recorder)
		request := httptest.NewRequest(http.MethodPost, "/books", http.NoBody)
		request.Header.Set("Authorization", header)
		ctx.Request = request

		handler := &httpHandler{
			tokens: stubTokenManager{},
			logger: zap.NewNop(),
		}

		handler.authorizeRequest(ctx)

		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for header %q, got %d", header, recorder.Code)
		}
	}
}

func TestAuthorizeRequestRejectsInvalidToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodPost, "/books", http.NoBody)
	request.Header.Set("Authorization", "Bearer bad-token")
	ctx.Request = request

	handler := &httpHandler{
		tokens: stubTokenManager{validateErr: errors.New("signature mismatch")},
		logger: zap.NewNop(),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for an invalid token, got %d", recorder.Code)
	}
}

func TestCallerVisitorIDRequiresResolvedIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)

	handler := &httpHandler{logger: zap.NewNop()}
	if _, ok := handler.callerVisitorID(ctx); ok {
		t.Fatalf("expected identity resolution to fail without a context value")
	}
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a resolved visitor, got %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	ctx, _ = gin.CreateTestContext(recorder)
	ctx.Set(visitorIDContextKey, uint(7))
	handler = &httpHandler{logger: zap.NewNop()}
	visitorID, ok := handler.callerVisitorID(ctx)
	if !ok || visitorID != 7 {
		t.Fatalf("expected resolved visitor 7, got %d (ok=%v)", visitorID, ok)
	}
}
