package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/readingroom/catalog/internal/auth"
	"github.com/readingroom/catalog/internal/catalog"
	"github.com/readingroom/catalog/internal/comments"
	"github.com/readingroom/catalog/internal/database"
	"github.com/readingroom/catalog/internal/metrics"
	"github.com/readingroom/catalog/internal/ratings"
	"github.com/readingroom/catalog/internal/visitors"
)

func newRouterFixture(t *testing.T) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "catalog.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	catalogService, err := catalog.NewService(catalog.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build catalog service: %v", err)
	}
	visitorService, err := visitors.NewService(visitors.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build visitor service: %v", err)
	}
	commentService, err := comments.NewService(comments.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build comment service: %v", err)
	}
	ratingService, err := ratings.NewService(ratings.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build rating service: %v", err)
	}

	issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("router-test-secret"),
		Issuer:        "catalog-auth",
		Audience:      "catalog-api",
		TokenTTL:      time.Hour,
	})

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager:   issuer,
		CatalogService: catalogService,
		VisitorService: visitorService,
		CommentService: commentService,
		RatingService:  ratingService,
		Metrics:        metrics.New(prometheus.NewRegistry()),
		Logger:         zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build router: %v", err)
	}
	return handler
}

func performRequest(t *testing.T, handler http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, path, reader)
	request.RemoteAddr = "192.0.2.10:51000"
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func decodePayload(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func registerVisitor(t *testing.T, handler http.Handler, username string) (string, uint) {
	t.Helper()
	body := fmt.Sprintf(`{"username":%q,"password":"long-enough-secret","name":"Ada","surname":"Lovelace"}`, username)
	recorder := performRequest(t, handler, http.MethodPost, "/auth/register", "", body)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("registration failed with status %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodePayload(t, recorder)
	token, _ := payload["access_token"].(string)
	if token == "" {
		t.Fatalf("registration response missing access token: %s", recorder.Body.String())
	}
	visitorID, _ := payload["visitor_id"].(float64)
	return token, uint(visitorID)
}

func createBook(t *testing.T, handler http.Handler, token string) uint {
	t.Helper()
	recorder := performRequest(t, handler, http.MethodPost, "/authors", token,
		`{"name":"Frank","surname":"Herbert","year_of_birth":1920}`)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("author creation failed with status %d: %s", recorder.Code, recorder.Body.String())
	}
	authorID := decodePayload(t, recorder)["id"].(float64)

	recorder = performRequest(t, handler, http.MethodPost, "/books", token,
		fmt.Sprintf(`{"name":"Dune","author_id":%d,"year":1965}`, int(authorID)))
	if recorder.Code != http.StatusCreated {
		t.Fatalf("book creation failed with status %d: %s", recorder.Code, recorder.Body.String())
	}
	return uint(decodePayload(t, recorder)["id"].(float64))
}

func TestRegisterLoginRoundTrip(t *testing.T) {
	handler := newRouterFixture(t)

	token, visitorID := registerVisitor(t, handler, "ada")
	if visitorID == 0 {
		t.Fatalf("expected a visitor id from registration")
	}

	// The registration token is usable immediately.
	recorder := performRequest(t, handler, http.MethodPost, "/authors", token,
		`{"name":"Mary","surname":"Shelley","year_of_birth":1797}`)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("registration token should authorize writes, got %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = performRequest(t, handler, http.MethodPost, "/auth/login", "",
		`{"username":"ada","password":"long-enough-secret"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("login failed with status %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodePayload(t, recorder)
	if payload["token_type"] != "Bearer" {
		t.Fatalf("unexpected token type %v", payload["token_type"])
	}
	if uint(payload["visitor_id"].(float64)) != visitorID {
		t.Fatalf("login resolved a different visitor: %v", payload["visitor_id"])
	}

	recorder = performRequest(t, handler, http.MethodPost, "/auth/login", "",
		`{"username":"ada","password":"wrong-password"}`)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a wrong password, got %d", recorder.Code)
	}
}

func TestMutatingEndpointsRequireToken(t *testing.T) {
	handler := newRouterFixture(t)

	recorder := performRequest(t, handler, http.MethodPost, "/books", "",
		`{"name":"Dune","author_id":1,"year":1965}`)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", recorder.Code)
	}

	recorder = performRequest(t, handler, http.MethodPost, "/books", "not-a-jwt",
		`{"name":"Dune","author_id":1,"year":1965}`)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a garbage token, got %d", recorder.Code)
	}
}

func TestCommentFlowThroughRouter(t *testing.T) {
	handler := newRouterFixture(t)
	token, _ := registerVisitor(t, handler, "ada")
	bookID := createBook(t, handler, token)

	recorder := performRequest(t, handler, http.MethodPost, fmt.Sprintf("/books/%d/comments", bookID), token,
		`{"comment":"A landmark of the genre."}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("root comment failed with status %d: %s", recorder.Code, recorder.Body.String())
	}
	root := decodePayload(t, recorder)
	if root["is_child"] != false {
		t.Fatalf("root comment should not be a child: %v", root)
	}
	if root["visitor"] != "Lovelace Ada" {
		t.Fatalf("unexpected visitor rendering: %v", root["visitor"])
	}
	rootID := int(root["id"].(float64))

	recorder = performRequest(t, handler, http.MethodPost, fmt.Sprintf("/books/%d/comments", bookID), token,
		fmt.Sprintf(`{"comment":"Agreed.","parent_id":%d}`, rootID))
	if recorder.Code != http.StatusOK {
		t.Fatalf("reply failed with status %d: %s", recorder.Code, recorder.Body.String())
	}
	reply := decodePayload(t, recorder)
	if reply["is_child"] != true {
		t.Fatalf("reply should be a child: %v", reply)
	}
	if int(reply["parent_id"].(float64)) != rootID {
		t.Fatalf("reply should point at the root, got %v", reply["parent_id"])
	}

	recorder = performRequest(t, handler, http.MethodGet, fmt.Sprintf("/books/%d/comments", bookID), "", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("comment tree failed with status %d: %s", recorder.Code, recorder.Body.String())
	}
	tree := decodePayload(t, recorder)
	roots, ok := tree["comments"].([]any)
	if !ok || len(roots) != 1 {
		t.Fatalf("expected one root in the tree, got %v", tree["comments"])
	}
	children := roots[0].(map[string]any)["children"].([]any)
	if len(children) != 1 {
		t.Fatalf("expected the reply under the root, got %v", roots[0])
	}

	recorder = performRequest(t, handler, http.MethodPost, fmt.Sprintf("/books/%d/comments", bookID), token,
		fmt.Sprintf(`{"comment":"orphan","parent_id":%d}`, rootID+100))
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a missing parent, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestVoteFlowThroughRouter(t *testing.T) {
	handler := newRouterFixture(t)
	token, _ := registerVisitor(t, handler, "ada")
	bookID := createBook(t, handler, token)

	recorder := performRequest(t, handler, http.MethodPost, fmt.Sprintf("/books/%d/rating", bookID), token, `{"rate":5}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("vote failed with status %d: %s", recorder.Code, recorder.Body.String())
	}
	receipt := decodePayload(t, recorder)
	if receipt["status"] != "created" || receipt["rating_sum"].(float64) != 5 {
		t.Fatalf("unexpected first vote receipt: %v", receipt)
	}

	recorder = performRequest(t, handler, http.MethodGet, fmt.Sprintf("/books/%d", bookID), "", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("book details failed with status %d", recorder.Code)
	}
	details := decodePayload(t, recorder)
	book := details["book"].(map[string]any)
	if book["rating_sum"].(float64) != 5 {
		t.Fatalf("book details should carry the aggregate, got %v", book["rating_sum"])
	}

	// Same rate again retracts the vote.
	recorder = performRequest(t, handler, http.MethodPost, fmt.Sprintf("/books/%d/rating", bookID), token, `{"rate":5}`)
	receipt = decodePayload(t, recorder)
	if receipt["status"] != "deleted" || receipt["rating_sum"].(float64) != 0 {
		t.Fatalf("unexpected toggle receipt: %v", receipt)
	}

	recorder = performRequest(t, handler, http.MethodPost, fmt.Sprintf("/books/%d/rating", bookID), token, `{"rate":9}`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an out-of-range rate, got %d", recorder.Code)
	}
}

func TestAuthorDeleteConflictSurfacesAsConflict(t *testing.T) {
	handler := newRouterFixture(t)
	token, _ := registerVisitor(t, handler, "ada")
	bookID := createBook(t, handler, token)

	recorder := performRequest(t, handler, http.MethodGet, fmt.Sprintf("/books/%d", bookID), "", "")
	details := decodePayload(t, recorder)
	authorID := int(details["book"].(map[string]any)["author_id"].(float64))

	recorder = performRequest(t, handler, http.MethodDelete, fmt.Sprintf("/authors/%d", authorID), token, "")
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409 deleting an author with books, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestIdentifierParsing(t *testing.T) {
	handler := newRouterFixture(t)

	recorder := performRequest(t, handler, http.MethodGet, "/books/not-a-number", "", "")
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a non-numeric id, got %d", recorder.Code)
	}

	recorder = performRequest(t, handler, http.MethodGet, "/books/0", "", "")
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a zero id, got %d", recorder.Code)
	}

	recorder = performRequest(t, handler, http.MethodGet, "/books/12345", "", "")
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a missing book, got %d", recorder.Code)
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	handler := newRouterFixture(t)

	recorder := performRequest(t, handler, http.MethodGet, "/healthz", "", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("healthz should answer 200, got %d", recorder.Code)
	}

	recorder = performRequest(t, handler, http.MethodGet, "/metrics", "", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("metrics should answer 200, got %d", recorder.Code)
	}
}
