package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/legalcheck/legalcheck-client/internal/auth"
	"github.com/legalcheck/legalcheck-client/internal/observability"
	"github.com/legalcheck/legalcheck-client/pkg/models"
)

func newTestClient(t *testing.T, handler http.Handler, mutate func(*Config)) (*Client, *observability.Metrics) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := Config{
		BaseURL: server.URL + "/api/v1",
		Tokens:  auth.StaticToken("session-token"),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	client, err := NewClient(cfg, nil, metrics, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client, metrics
}

func TestNewClientValidatesBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
	}{
		{name: "empty", baseURL: " "},
		{name: "websocket scheme", baseURL: "ws://localhost:8000/api/v1/"},
		{name: "unparseable", baseURL: "http://[::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewClient(Config{BaseURL: tt.baseURL}, nil, nil, nil); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestFetchHistory(t *testing.T) {
	var gotPath, gotCookie, gotRequestID, gotAccept string
	client, metrics := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAccept = r.Header.Get("Accept")
		gotRequestID = r.Header.Get("X-Request-ID")
		if cookie, err := r.Cookie("legalcheck_access_token"); err == nil {
			gotCookie = cookie.Value
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": 42, "document_id": 7, "user_id": 3, "title": null,
			"created_at": "2026-03-01T10:00:00", "updated_at": "2026-03-01T10:05:00",
			"messages": [
				{"id": 1, "content": "What is clause 4?", "conversation_id": 42, "author": "User", "created_at": "2026-03-01T10:00:01"},
				{"id": 2, "content": "It limits liability.", "conversation_id": 42, "author": "LegalCheck", "created_at": "2026-03-01T10:00:03"}
			]
		}`)
	}), nil)

	conversation, err := client.FetchHistory(context.Background(), 7)
	if err != nil {
		t.Fatalf("FetchHistory() error = %v", err)
	}

	if gotPath != "/api/v1/documents/7/chat" {
		t.Errorf("path = %q", gotPath)
	}
	if gotCookie != "session-token" {
		t.Errorf("cookie = %q", gotCookie)
	}
	if gotAccept != "application/json" {
		t.Errorf("accept = %q", gotAccept)
	}
	if gotRequestID == "" {
		t.Error("missing X-Request-ID")
	}

	want := &models.Conversation{
		ID:         42,
		DocumentID: 7,
		UserID:     3,
		CreatedAt:  models.NewTimestamp(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)),
		UpdatedAt:  models.NewTimestamp(time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)),
		Messages: []models.Message{
			{ID: 1, Content: "What is clause 4?", ConversationID: 42, Author: models.AuthorUser, CreatedAt: models.NewTimestamp(time.Date(2026, 3, 1, 10, 0, 1, 0, time.UTC))},
			{ID: 2, Content: "It limits liability.", ConversationID: 42, Author: models.AuthorAssistant, CreatedAt: models.NewTimestamp(time.Date(2026, 3, 1, 10, 0, 3, 0, time.UTC))},
		},
	}
	if diff := cmp.Diff(want, conversation); diff != "" {
		t.Errorf("conversation mismatch (-want +got):\n%s", diff)
	}

	if count := testutil.CollectAndCount(metrics.APIRequestDuration); count != 1 {
		t.Errorf("api duration series = %d, want 1", count)
	}
}

func TestFetchHistoryNotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"detail": "Conversation not found"}`)
	}), nil)

	_, err := client.FetchHistory(context.Background(), 9)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.Detail != "Conversation not found" || apiErr.Path != "documents/9/chat" {
		t.Errorf("unexpected error fields: %+v", apiErr)
	}
	if errors.Is(err, ErrUnauthorized) {
		t.Error("404 must not match ErrUnauthorized")
	}
}

func TestFetchHistoryEmptyBodyIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "null", body: "null"},
		{name: "empty object", body: "{}"},
		{name: "zero id", body: `{"id": 0, "document_id": 7, "messages": []}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = io.WriteString(w, tt.body)
			}), nil)

			conversation, err := client.FetchHistory(context.Background(), 7)
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if conversation != nil {
				t.Errorf("conversation = %+v, want nil", conversation)
			}
		})
	}
}

func TestSendMessageMultipart(t *testing.T) {
	var gotMethod, gotField, gotContentType string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm() error = %v", err)
		}
		gotField = r.FormValue("message")
		_, _ = io.WriteString(w, `{"id": 5, "content": "Is clause 4 enforceable?", "conversation_id": 42, "author": "User", "created_at": "2026-03-01T10:01:00Z"}`)
	}), nil)

	message, err := client.SendMessage(context.Background(), 7, "Is clause 4 enforceable?")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("method = %q", gotMethod)
	}
	if !strings.HasPrefix(gotContentType, "multipart/form-data") {
		t.Errorf("content type = %q", gotContentType)
	}
	if gotField != "Is clause 4 enforceable?" {
		t.Errorf("message field = %q", gotField)
	}
	if message.ID != 5 || message.ConversationID != 42 || message.Author != models.AuthorUser {
		t.Errorf("unexpected message: %+v", message)
	}
}

func TestUpdateTitle(t *testing.T) {
	var gotBody map[string]any
	var gotPath, gotMethod string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = io.WriteString(w, `{"id": 42, "document_id": 7, "user_id": 3, "title": "NDA review", "created_at": "2026-03-01T10:00:00", "updated_at": "2026-03-02T09:00:00", "messages": []}`)
	}), nil)

	title := "NDA review"
	updated, err := client.UpdateTitle(context.Background(), &models.Conversation{
		ID:         42,
		DocumentID: 7,
		UserID:     3,
		Title:      &title,
		Messages: []models.Message{
			{ID: 1, ConversationID: 42, Author: models.AuthorUser, Content: "Summarize the NDA"},
		},
	})
	if err != nil {
		t.Fatalf("UpdateTitle() error = %v", err)
	}
	if gotMethod != http.MethodPatch || gotPath != "/api/v1/conversations/42" {
		t.Errorf("request = %s %s", gotMethod, gotPath)
	}
	// JSON numbers decode as float64.
	if gotBody["id"] != float64(42) || gotBody["document_id"] != float64(7) || gotBody["user_id"] != float64(3) {
		t.Errorf("body ids = %v", gotBody)
	}
	if gotBody["title"] != "NDA review" {
		t.Errorf("body title = %v", gotBody["title"])
	}
	if messages, ok := gotBody["messages"].([]any); !ok || len(messages) != 1 {
		t.Errorf("body messages = %v", gotBody["messages"])
	}
	if updated.DisplayTitle() != "NDA review" {
		t.Errorf("title = %q", updated.DisplayTitle())
	}

	if _, err := client.UpdateTitle(context.Background(), nil); err == nil {
		t.Error("expected error for nil conversation")
	}
}

func TestErrorDetailShapes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{name: "detail string", status: 400, body: `{"detail": "bad"}`, want: "bad"},
		{name: "detail list", status: 422, body: `{"detail": [{"msg": "field required"}, {"msg": "too long"}]}`, want: "field required; too long"},
		{name: "message", status: 500, body: `{"message": "boom"}`, want: "boom"},
		{name: "plain text", status: 502, body: "upstream down\n", want: "upstream down"},
		{name: "empty", status: 503, body: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}), nil)

			_, err := client.FetchDocument(context.Background(), 1)
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %v", err)
			}
			if apiErr.StatusCode != tt.status || apiErr.Detail != tt.want {
				t.Errorf("got status %d detail %q", apiErr.StatusCode, apiErr.Detail)
			}
			if !strings.Contains(apiErr.Error(), "GET documents/1") {
				t.Errorf("Error() = %q", apiErr.Error())
			}
		})
	}
}

func TestUnauthorizedMatches(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}), nil)

	if _, err := client.ListDocuments(context.Background()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestRequestWithoutTokenSendsNoCookie(t *testing.T) {
	var cookies int
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookies = len(r.Cookies())
		_, _ = io.WriteString(w, `[]`)
	}), func(cfg *Config) { cfg.Tokens = auth.StaticToken("") })

	documents, err := client.ListDocuments(context.Background())
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}
	if cookies != 0 || len(documents) != 0 {
		t.Errorf("cookies = %d, documents = %v", cookies, documents)
	}
}

type failingSource struct{}

func (failingSource) Token(context.Context) (string, error) { return "", auth.ErrTokenExpired }

func TestExpiredTokenFailsBeforeRequest(t *testing.T) {
	var calls int
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}), func(cfg *Config) { cfg.Tokens = failingSource{} })

	if _, err := client.FetchHistory(context.Background(), 1); !errors.Is(err, auth.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if calls != 0 {
		t.Errorf("server saw %d requests", calls)
	}
}

func TestLogin(t *testing.T) {
	var gotUser, gotPassword string
	var sawCookie bool
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/login" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, err := r.Cookie("legalcheck_access_token")
		sawCookie = err == nil
		_ = r.ParseMultipartForm(1 << 20)
		gotUser = r.FormValue("username")
		gotPassword = r.FormValue("password")
		http.SetCookie(w, &http.Cookie{Name: "legalcheck_access_token", Value: "fresh-token", HttpOnly: true})
		_, _ = io.WriteString(w, `{"message": "ok"}`)
	}), nil)

	token, err := client.Login(context.Background(), " ada@example.com ", "hunter22")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if token != "fresh-token" {
		t.Errorf("token = %q", token)
	}
	if gotUser != "ada@example.com" || gotPassword != "hunter22" {
		t.Errorf("form = %q / %q", gotUser, gotPassword)
	}
	if sawCookie {
		t.Error("login must not send an existing session cookie")
	}
}

func TestLoginWithoutCookie(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}), nil)

	if _, err := client.Login(context.Background(), "a@b.c", "pw"); !errors.Is(err, ErrNoSessionCookie) {
		t.Fatalf("expected ErrNoSessionCookie, got %v", err)
	}
}

func TestLogout(t *testing.T) {
	var gotMethod, gotPath string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}), nil)

	if err := client.Logout(context.Background()); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/api/v1/auth/logout" {
		t.Errorf("request = %s %s", gotMethod, gotPath)
	}
}

func TestDebugRequestsRedactsPassword(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.LogConfig{Level: "debug", Format: "json", Output: &buf})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "legalcheck_access_token", Value: "t"})
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL, DebugRequests: true}, logger, nil, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if _, err := client.Login(context.Background(), "ada@example.com", "hunter22-secret"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "api request") || !strings.Contains(output, "api response") {
		t.Errorf("expected request and response debug lines, got %q", output)
	}
	if strings.Contains(output, "hunter22-secret") {
		t.Errorf("password leaked: %q", output)
	}
	if !strings.Contains(output, "ada@example.com") {
		t.Errorf("expected username in debug log, got %q", output)
	}
}

func TestRateLimiterHonorsContext(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	}), func(cfg *Config) {
		cfg.RequestsPerSecond = 0.001
		cfg.Burst = 1
	})

	if _, err := client.ListDocuments(context.Background()); err != nil {
		t.Fatalf("first request error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := client.ListDocuments(ctx); err == nil {
		t.Fatal("expected the second request to be throttled")
	}
}

func TestConcurrentRequestsGetDistinctIDs(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[r.Header.Get("X-Request-ID")] = true
		mu.Unlock()
		_, _ = io.WriteString(w, `{"id": 1, "filename": "nda.pdf", "company_id": null, "is_processed": true, "created_at": "2026-03-01T10:00:00"}`)
	}), nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := client.FetchDocument(context.Background(), 1); err != nil {
				t.Errorf("FetchDocument() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if len(seen) != 5 {
		t.Errorf("distinct request ids = %d, want 5", len(seen))
	}
}
