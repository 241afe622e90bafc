package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) *HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewHTTPClient(Options{
		BaseURL:   server.URL,
		BaseDelay: time.Millisecond,
		MaxDelay:  5 * time.Millisecond,
	})
}

func TestLoginStoresSessionCookieForLaterCalls(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Password string `json:"password"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Password != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "wrong password"})
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "crmrebs_token", Value: "session-1", Path: "/"})
		_ = json.NewEncoder(w).Encode(map[string]bool{"success": true})
	})
	mux.HandleFunc("/api/leads/new", func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("crmrebs_token")
		if err != nil || cookie.Value != "session-1" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "no session"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"leads": []map[string]any{{"property_id": "p1", "status": "LEAD"}},
		})
	})
	client := newTestClient(t, mux)

	if _, err := client.ListNewLeads(context.Background()); !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired before login, got %v", err)
	}
	if err := client.Login(context.Background(), "hunter2"); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	got, err := client.ListNewLeads(context.Background())
	if err != nil {
		t.Fatalf("list after login failed: %v", err)
	}
	if len(got) != 1 || got[0].PropertyID != "p1" {
		t.Fatalf("unexpected leads: %+v", got)
	}
}

func TestErrorClassificationByStatus(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/leads/new":
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "session expired"})
		case "/api/send-whatsapp":
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"detail": "lead has no phone number"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	_, err := client.ListNewLeads(context.Background())
	if !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired for 401, got %v", err)
	}
	if errors.Is(err, ErrRejected) {
		t.Fatalf("a 401 must not also classify as rejected")
	}

	err = client.SendOutreach(context.Background(), "p1", "")
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected for 400, got %v", err)
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected an HTTPError, got %T", err)
	}
	if httpErr.Message != "lead has no phone number" {
		t.Fatalf("expected the detail field surfaced, got %q", httpErr.Message)
	}
}

func TestTransientFailuresAreRetried(t *testing.T) {
	var calls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"leads": []map[string]any{}})
	}))

	if _, err := client.ListNewLeads(context.Background()); err != nil {
		t.Fatalf("expected retries to succeed eventually: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Fatalf("expected 3 attempts, saw %d", n)
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "bad input"})
	}))

	if err := client.Reply(context.Background(), "p1", "hello"); err == nil {
		t.Fatalf("expected error")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("a 4xx must not be retried, saw %d attempts", n)
	}
}

func TestSendOutreachOmitsEmptyTemplate(t *testing.T) {
	var bodies []map[string]string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies = append(bodies, body)
		_ = json.NewEncoder(w).Encode(map[string]bool{"success": true})
	}))

	if err := client.SendOutreach(context.Background(), "p1", ""); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if err := client.SendOutreach(context.Background(), "p2", "followup"); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if _, ok := bodies[0]["template_name"]; ok {
		t.Fatalf("empty template must be omitted, got %+v", bodies[0])
	}
	if bodies[1]["template_name"] != "followup" || bodies[1]["property_id"] != "p2" {
		t.Fatalf("unexpected send body: %+v", bodies[1])
	}
}

func TestMarkReadPostsReadFlag(t *testing.T) {
	var got map[string]bool
	var path string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]bool{"success": true})
	}))

	if err := client.MarkRead(context.Background(), "p9"); err != nil {
		t.Fatalf("mark-read failed: %v", err)
	}
	if path != "/api/leads/p9/mark-read" {
		t.Fatalf("unexpected path %q", path)
	}
	if !got["read"] {
		t.Fatalf("expected read=true, got %+v", got)
	}
}
