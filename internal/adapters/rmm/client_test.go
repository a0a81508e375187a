package rmm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kacper-wojtaszczyk/oar-distribution/internal/model"
)

const twoComponentRecord = `{
	"ResultCount": 1,
	"ResultData": [{
		"@id": "abc/def/mydata",
		"title": "My data",
		"components": [
			{"@type": "nrdp:DataFile", "downloadURL": "http://x/1", "filepath": "a.txt"},
			{"@type": "nrdp:Other"}
		]
	}]
}`

func newTestClient(serverURL string, retries int) *Client {
	c := NewClient(Config{BaseURL: serverURL, Timeout: time.Second, Retries: retries})
	c.retryInterval = time.Millisecond
	c.maxRetryInterval = 5 * time.Millisecond
	return c
}

func TestClient_Resolve(t *testing.T) {
	var gotQuery, gotPath, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(twoComponentRecord))
	}))
	defer server.Close()

	client := newTestClient(server.URL+"/rmm/", 0)

	record, err := client.Resolve(context.Background(), model.Identifier("abc/def/mydata"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if gotPath != "/rmm/records" {
		t.Errorf("expected path /rmm/records, got %s", gotPath)
	}
	if !strings.HasPrefix(gotQuery, "@id=abc%2Fdef%2Fmydata") || !strings.HasSuffix(gotQuery, "&include=components") {
		t.Errorf("unexpected query %q", gotQuery)
	}
	if gotAccept != "application/json" {
		t.Errorf("expected Accept application/json, got %q", gotAccept)
	}
	if record.ID != "abc/def/mydata" || record.Title != "My data" {
		t.Errorf("unexpected record: %+v", record)
	}
	if len(record.Components) != 2 {
		t.Fatalf("expected 2 components, got %d", len(record.Components))
	}
	if record.Components[0].DownloadURL != "http://x/1" || record.Components[0].FilePath != "a.txt" {
		t.Errorf("unexpected first component: %+v", record.Components[0])
	}
}

func TestClient_Resolve_BaseURLWithoutSlash(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(twoComponentRecord))
	}))
	defer server.Close()

	if _, err := newTestClient(server.URL+"/rmm", 0).Resolve(context.Background(), "abc/def/mydata"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if gotPath != "/rmm/records" {
		t.Fatalf("expected path /rmm/records, got %s", gotPath)
	}
}

func TestClient_Resolve_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
		reason  string
	}{
		{name: "empty result list", status: 200, body: `{"ResultCount": 0, "ResultData": []}`, wantErr: ErrNoRecords, reason: "empty result"},
		{name: "missing result list", status: 200, body: `{"ResultCount": 0}`, wantErr: ErrNoRecords, reason: "empty result"},
		{name: "record without components", status: 200, body: `{"ResultData": [{"@id": "abc/def/mydata"}]}`, wantErr: ErrNoComponents, reason: "incomplete record"},
		{name: "malformed json", status: 200, body: `{"ResultData": [`, reason: "malformed response"},
		{name: "wrong shape", status: 200, body: `{"ResultData": {"components": []}}`, reason: "malformed response"},
		{name: "bad @type", status: 200, body: `{"ResultData": [{"components": [{"@type": 7}]}]}`, reason: "malformed response"},
		{name: "not found status", status: 404, body: `not here`, reason: "unexpected status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestClient(server.URL, 0).Resolve(context.Background(), "abc/def/mydata")
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			var resErr *ResolutionError
			if !errors.As(err, &resErr) {
				t.Fatalf("expected *ResolutionError, got %T: %v", err, err)
			}
			if resErr.Reason != tt.reason {
				t.Errorf("expected reason %q, got %q", tt.reason, resErr.Reason)
			}
			if resErr.Identifier != "abc/def/mydata" {
				t.Errorf("expected identifier in error, got %q", resErr.Identifier)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected errors.Is(%v), got %v", tt.wantErr, err)
			}
		})
	}
}

func TestClient_Resolve_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(twoComponentRecord))
	}))
	defer server.Close()

	record, err := newTestClient(server.URL, 3).Resolve(context.Background(), "abc/def/mydata")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(record.Components) != 2 {
		t.Fatalf("expected 2 components, got %d", len(record.Components))
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
}

func TestClient_Resolve_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, 2).Resolve(context.Background(), "abc/def/mydata")
	var resErr *ResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("expected *ResolutionError, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 1 attempt + 2 retries, got %d calls", got)
	}
}

func TestClient_Resolve_NoRetryOnPermanentFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"ResultData": []}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, 5).Resolve(context.Background(), "abc/def/mydata")
	if !errors.Is(err, ErrNoRecords) {
		t.Fatalf("expected ErrNoRecords, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected a single call, got %d", got)
	}
}

func TestClient_Resolve_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newTestClient(url, 0).Resolve(context.Background(), "abc/def/mydata")
	var resErr *ResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("expected *ResolutionError, got %v", err)
	}
	if resErr.Reason != "request failed" {
		t.Fatalf("expected reason 'request failed', got %q", resErr.Reason)
	}
}

func TestClient_Resolve_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL, 0)
	client.timeout = 50 * time.Millisecond

	_, err := client.Resolve(context.Background(), "abc/def/mydata")
	if err == nil {
		t.Fatal("expected timeout error, got nil")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got: %v", err)
	}
}
