package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/life-stream-dev/life-stream-go-padlink/internal/database"
	"github.com/life-stream-dev/life-stream-go-padlink/internal/mailbox"
)

func newTestServer(t *testing.T, opts mailbox.Options) (*httptest.Server, *mailbox.Store) {
	t.Helper()
	store, err := mailbox.NewStore(opts)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	ts := httptest.NewServer(New(store, Options{}).Handler())
	t.Cleanup(func() {
		store.Close()
		ts.Close()
	})
	return ts, store
}

func do(t *testing.T, method, url string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	decoded := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp.StatusCode, decoded
}

func TestOfferRoundTrip(t *testing.T) {
	ts, _ := newTestServer(t, mailbox.Options{})

	status, body := do(t, http.MethodPost, ts.URL+"/offer", map[string]string{"offer": "O1"})
	if status != http.StatusOK {
		t.Fatalf("publish offer: status %d, body %v", status, body)
	}
	if body["message"] != "Offer received" {
		t.Errorf("unexpected message: %v", body["message"])
	}
	id, _ := body["sessionId"].(string)
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("sessionId %q is not a UUID: %v", id, err)
	}

	status, body = do(t, http.MethodGet, ts.URL+"/offer/"+id, nil)
	if status != http.StatusOK || body["offer"] != "O1" {
		t.Fatalf("fetch offer: status %d, body %v", status, body)
	}

	status, body = do(t, http.MethodGet, ts.URL+"/offer/"+id, nil)
	if status != http.StatusNotFound || body["error"] == nil {
		t.Fatalf("second fetch: expected 404 with error, got %d %v", status, body)
	}
}

func TestAnswerBeforeFetch(t *testing.T) {
	ts, _ := newTestServer(t, mailbox.Options{})
	id := uuid.New().String()

	status, body := do(t, http.MethodPost, ts.URL+"/answer", map[string]string{"sessionId": id, "answer": "A2"})
	if status != http.StatusOK || body["message"] != "Answer received" {
		t.Fatalf("publish answer: status %d, body %v", status, body)
	}

	status, body = do(t, http.MethodGet, ts.URL+"/answer/"+id, nil)
	if status != http.StatusOK || body["answer"] != "A2" {
		t.Fatalf("fetch answer: status %d, body %v", status, body)
	}

	status, _ = do(t, http.MethodPost, ts.URL+"/answer", map[string]string{"sessionId": id, "answer": "late"})
	if status != http.StatusGone {
		t.Fatalf("answer to a delivered session: expected 410, got %d", status)
	}
}

func TestLongPollAnswer(t *testing.T) {
	ts, store := newTestServer(t, mailbox.Options{})
	id, _ := store.PublishOffer("O1")

	type result struct {
		status int
		body   map[string]any
	}
	results := make(chan result, 1)
	go func() {
		status, body := do(t, http.MethodGet, ts.URL+"/answer/"+id.String(), nil)
		results <- result{status, body}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for store.Stats().Waiters != 1 {
		if time.Now().After(deadline) {
			t.Fatal("long poll never started waiting")
		}
		time.Sleep(time.Millisecond)
	}

	status, _ := do(t, http.MethodPost, ts.URL+"/answer", map[string]string{"sessionId": id.String(), "answer": "A1"})
	if status != http.StatusOK {
		t.Fatalf("publish answer: status %d", status)
	}
	r := <-results
	if r.status != http.StatusOK || r.body["answer"] != "A1" {
		t.Fatalf("long poll: status %d, body %v", r.status, r.body)
	}
}

func TestFetchErrors(t *testing.T) {
	ts, store := newTestServer(t, mailbox.Options{FetchTimeout: 20 * time.Millisecond})
	id, _ := store.PublishOffer("O1")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"unknown session", http.MethodGet, "/answer/" + uuid.New().String(), nil, http.StatusNotFound},
		{"malformed id", http.MethodGet, "/offer/not-a-uuid", nil, http.StatusBadRequest},
		{"timeout", http.MethodGet, "/answer/" + id.String(), nil, http.StatusRequestTimeout},
		{"client chosen id", http.MethodPost, "/offer", map[string]string{"offer": "O", "peer_id": "receiver-1"}, http.StatusBadRequest},
		{"empty offer", http.MethodPost, "/offer", map[string]string{}, http.StatusBadRequest},
		{"answer without id", http.MethodPost, "/answer", map[string]string{"answer": "A"}, http.StatusBadRequest},
		{"wrong method", http.MethodPut, "/offer", nil, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		status, body := do(t, tt.method, ts.URL+tt.path, tt.body)
		if status != tt.status {
			t.Errorf("%s: expected %d, got %d (%v)", tt.name, tt.status, status, body)
		}
	}

	resp, err := http.Post(ts.URL+"/offer", "application/json", bytes.NewBufferString("{"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid JSON: expected 400, got %d", resp.StatusCode)
	}
}

func TestCloseSessionAndHealth(t *testing.T) {
	ts, store := newTestServer(t, mailbox.Options{})
	id, _ := store.PublishOffer("O1")

	status, body := do(t, http.MethodGet, ts.URL+"/healthz", nil)
	if status != http.StatusOK || body["status"] != "ok" || body["sessions"] != float64(1) {
		t.Fatalf("health: status %d, body %v", status, body)
	}

	status, _ = do(t, http.MethodDelete, ts.URL+"/session/"+id.String(), nil)
	if status != http.StatusOK {
		t.Fatalf("close session: status %d", status)
	}
	status, _ = do(t, http.MethodDelete, ts.URL+"/session/"+id.String(), nil)
	if status != http.StatusNotFound {
		t.Fatalf("close twice: expected 404, got %d", status)
	}
	status, _ = do(t, http.MethodGet, ts.URL+"/offer/"+id.String(), nil)
	if status != http.StatusNotFound {
		t.Fatalf("fetch after close: expected 404, got %d", status)
	}
}

func TestHistoryRoute(t *testing.T) {
	memory := database.NewMemoryStore(0)
	auditor := database.NewAuditor(memory, "test", time.Second)
	store, err := mailbox.NewStore(mailbox.Options{Observer: auditor})
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(New(store, Options{History: auditor}).Handler())
	defer ts.Close()
	defer store.Close()

	id, _ := store.PublishOffer("O1")
	_ = auditor.Invoke(context.Background())

	status, body := do(t, http.MethodGet, ts.URL+"/session/"+id.String()+"/history", nil)
	if status != http.StatusOK {
		t.Fatalf("history: status %d, body %v", status, body)
	}
	events, _ := body["events"].([]any)
	if len(events) != 1 {
		t.Fatalf("expected one event, got %v", body)
	}

	status, _ = do(t, http.MethodGet, ts.URL+"/session/"+uuid.New().String()+"/history", nil)
	if status != http.StatusNotFound {
		t.Fatalf("history of unknown session: expected 404, got %d", status)
	}
}

func TestShutdownWakesLongPolls(t *testing.T) {
	store, err := mailbox.NewStore(mailbox.Options{})
	if err != nil {
		t.Fatal(err)
	}
	srv := New(store, Options{})
	ln, err := netListen()
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Serve(ln) }()
	base := "http://" + ln.Addr().String()

	id, _ := store.PublishOffer("O1")
	results := make(chan int, 1)
	go func() {
		status, _ := do(t, http.MethodGet, base+"/answer/"+id.String(), nil)
		results <- status
	}()
	deadline := time.Now().Add(2 * time.Second)
	for store.Stats().Waiters != 1 {
		if time.Now().After(deadline) {
			t.Fatal("long poll never started waiting")
		}
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Invoke(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if status := <-results; status != http.StatusServiceUnavailable {
		t.Fatalf("pending long poll: expected 503, got %d", status)
	}
}

func netListen() (net.Listener, error) {
	return net.Listen("tcp", "127.0.0.1:0")
}
