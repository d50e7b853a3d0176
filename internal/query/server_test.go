package query

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/llasta/ragcore/internal/models"
	"github.com/llasta/ragcore/internal/storeclient"
)

func newChatTestServer(t *testing.T, p *Pipeline, storeURL string, prober GatewayProber) http.Handler {
	t.Helper()
	client := storeclient.New(storeURL, 2*time.Second, 1)
	srv := NewServer(p, client, prober, "127.0.0.1", 0, zap.NewNop())
	return srv.Router()
}

type fakeProber struct{ err error }

func (f fakeProber) Ping(ctx context.Context) error { return f.err }

var errDown = errors.New("gateway down")

func TestServer_Chat(t *testing.T) {
	searcher := &fakeSearcher{results: []models.SearchResult{hit("a", 0.9)}}
	reranker := &fakeReranker{scores: map[string]float64{"a": 0.9}}
	gen := &fakeGenerator{answer: "hello from the pipeline"}
	p := NewPipeline(searcher, reranker, gen, testQueryConfig(), zap.NewNop())
	h := newChatTestServer(t, p, "http://unused", fakeProber{})

	body, _ := json.Marshal(models.ChatRequest{
		Messages: []models.ChatMessage{{Role: "user", Content: "a question"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var resp models.ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Answer != "hello from the pipeline" || len(resp.Citations) != 1 {
		t.Errorf("resp=%+v", resp)
	}
}

func TestServer_ChatBadBody(t *testing.T) {
	p := NewPipeline(&fakeSearcher{}, &fakeReranker{}, &fakeGenerator{}, testQueryConfig(), zap.NewNop())
	h := newChatTestServer(t, p, "http://unused", fakeProber{})

	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewBufferString("{bad"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status=%d", rec.Code)
	}
}

func TestServer_HealthReportsStore(t *testing.T) {
	storeStub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer storeStub.Close()

	p := NewPipeline(&fakeSearcher{}, &fakeReranker{}, &fakeGenerator{}, testQueryConfig(), zap.NewNop())
	h := newChatTestServer(t, p, storeStub.URL, fakeProber{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var body map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "healthy" || body["store"] != "healthy" || body["generation"] != "healthy" {
		t.Errorf("body=%v", body)
	}
}

func TestServer_HealthWithGenerationDown(t *testing.T) {
	storeStub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	}))
	defer storeStub.Close()

	p := NewPipeline(&fakeSearcher{}, &fakeReranker{}, &fakeGenerator{}, testQueryConfig(), zap.NewNop())
	client := storeclient.New(storeStub.URL, 2*time.Second, 1)
	srv := NewServer(p, client, fakeProber{err: errDown}, "127.0.0.1", 0, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var body map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["store"] != "healthy" || body["generation"] == "healthy" {
		t.Errorf("body=%v", body)
	}
}

func TestServer_HealthWithStoreDown(t *testing.T) {
	p := NewPipeline(&fakeSearcher{}, &fakeReranker{}, &fakeGenerator{}, testQueryConfig(), zap.NewNop())
	h := newChatTestServer(t, p, "http://127.0.0.1:1", fakeProber{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	// The query server itself stays healthy; the store status carries the error.
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var body map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["store"] == "healthy" {
		t.Error("store reported healthy while unreachable")
	}
}
