package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"xsanitaz-backend/internal/config"
	"xsanitaz-backend/internal/provider"
	"xsanitaz-backend/internal/relay"
	"xsanitaz-backend/internal/store"
	"xsanitaz-backend/internal/types"
)

type fakeDetector struct {
	calls  atomic.Int32
	result provider.Result
}

func (d *fakeDetector) Name() string { return "fake" }

func (d *fakeDetector) Detect(ctx context.Context, in provider.Input) provider.Result {
	d.calls.Add(1)
	return d.result
}

func testConfig() config.Config {
	return config.Config{
		AllowedOrigins:         []string{"*"},
		DefaultSessionID:       "default",
		MaxAttachmentBytes:     64,
		AllowedAttachmentTypes: []string{"image/", "application/pdf"},
		UpstreamTimeout:        time.Second,
	}
}

func newTestServer(d provider.Detector, limiter *RateLimiter) *Server {
	return newTestServerWithLog(d, limiter, testConfig(), nil)
}

func newTestServerWithLog(d provider.Detector, limiter *RateLimiter, cfg config.Config, failures store.FailureLog) *Server {
	var rec relay.FailureRecorder
	if failures != nil {
		rec = failures
	}
	svc := relay.NewService(d, relay.Options{
		Timeout:          cfg.UpstreamTimeout,
		DefaultSessionID: cfg.DefaultSessionID,
		Attachments: relay.AttachmentPolicy{
			MaxBytes:     cfg.MaxAttachmentBytes,
			AllowedTypes: cfg.AllowedAttachmentTypes,
		},
		Recorder: rec,
	})
	return NewServer(cfg, svc, limiter, failures)
}

func postJSON(t *testing.T, h http.Handler, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/message", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func postFile(t *testing.T, h http.Handler, message, filename, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if message != "" {
		if err := mw.WriteField("message", message); err != nil {
			t.Fatal(err)
		}
	}
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/message", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestMessageReturnsReply(t *testing.T) {
	d := &fakeDetector{result: provider.Succeed("I'm here for you. What's on your mind?")}
	srv := newTestServer(d, nil)

	rr := postJSON(t, srv.Router(), `{"message":"I feel anxious today"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp types.MessageResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Reply != "I'm here for you. What's on your mind?" {
		t.Fatalf("unexpected reply %q", resp.Reply)
	}
	if rr.Header().Get("X-Session-Id") != "" {
		t.Fatalf("default session must not be echoed as a header")
	}
}

func TestMessageRejectsBlank(t *testing.T) {
	d := &fakeDetector{result: provider.Succeed("nope")}
	srv := newTestServer(d, nil)

	for _, body := range []string{`{"message":""}`, `{"message":"   "}`, `{}`} {
		rr := postJSON(t, srv.Router(), body, nil)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rr.Code)
		}
		var resp types.ErrorResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil || resp.Error == "" {
			t.Fatalf("%s: expected error body, got %s", body, rr.Body.String())
		}
	}
	if d.calls.Load() != 0 {
		t.Fatalf("provider called %d times for blank input", d.calls.Load())
	}
}

func TestMessageRejectsInvalidJSON(t *testing.T) {
	srv := newTestServer(&fakeDetector{result: provider.Succeed("x")}, nil)
	rr := postJSON(t, srv.Router(), `{"message":`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestMessageUpstreamFailureUsesFallback(t *testing.T) {
	d := &fakeDetector{result: provider.Fail(errors.New("network timeout"))}
	srv := newTestServer(d, nil)

	rr := postJSON(t, srv.Router(), `{"message":"hello"}`, nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "network timeout") {
		t.Fatalf("cause leaked to client: %s", rr.Body.String())
	}
	var resp types.MessageResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Reply != relay.FallbackReply {
		t.Fatalf("expected fallback reply, got %q", resp.Reply)
	}
}

func TestMessageEchoesSessionHeader(t *testing.T) {
	d := &fakeDetector{result: provider.Succeed("ok")}
	srv := newTestServer(d, nil)

	rr := postJSON(t, srv.Router(), `{"message":"hi"}`, http.Header{"X-Session-Id": {"tab-42"}})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("X-Session-Id"); got != "tab-42" {
		t.Fatalf("expected session header tab-42, got %q", got)
	}
	found := false
	for _, c := range rr.Result().Cookies() {
		if c.Name == CookieName && c.Value == "tab-42" {
			found = true
		}
	}
	if !found {
		t.Fatalf("session cookie not set")
	}
}

func TestMessageAttachmentOnly(t *testing.T) {
	d := &fakeDetector{result: provider.Succeed("unused")}
	srv := newTestServer(d, nil)

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	rr := postFile(t, srv.Router(), "", "calm.png", "image/png", png)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp types.MessageResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Reply != relay.AttachmentAck {
		t.Fatalf("unexpected reply %q", resp.Reply)
	}
	if resp.Attachment == nil || resp.Attachment.MIMEType != "image/png" || resp.Attachment.Size != int64(len(png)) {
		t.Fatalf("unexpected attachment %+v", resp.Attachment)
	}
	if d.calls.Load() != 0 {
		t.Fatalf("attachment-only message reached the provider")
	}
}

func TestMessageAttachmentRejected(t *testing.T) {
	srv := newTestServer(&fakeDetector{result: provider.Succeed("unused")}, nil)

	rr := postFile(t, srv.Router(), "look", "big.png", "image/png", bytes.Repeat([]byte{7}, 100))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}

	rr = postFile(t, srv.Router(), "look", "setup.exe", "application/x-msdownload", []byte("MZ"))
	if rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", rr.Code)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(&fakeDetector{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp types.HealthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.Provider != "fake" {
		t.Fatalf("unexpected health %+v", resp)
	}
}

func TestRateLimiterFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	d := &fakeDetector{result: provider.Succeed("ok")}
	srv := newTestServer(d, NewRateLimiter(client, 1))
	for i := 0; i < 3; i++ {
		rr := postJSON(t, srv.Router(), `{"message":"hi"}`, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200 with redis down, got %d", i, rr.Code)
		}
	}
}

func TestNilRateLimiterAllows(t *testing.T) {
	var l *RateLimiter
	if !l.Allow(context.Background(), "1.2.3.4") {
		t.Fatal("nil limiter must allow")
	}
	if !NewRateLimiter(nil, 5).Allow(context.Background(), "1.2.3.4") {
		t.Fatal("limiter without client must allow")
	}
}

func TestDiagnosticsListsRecordedFailures(t *testing.T) {
	cfg := testConfig()
	cfg.EnableDiagnostics = true
	failures := store.NewMemoryFailureLog(10)
	srv := newTestServerWithLog(&fakeDetector{result: provider.Fail(errors.New("quota exceeded"))}, nil, cfg, failures)

	postJSON(t, srv.Router(), `{"message":"hello","sessionId":"s-9"}`, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/diagnostics/failures?limit=5", nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var got []types.FailureResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Cause != "quota exceeded" || got[0].SessionID != "s-9" || got[0].Provider != "fake" {
		t.Fatalf("unexpected failures %+v", got)
	}
	if got[0].RequestID == "" {
		t.Fatalf("expected request id from middleware")
	}
}

func TestDiagnosticsDisabledByDefault(t *testing.T) {
	srv := newTestServerWithLog(&fakeDetector{}, nil, testConfig(), store.NewMemoryFailureLog(10))
	req := httptest.NewRequest(http.MethodGet, "/api/diagnostics/failures", nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when diagnostics are disabled, got %d", rr.Code)
	}
}

func TestMessageJSONBodyTooLarge(t *testing.T) {
	d := &fakeDetector{result: provider.Succeed("unused")}
	srv := newTestServer(d, nil)

	body := `{"message":"` + strings.Repeat("a", maxJSONBody+16) + `"}`
	rr := postJSON(t, srv.Router(), body, nil)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
	var resp types.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil || resp.Error == "" {
		t.Fatalf("expected error body, got %s", rr.Body.String())
	}
	if d.calls.Load() != 0 {
		t.Fatalf("oversized body reached the provider")
	}
}

func TestMessageMultipartBodyOverTransportCap(t *testing.T) {
	d := &fakeDetector{result: provider.Succeed("unused")}
	srv := newTestServer(d, nil)

	// MaxAttachmentBytes is 64, so the body cap is 64 bytes + 1 MiB.
	data := bytes.Repeat([]byte{7}, 1<<20+1024)
	rr := postFile(t, srv.Router(), "look", "huge.png", "image/png", data)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp types.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil || resp.Error == "" {
		t.Fatalf("expected error body, got %s", rr.Body.String())
	}
	if d.calls.Load() != 0 {
		t.Fatalf("oversized upload reached the provider")
	}
}

func TestMessageReceiptKeepsDeclaredType(t *testing.T) {
	srv := newTestServer(&fakeDetector{result: provider.Succeed("unused")}, nil)

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	rr := postFile(t, srv.Router(), "", "beach", "application/octet-stream", png)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp types.MessageResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Attachment == nil {
		t.Fatal("missing attachment receipt")
	}
	if resp.Attachment.MIMEType != "image/png" || resp.Attachment.DeclaredMIMEType != "application/octet-stream" {
		t.Fatalf("unexpected types %+v", resp.Attachment)
	}
}

type pingLog struct {
	*store.MemoryFailureLog
	err error
}

func (p pingLog) HealthCheck() error { return p.err }

func TestHealthReportsDatabase(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus string
		wantDB     string
	}{
		{"up", nil, "ok", "ok"},
		{"down", errors.New("connection refused"), "degraded", "down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := pingLog{MemoryFailureLog: store.NewMemoryFailureLog(10), err: tt.err}
			srv := newTestServerWithLog(&fakeDetector{}, nil, testConfig(), log)

			rr := httptest.NewRecorder()
			srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
			var resp types.HealthResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Status != tt.wantStatus || resp.DB != tt.wantDB {
				t.Fatalf("got status=%q db=%q, want %q/%q", resp.Status, resp.DB, tt.wantStatus, tt.wantDB)
			}
			if strings.Contains(rr.Body.String(), "connection refused") {
				t.Fatalf("health leaked the database error")
			}
		})
	}
}

func TestHealthWithoutDatabaseOmitsDB(t *testing.T) {
	srv := newTestServerWithLog(&fakeDetector{}, nil, testConfig(), store.NewMemoryFailureLog(10))
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if strings.Contains(rr.Body.String(), `"db"`) {
		t.Fatalf("memory log must not report a database: %s", rr.Body.String())
	}
}

func TestClientKeyIgnoresForwardedHeadersByDefault(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		want       string
	}{
		{"direct", false, "10.0.0.1"},
		{"behind proxy", true, "203.0.113.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.TrustProxy = tt.trustProxy
			srv := newTestServerWithLog(&fakeDetector{}, nil, cfg, nil)
			srv.router.Get("/test/client-key", func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(clientKey(r)))
			})

			req := httptest.NewRequest(http.MethodGet, "/test/client-key", nil)
			req.RemoteAddr = "10.0.0.1:5123"
			req.Header.Set("X-Forwarded-For", "203.0.113.7")
			rr := httptest.NewRecorder()
			srv.Router().ServeHTTP(rr, req)
			if got := rr.Body.String(); got != tt.want {
				t.Fatalf("client key %q, want %q", got, tt.want)
			}
		})
	}
}
