package consult_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wenzhenlab/wenzhen/internal/consult"
	"github.com/wenzhenlab/wenzhen/internal/jsonval"
	"github.com/wenzhenlab/wenzhen/internal/profile"
)

func newTestClient(t *testing.T, baseURL string) *consult.Client {
	t.Helper()
	c, err := consult.NewClient(consult.Config{
		BaseURL:        baseURL,
		ConnectTimeout: 2 * time.Second,
		ReadTimeout:    5 * time.Second,
	}, nil)
	if err != nil {
		t.Fatalf("NewClient: unexpected error: %v", err)
	}
	return c
}

func testRequest() *consult.Request {
	rec := profile.New("阿明", "男", 30)
	rec.AppendUserMessage("头疼")
	return consult.BuildRequest(rec, "头疼", "", "")
}

// collectOne waits for the single outcome and asserts the channel closes
// after it, verifying the exactly-once contract.
func collectOne(t *testing.T, ch <-chan consult.Outcome) consult.Outcome {
	t.Helper()
	out, ok := <-ch
	if !ok {
		t.Fatal("channel closed without an outcome")
	}
	if _, ok := <-ch; ok {
		t.Fatal("received a second outcome")
	}
	return out
}

func TestClient_Send_Success(t *testing.T) {
	t.Parallel()

	var gotReq consult.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tcm_process" {
			t.Errorf("path = %q, want /api/tcm_process", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"data": map[string]any{
				"reply_text":          "注意休息",
				"has_new_context":     true,
				"new_context_to_save": map[string]any{"main_symptom": "头疼"},
			},
		})
	}))
	defer srv.Close()

	out := collectOne(t, newTestClient(t, srv.URL).Send(context.Background(), testRequest()))
	if out.Err != nil {
		t.Fatalf("Send: unexpected error: %v", out.Err)
	}
	if got := out.Response.ReplyText(); got != "注意休息" {
		t.Errorf("ReplyText = %q, want 注意休息", got)
	}
	ctx := out.Response.NewContext()
	if s, _ := ctx["main_symptom"].StringVal(); s != "头疼" {
		t.Errorf("NewContext[main_symptom] = %q, want 头疼", s)
	}

	if gotReq.RequestType != "multi" {
		t.Errorf("request_type = %q, want multi", gotReq.RequestType)
	}
	if gotReq.UserID == "" {
		t.Error("user_id missing from request")
	}
	if len(gotReq.Payload.History) != 1 {
		t.Errorf("history length = %d, want 1", len(gotReq.Payload.History))
	}
}

func TestClient_Send_EnvelopeFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "error",
			"message": "模型服务繁忙",
		})
	}))
	defer srv.Close()

	out := collectOne(t, newTestClient(t, srv.URL).Send(context.Background(), testRequest()))
	if out.Err == nil {
		t.Fatal("expected error for non-success envelope")
	}
	var envErr *consult.EnvelopeError
	if !errors.As(out.Err, &envErr) {
		t.Fatalf("error = %v, want EnvelopeError", out.Err)
	}
	if got := consult.UserMessage(out.Err); got != "模型服务繁忙" {
		t.Errorf("UserMessage = %q, want the envelope message", got)
	}
}

func TestClient_Send_EnvelopeFailureDefaultMessage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "error"})
	}))
	defer srv.Close()

	out := collectOne(t, newTestClient(t, srv.URL).Send(context.Background(), testRequest()))
	if got := consult.UserMessage(out.Err); got != "请求失败" {
		t.Errorf("UserMessage = %q, want 请求失败", got)
	}
}

func TestClient_Send_MalformedBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	out := collectOne(t, newTestClient(t, srv.URL).Send(context.Background(), testRequest()))
	var parseErr *consult.ParseError
	if !errors.As(out.Err, &parseErr) {
		t.Fatalf("error = %v, want ParseError", out.Err)
	}
}

func TestClient_Send_EmptyBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	out := collectOne(t, newTestClient(t, srv.URL).Send(context.Background(), testRequest()))
	if !errors.Is(out.Err, consult.ErrEmptyBody) {
		t.Fatalf("error = %v, want ErrEmptyBody", out.Err)
	}
	if got := consult.UserMessage(out.Err); got != "服务器返回空响应" {
		t.Errorf("UserMessage = %q, want 服务器返回空响应", got)
	}
}

func TestClient_Send_HTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	out := collectOne(t, newTestClient(t, srv.URL).Send(context.Background(), testRequest()))
	var statusErr *consult.StatusError
	if !errors.As(out.Err, &statusErr) {
		t.Fatalf("error = %v, want StatusError", out.Err)
	}
	if statusErr.Code != http.StatusBadGateway {
		t.Errorf("Code = %d, want 502", statusErr.Code)
	}
	if got := consult.UserMessage(out.Err); got != "服务器错误：502" {
		t.Errorf("UserMessage = %q, want 服务器错误：502", got)
	}
}

func TestClient_Send_TransportFailure(t *testing.T) {
	t.Parallel()

	// Point at a closed port: connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	out := collectOne(t, newTestClient(t, url).Send(context.Background(), testRequest()))
	if out.Err == nil {
		t.Fatal("expected transport error")
	}
	if got := consult.UserMessage(out.Err); got != "服务器拒绝连接，请稍后重试" {
		t.Errorf("UserMessage = %q, want connection-refused category", got)
	}
}

func TestClient_CancelAll_OutcomeNeverFires(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "success"})
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(t, srv.URL)
	ch := c.Send(context.Background(), testRequest())

	<-started
	c.CancelAll()

	select {
	case out, ok := <-ch:
		if ok {
			t.Fatalf("cancelled request delivered an outcome: %+v", out)
		}
		// Closed without a value: the cancelled callback never fired.
	case <-time.After(5 * time.Second):
		t.Fatal("channel not closed after CancelAll")
	}
}

func TestClient_CallerContextCancelDelivers(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	ch := newTestClient(t, srv.URL).Send(ctx, testRequest())
	cancel()

	out, ok := <-ch
	if !ok {
		t.Fatal("caller-cancelled request should deliver an error outcome")
	}
	if !errors.Is(out.Err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", out.Err)
	}
}

func TestNewClient_Validation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		cfg     consult.Config
		wantErr bool
	}{
		{"valid", consult.Config{BaseURL: "https://api.example.com"}, false},
		{"trailing slash trimmed", consult.Config{BaseURL: "http://api.example.com/"}, false},
		{"missing base url", consult.Config{}, true},
		{"bad scheme", consult.Config{BaseURL: "ftp://api.example.com"}, true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := consult.NewClient(tc.cfg, nil)
			if (err != nil) != tc.wantErr {
				t.Errorf("NewClient(%+v) error = %v, wantErr %v", tc.cfg, err, tc.wantErr)
			}
		})
	}
}

func TestBuildRequest_SnapshotsRecord(t *testing.T) {
	t.Parallel()

	rec := profile.New("A", "男", 30)
	rec.AppendUserMessage("头疼")
	rec.MergeContext(jsonval.Object{"k": jsonval.String("v")})

	req := consult.BuildRequest(rec, "头疼", "face-b64", "tongue-b64")

	// Mutating the record afterwards must not reach the request.
	rec.AppendAssistantMessage("later")
	rec.MergeContext(jsonval.Object{"k": jsonval.String("changed")})

	if len(req.Payload.History) != 1 {
		t.Errorf("history length = %d, want snapshot of 1", len(req.Payload.History))
	}
	if s, _ := req.Payload.SavedContext["k"].StringVal(); s != "v" {
		t.Errorf("saved_context[k] = %q, want snapshot value v", s)
	}
	if req.Payload.Images.Face != "face-b64" || req.Payload.Images.Tongue != "tongue-b64" {
		t.Errorf("images = %+v", req.Payload.Images)
	}
	if !req.Payload.Images.HasImage() {
		t.Error("HasImage = false with both images set")
	}
}
