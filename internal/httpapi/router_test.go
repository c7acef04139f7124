package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gormsqlite "github.com/glebarez/sqlite"
	"github.com/gorilla/websocket"
	"github.com/suPer8Hu/smart-doctor/internal/ai"
	"github.com/suPer8Hu/smart-doctor/internal/chat"
	"github.com/suPer8Hu/smart-doctor/internal/config"
	"github.com/suPer8Hu/smart-doctor/internal/diagnosis"
	"github.com/suPer8Hu/smart-doctor/internal/httpapi/handlers"
	"github.com/suPer8Hu/smart-doctor/internal/store/memstore"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type countingCompleter struct {
	calls int32
	text  string
	fail  bool
	// echo replies with the last prompt turn instead of text
	echo bool
}

func (c *countingCompleter) Complete(ctx context.Context, messages []ai.Message) ai.Result {
	atomic.AddInt32(&c.calls, 1)
	if c.fail {
		return ai.Result{Text: ai.FallbackText, Error: true}
	}
	if c.echo && len(messages) > 0 {
		return ai.Result{Text: messages[len(messages)-1].Content, Model: "fake:default"}
	}
	return ai.Result{Text: c.text, Model: "fake:default"}
}

type fakePublisher struct {
	mu   sync.Mutex
	jobs []string
}

func (p *fakePublisher) PublishJob(ctx context.Context, jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, jobID)
	return nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := chat.NewRepo(db).AutoMigrate(); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type testEnv struct {
	router    *gin.Engine
	completer *countingCompleter
	publisher *fakePublisher
	svc       *chat.Service
}

func newTestEnv(t *testing.T, cfg config.Config, diag handlers.Predictor) *testEnv {
	t.Helper()
	comp := &countingCompleter{text: "Drink water and rest."}
	svc := chat.NewService(chat.NewRepo(openTestDB(t)), comp, chat.DefaultPrompt(), 10)
	pub := &fakePublisher{}
	store := memstore.New()
	if cfg.ReplyCacheTTLSec == 0 {
		cfg.ReplyCacheTTLSec = 60
	}
	h := handlers.NewHandler(cfg, svc, store, pub, diag)
	return &testEnv{
		router:    NewRouter(h, store),
		completer: comp,
		publisher: pub,
		svc:       svc,
	}
}

func doJSON(r http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPing(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)
	w := doJSON(env.router, http.MethodGet, "/ping", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"pong":true`) {
		t.Fatalf("unexpected ping %d %s", w.Code, w.Body.String())
	}
}

func TestComplete_ReturnsBareMessage(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)

	body := `{"message":{"id":"1700000000000","content":"I have a cough","isUserMessage":true},"history":[]}`
	w := doJSON(env.router, http.MethodPost, "/api/ai", body, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d %s", w.Code, w.Body.String())
	}

	var got map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["content"] != "Drink water and rest." || got["isUserMessage"] != false {
		t.Fatalf("unexpected body %v", got)
	}
	if id, _ := got["id"].(string); !strings.HasSuffix(id, "_ai_response") {
		t.Fatalf("unexpected id %v", got["id"])
	}
	if _, ok := got["error"]; ok {
		t.Fatalf("error flag must be omitted on success")
	}
}

func TestComplete_DuplicateMessageServedOnce(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)

	body := `{"message":{"id":"m-1","content":"hello","isUserMessage":true},"history":[]}`
	first := doJSON(env.router, http.MethodPost, "/api/ai", body, nil)
	second := doJSON(env.router, http.MethodPost, "/api/ai", body, nil)

	if first.Body.String() != second.Body.String() {
		t.Fatalf("expected identical replies\n%s\n%s", first.Body.String(), second.Body.String())
	}
	if n := atomic.LoadInt32(&env.completer.calls); n != 1 {
		t.Fatalf("expected 1 completion, got %d", n)
	}
}

func TestComplete_SameIDDifferentQuestionNotShared(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)
	env.completer.echo = true

	rash := `{"message":{"id":"1700000000000","content":"I have a rash on my arm","isUserMessage":true},"history":[]}`
	fever := `{"message":{"id":"1700000000000","content":"My child has a fever","isUserMessage":true},"history":[]}`
	first := doJSON(env.router, http.MethodPost, "/api/ai", rash, nil)
	second := doJSON(env.router, http.MethodPost, "/api/ai", fever, nil)

	if !strings.Contains(first.Body.String(), "rash") {
		t.Fatalf("unexpected first reply %s", first.Body.String())
	}
	if !strings.Contains(second.Body.String(), "fever") || strings.Contains(second.Body.String(), "rash") {
		t.Fatalf("second reply answered the wrong question: %s", second.Body.String())
	}
	if n := atomic.LoadInt32(&env.completer.calls); n != 2 {
		t.Fatalf("expected 2 completions, got %d", n)
	}

	withHistory := `{"message":{"id":"1700000000000","content":"My child has a fever","isUserMessage":true},` +
		`"history":[{"id":"0","content":"earlier","isUserMessage":true}]}`
	doJSON(env.router, http.MethodPost, "/api/ai", withHistory, nil)
	if n := atomic.LoadInt32(&env.completer.calls); n != 3 {
		t.Fatalf("expected a different history to miss the cache, got %d completions", n)
	}
}

func TestComplete_FallbackIsNotCached(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)
	env.completer.fail = true

	body := `{"message":{"id":"m-1","content":"hello","isUserMessage":true}}`
	w := doJSON(env.router, http.MethodPost, "/api/ai", body, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"error":true`) {
		t.Fatalf("expected fallback reply, got %d %s", w.Code, w.Body.String())
	}
	doJSON(env.router, http.MethodPost, "/api/ai", body, nil)
	if n := atomic.LoadInt32(&env.completer.calls); n != 2 {
		t.Fatalf("expected fallback to be retried, got %d calls", n)
	}
}

func TestComplete_RejectsBadInput(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)

	if w := doJSON(env.router, http.MethodPost, "/api/ai", `{`, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", w.Code)
	}
	if w := doJSON(env.router, http.MethodPost, "/api/ai", `{"message":{"id":"1","content":"  "}}`, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank message, got %d", w.Code)
	}
	if n := atomic.LoadInt32(&env.completer.calls); n != 0 {
		t.Fatalf("expected no completion, got %d", n)
	}
}

func TestCompletionJobs(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)

	body := `{"message":{"id":"1","content":"hello","isUserMessage":true}}`
	hdr := map[string]string{"Idempotency-Key": "k-1"}
	w := doJSON(env.router, http.MethodPost, "/api/ai/jobs", body, hdr)
	if w.Code != http.StatusOK {
		t.Fatalf("create job: %d %s", w.Code, w.Body.String())
	}
	var created struct {
		Data struct {
			JobID string `json:"job_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil || created.Data.JobID == "" {
		t.Fatalf("decode: %v %s", err, w.Body.String())
	}

	// same key, no second publish
	doJSON(env.router, http.MethodPost, "/api/ai/jobs", body, hdr)
	if len(env.publisher.jobs) != 1 {
		t.Fatalf("expected 1 publish, got %v", env.publisher.jobs)
	}

	if err := env.svc.RunJob(context.Background(), created.Data.JobID); err != nil {
		t.Fatalf("run job: %v", err)
	}

	w = doJSON(env.router, http.MethodGet, "/api/ai/jobs/"+created.Data.JobID, "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"succeeded"`) ||
		!strings.Contains(w.Body.String(), "Drink water and rest.") {
		t.Fatalf("unexpected job %d %s", w.Code, w.Body.String())
	}

	w = doJSON(env.router, http.MethodGet, "/api/ai/jobs/nope", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

type fakePredictor struct {
	organ diagnosis.Organ
	name  string
	data  []byte
}

func (p *fakePredictor) Predict(ctx context.Context, organ diagnosis.Organ, filename string, image io.Reader) (*diagnosis.Result, error) {
	p.organ, p.name = organ, filename
	p.data, _ = io.ReadAll(image)
	return &diagnosis.Result{Organ: organ, Label: "Normal", Severity: diagnosis.SeverityNormal, Upstream: []byte(`{"prediction":"normal"}`)}, nil
}

func TestDiagnose(t *testing.T) {
	pred := &fakePredictor{}
	env := newTestEnv(t, config.Config{}, pred)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("file", "eye.jpg")
	_, _ = part.Write([]byte("jpeg"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/diagnosis/eye", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"severity":"normal"`) {
		t.Fatalf("unexpected response %d %s", w.Code, w.Body.String())
	}
	if pred.organ != diagnosis.Eye || pred.name != "eye.jpg" || string(pred.data) != "jpeg" {
		t.Fatalf("unexpected upload %+v", pred)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/diagnosis/liver", nil)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown organ, got %d", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, config.Config{RateLimitPerMinute: 1}, nil)

	body := `{"message":{"id":"1","content":"hello","isUserMessage":true}}`
	doJSON(env.router, http.MethodPost, "/api/ai", body, nil)
	w := doJSON(env.router, http.MethodPost, "/api/ai", body, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
}

type stateFrame struct {
	Type       string         `json:"type"`
	Transcript []chat.Message `json:"transcript"`
	Pending    string         `json:"pending"`
	Loading    bool           `json:"loading"`
}

func TestChatSocket(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "submit", "text": "Hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var f stateFrame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("read: %v", err)
		}
		if f.Type != "state" || len(f.Transcript) < 2 {
			continue
		}
		if f.Transcript[0].Content != "Hello" || f.Transcript[1].Content != "Drink water and rest." || f.Pending != "" {
			t.Fatalf("unexpected state %+v", f)
		}
		return
	}
}
