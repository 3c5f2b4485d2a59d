package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/ctxstore/internal/apperr"
	"github.com/starford/ctxstore/internal/chunkstore"
	"github.com/starford/ctxstore/internal/extractor"
	"github.com/starford/ctxstore/internal/models"
	"github.com/starford/ctxstore/internal/service"
	"github.com/starford/ctxstore/internal/sse"
	"github.com/starford/ctxstore/internal/testutil"
	"github.com/starford/ctxstore/internal/tree"
)

type testEnv struct {
	store  *chunkstore.Store
	tree   *tree.Manager
	router http.Handler
}

// newTestEnv wires a temp store, the heuristic extractor and the router. An empty token
// disables auth.
func newTestEnv(t *testing.T, token string, events http.Handler) *testEnv {
	t.Helper()
	store, tm := testutil.Store(t)
	svc := service.New(store, extractor.NewHeuristic(), service.WithLogger(testutil.Logger()))
	return &testEnv{
		store:  store,
		tree:   tm,
		router: NewRouter(svc, store, tm, token != "", token, events),
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func seed(t *testing.T, e *testEnv) []string {
	t.Helper()
	return testutil.Seed(t, e.store,
		models.Insight{Category: "SOLUTIONS", Subcategory: "bug_fixes", Keywords: []string{"jwt", "token"}, Content: "Refresh tokens before expiry.", Confidence: 0.8},
		models.Insight{Category: "WORKFLOWS", Subcategory: "testing", Keywords: []string{"race"}, Content: "Run tests with -race.", Confidence: 0.6},
	)
}

func TestRetrieve_ExplicitQuery(t *testing.T) {
	e := newTestEnv(t, "", nil)
	seed(t, e)

	w := e.do(t, http.MethodPost, "/retrieve", RetrieveRequest{Keywords: []string{"jwt", "auth"}, Categories: []string{"SOLUTIONS/bug_fixes"}, Limit: 1}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decode[ChunksResponse](t, w)
	if len(resp.Chunks) != 1 || resp.Chunks[0].ID != "solutions-bug_fixes-001" {
		t.Fatalf("chunks = %+v", resp.Chunks)
	}
	if resp.Chunks[0].Score <= 0 {
		t.Errorf("score = %v", resp.Chunks[0].Score)
	}
}

func TestRetrieve_PromptEnhances(t *testing.T) {
	e := newTestEnv(t, "", nil)
	seed(t, e)

	w := e.do(t, http.MethodPost, "/retrieve", RetrieveRequest{Prompt: "jwt token keeps expiring", Instructions: "base"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	res := decode[EnhanceResult](t, w)
	if !res.Success {
		t.Fatalf("enhance failed: %+v", res)
	}
	if !strings.HasPrefix(res.Instructions, "base"+service.Delimiter) {
		t.Errorf("instructions = %q", res.Instructions)
	}
	if !strings.Contains(res.Instructions, "Refresh tokens before expiry.") {
		t.Errorf("context block missing chunk: %q", res.Instructions)
	}
}

func TestRetrieve_BadRequests(t *testing.T) {
	e := newTestEnv(t, "", nil)

	req := httptest.NewRequest(http.MethodPost, "/retrieve", strings.NewReader("{"))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad json = %d, want 400", w.Code)
	}

	w = e.do(t, http.MethodPost, "/retrieve", RetrieveRequest{}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty query = %d, want 400", w.Code)
	}

	seed(t, e)
	w = e.do(t, http.MethodPost, "/retrieve", RetrieveRequest{Keywords: []string{" ", ""}, Categories: []string{" "}}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("blank terms = %d, want 400: %s", w.Code, w.Body.String())
	}
}

func TestStoreInsights_Direct(t *testing.T) {
	e := newTestEnv(t, "", nil)

	w := e.do(t, http.MethodPost, "/insights", InsightsRequest{
		Source: models.SourceReasoningStream,
		Insights: []models.Insight{{
			Category: "PREFERENCES", Subcategory: "libraries", Keywords: []string{"chi"}, Content: "Use chi for routing.", Confidence: 0.9,
		}},
	}, "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decode[InsightsResponse](t, w)
	if resp.TaskID == "" || resp.Extracted != 1 {
		t.Fatalf("resp = %+v", resp)
	}

	path := filepath.Join(e.tree.LeafPath("PREFERENCES", "libraries"), "preferences-libraries-001.md")
	deadline := time.Now().Add(5 * time.Second)
	for {
		if data, err := os.ReadFile(path); err == nil {
			if !strings.Contains(string(data), "source: reasoning_stream") {
				t.Errorf("file = %q", data)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("chunk file never written")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestStoreInsights_FromText(t *testing.T) {
	e := newTestEnv(t, "", nil)

	w := e.do(t, http.MethodPost, "/insights", InsightsRequest{Text: "Fixed the bug where the cache key ignored the tenant."}, "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if resp := decode[InsightsResponse](t, w); resp.Extracted != 1 || resp.TaskID == "" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestStoreInsights_Validation(t *testing.T) {
	e := newTestEnv(t, "", nil)

	cases := []InsightsRequest{
		{},
		{Text: "x", Insights: []models.Insight{{Category: "ERRORS"}}},
		{Text: "x", Source: "bogus"},
	}
	for i, body := range cases {
		if w := e.do(t, http.MethodPost, "/insights", body, ""); w.Code != http.StatusBadRequest {
			t.Errorf("case %d: status = %d, want 400", i, w.Code)
		}
	}
}

func TestGetChunk(t *testing.T) {
	e := newTestEnv(t, "", nil)
	ids := seed(t, e)

	w := e.do(t, http.MethodGet, "/chunks/"+ids[1], nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if c := decode[models.Chunk](t, w); c.Content != "Run tests with -race." {
		t.Errorf("chunk = %+v", c)
	}

	w = e.do(t, http.MethodGet, "/chunks/nope-001", nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing chunk = %d, want 404", w.Code)
	}
	if body := decode[errResponse](t, w); body.Error != apperr.ErrNotFound.Error() {
		t.Errorf("error = %q", body.Error)
	}
}

func TestStats(t *testing.T) {
	e := newTestEnv(t, "", nil)
	seed(t, e)

	w := e.do(t, http.MethodGet, "/stats", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	st := decode[StatsResponse](t, w)
	if st.Index.TotalChunks != 2 || st.Tree.TotalFiles != 2 {
		t.Errorf("stats = %+v", st)
	}
	if st.Tree.Categories != 7 || st.Tree.Subcategories != 28 {
		t.Errorf("tree = %+v", st.Tree)
	}
}

func TestTreeValidateAndRepair(t *testing.T) {
	e := newTestEnv(t, "", nil)
	leaf := e.tree.LeafPath("DOMAIN", "constraints")
	if err := os.RemoveAll(leaf); err != nil {
		t.Fatal(err)
	}

	v := decode[tree.Validation](t, e.do(t, http.MethodGet, "/tree", nil, ""))
	if v.IsValid || len(v.MissingDirectories) != 1 || v.MissingDirectories[0] != leaf {
		t.Fatalf("validation = %+v", v)
	}

	w := e.do(t, http.MethodPost, "/tree/repair", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if rr := decode[RepairResponse](t, w); !rr.Repaired || !rr.Validation.IsValid {
		t.Errorf("repair = %+v", rr)
	}
}

func TestAuthMiddleware(t *testing.T) {
	e := newTestEnv(t, "secret123", nil)

	if w := e.do(t, http.MethodGet, "/stats", nil, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("missing token = %d, want 401", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/stats", nil, "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/stats", nil, "secret123"); w.Code != http.StatusOK {
		t.Errorf("valid token = %d, want 200", w.Code)
	}

	open := newTestEnv(t, "", nil)
	if w := open.do(t, http.MethodGet, "/stats", nil, ""); w.Code != http.StatusOK {
		t.Errorf("auth disabled = %d, want 200", w.Code)
	}
}

func TestEvents_AuthProtectedAndStreams(t *testing.T) {
	broker := sse.NewBroker(time.Second)
	t.Cleanup(broker.Close)
	e := newTestEnv(t, "tok", broker)

	if w := e.do(t, http.MethodGet, "/events", nil, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("SSE with valid token = %d, want 200", w.Code)
	}
}
