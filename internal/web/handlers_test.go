package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hpungsan/tabsynth/internal/config"
	"github.com/hpungsan/tabsynth/internal/db"
	"github.com/hpungsan/tabsynth/internal/ops"
)

// testEnv pairs the handlers with the config used to seed models.
type testEnv struct {
	*Handlers
	cfg *config.Config
}

func setupTest(t *testing.T) *testEnv {
	t.Helper()
	tmpDir := t.TempDir()
	database, err := db.Init(tmpDir)
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	cfg.Epochs = 1
	cfg.BatchSize = 20
	cfg.Pac = 2
	cfg.DiscriminatorSteps = 1
	cfg.EmbeddingDim = 4
	cfg.GeneratorDim = []int{8}
	cfg.DiscriminatorDim = []int{8}
	cfg.Seed = 3

	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		t.Fatalf("template sub-FS: %v", err)
	}

	return &testEnv{
		Handlers: &Handlers{
			db:       database,
			renderer: NewRenderer(templateSub, "test", nil),
		},
		cfg: cfg,
	}
}

// seedModel fits a tiny model and returns its ID.
func seedModel(t *testing.T, h *testEnv, name string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("kind,value\n")
	for i := 0; i < 60; i++ {
		kind := "x"
		if i%3 == 0 {
			kind = "y"
		}
		fmt.Fprintf(&b, "%s,%d\n", kind, i%11)
	}
	path := filepath.Join(t.TempDir(), "seed.csv")
	if err := os.WriteFile(path, []byte(b.String()), 0600); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	out, err := ops.Fit(context.Background(), h.db, h.cfg, nil, ops.FitInput{
		DataPath: path,
		Discrete: []string{"kind"},
		Name:     name,
	})
	if err != nil {
		t.Fatalf("seed model %q: %v", name, err)
	}
	return out.ID
}

// --- HandleList ---

func TestHandleList_Default(t *testing.T) {
	h := setupTest(t)
	seedModel(t, h, "list-model")

	req := httptest.NewRequest("GET", "/models", nil)
	rec := httptest.NewRecorder()
	h.HandleList(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<!DOCTYPE html>") {
		t.Error("expected full layout")
	}
	if !strings.Contains(body, "list-model") {
		t.Error("expected model name in list")
	}
	if !strings.Contains(body, "converged") {
		t.Error("expected training state in list")
	}
}

func TestHandleList_Empty(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/models", nil)
	rec := httptest.NewRecorder()
	h.HandleList(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No models yet") {
		t.Error("expected empty state message")
	}
}

func TestHandleList_HtmxReturnsContentOnly(t *testing.T) {
	h := setupTest(t)
	seedModel(t, h, "htmx-model")

	req := httptest.NewRequest("GET", "/models", nil)
	req.Header.Set("HX-Request", "true")
	rec := httptest.NewRecorder()
	h.HandleList(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "<!DOCTYPE html>") {
		t.Error("htmx response should not contain full layout")
	}
	if !strings.Contains(body, "htmx-model") {
		t.Error("htmx response should contain model data")
	}
}

func TestHandleList_JSON(t *testing.T) {
	h := setupTest(t)
	seedModel(t, h, "json-model")

	req := httptest.NewRequest("GET", "/models", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.HandleList(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var out ops.ListOutput
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Items) != 1 || out.Pagination.Total != 1 {
		t.Fatalf("items = %d, total = %d, want 1/1", len(out.Items), out.Pagination.Total)
	}
}

func TestHandleList_InvalidLimitFallsBack(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/models?limit=notanumber&offset=bad", nil)
	rec := httptest.NewRecorder()
	h.HandleList(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

// --- HandleDetail ---

func TestHandleDetail_Found(t *testing.T) {
	h := setupTest(t)
	id := seedModel(t, h, "detail-model")

	req := httptest.NewRequest("GET", "/models/"+id, nil)
	req.SetPathValue("id", id)
	rec := httptest.NewRecorder()
	h.HandleDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<title>detail-model") {
		t.Error("expected model name in title")
	}
	if !strings.Contains(body, "<h2>Summary</h2>") {
		t.Error("expected rendered report headings")
	}
	if !strings.Contains(body, "<table>") {
		t.Error("expected markdown tables rendered as HTML")
	}
	if !strings.Contains(body, "/models/"+id+"/losses") {
		t.Error("expected losses link")
	}
}

func TestHandleDetail_JSON(t *testing.T) {
	h := setupTest(t)
	id := seedModel(t, h, "detail-json")

	req := httptest.NewRequest("GET", "/models/"+id, nil)
	req.SetPathValue("id", id)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.HandleDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["id"] != id {
		t.Errorf("id = %v, want %s", out["id"], id)
	}
	if _, ok := out["schema"]; !ok {
		t.Error("expected schema in JSON detail")
	}
}

func TestHandleDetail_NotFound(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/models/NONEXISTENT", nil)
	req.SetPathValue("id", "NONEXISTENT")
	rec := httptest.NewRecorder()
	h.HandleDetail(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "model not found") {
		t.Error("expected error message in page")
	}
}

func TestHandleDetail_EmptyID(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/models/", nil)
	req.SetPathValue("id", "")
	rec := httptest.NewRecorder()
	h.HandleDetail(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

// --- HandleReport / HandleLosses ---

func TestHandleReport(t *testing.T) {
	h := setupTest(t)
	id := seedModel(t, h, "report-model")

	req := httptest.NewRequest("GET", "/models/"+id+"/report.md", nil)
	req.SetPathValue("id", id)
	rec := httptest.NewRecorder()
	h.HandleReport(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("Content-Type = %q, want text/markdown", ct)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "# report-model") {
		t.Errorf("report should start with model heading, got %q", body[:min(len(body), 40)])
	}
	if !strings.Contains(body, "## Columns") {
		t.Error("expected columns section")
	}
}

func TestHandleLosses(t *testing.T) {
	h := setupTest(t)
	id := seedModel(t, h, "loss-model")

	req := httptest.NewRequest("GET", "/models/"+id+"/losses", nil)
	req.SetPathValue("id", id)
	rec := httptest.NewRecorder()
	h.HandleLosses(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var out struct {
		ID     string `json:"id"`
		State  string `json:"state"`
		Losses []struct {
			Epoch int `json:"epoch"`
		} `json:"losses"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ID != id || out.State != "converged" {
		t.Errorf("id/state = %s/%s", out.ID, out.State)
	}
	if len(out.Losses) != 1 || out.Losses[0].Epoch != 0 {
		t.Errorf("losses = %+v, want one entry for epoch 0", out.Losses)
	}
}

func TestHandleLosses_NotFoundJSON(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/models/NOPE/losses", nil)
	req.SetPathValue("id", "NOPE")
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.HandleLosses(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var out map[string]map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["error"]["code"] != "NOT_FOUND" {
		t.Errorf("code = %v, want NOT_FOUND", out["error"]["code"])
	}
}

// --- HandleDelete ---

func TestHandleDelete_HtmxRequest(t *testing.T) {
	h := setupTest(t)
	id := seedModel(t, h, "del-htmx")

	req := httptest.NewRequest("DELETE", "/models/"+id, nil)
	req.SetPathValue("id", id)
	req.Header.Set("HX-Request", "true")
	rec := httptest.NewRecorder()
	h.HandleDelete(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("HX-Redirect"); got != "/models" {
		t.Errorf("HX-Redirect = %q, want /models", got)
	}
}

func TestHandleDelete_JSONRequest(t *testing.T) {
	h := setupTest(t)
	id := seedModel(t, h, "del-json")

	req := httptest.NewRequest("DELETE", "/models/"+id, nil)
	req.SetPathValue("id", id)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.HandleDelete(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var out ops.DeleteOutput
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Deleted || out.ID != id {
		t.Errorf("out = %+v", out)
	}

	// Gone afterwards.
	req = httptest.NewRequest("GET", "/models/"+id, nil)
	req.SetPathValue("id", id)
	rec = httptest.NewRecorder()
	h.HandleDetail(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("detail after delete: status = %d, want 404", rec.Code)
	}
}

func TestHandleDelete_DefaultRedirect(t *testing.T) {
	h := setupTest(t)
	id := seedModel(t, h, "del-redirect")

	req := httptest.NewRequest("DELETE", "/models/"+id, nil)
	req.SetPathValue("id", id)
	rec := httptest.NewRecorder()
	h.HandleDelete(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if got := rec.Header().Get("Location"); got != "/models" {
		t.Errorf("Location = %q, want /models", got)
	}
}

func TestHandleDelete_NotFound_Htmx(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("DELETE", "/models/NOPE", nil)
	req.SetPathValue("id", "NOPE")
	req.Header.Set("HX-Request", "true")
	rec := httptest.NewRecorder()
	h.HandleDelete(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `class="error-message"`) {
		t.Error("expected htmx error fragment")
	}
}

func TestHandleDelete_EmptyID(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("DELETE", "/models/", nil)
	req.SetPathValue("id", "")
	rec := httptest.NewRecorder()
	h.HandleDelete(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

// --- server ---

func TestRoutes_RootRedirectsAndSecurityHeaders(t *testing.T) {
	h := setupTest(t)
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		t.Fatalf("static sub-FS: %v", err)
	}
	handler := securityHeaders(routes(h.Handlers, staticSub))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/models" {
		t.Errorf("root: status = %d, location = %q", rec.Code, rec.Header().Get("Location"))
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("expected X-Frame-Options header")
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/static/style.css", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("static: status = %d, want 200", rec.Code)
	}
}

// --- helpers ---

func TestFormatCount(t *testing.T) {
	tests := []struct {
		in   int
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
		{-4200, "-4,200"},
	}
	for _, tt := range tests {
		if got := formatCount(tt.in); got != tt.want {
			t.Errorf("formatCount(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatTime(t *testing.T) {
	if got := formatTime(0); got != "1970-01-01 00:00" {
		t.Errorf("formatTime(0) = %q", got)
	}
}

func TestDisplayName(t *testing.T) {
	name := "churn"
	empty := ""
	if got := displayName(&name, "01ABCDEFGHIJK"); got != "churn" {
		t.Errorf("got %q", got)
	}
	if got := displayName(&empty, "01ABCDEFGHIJK"); got != "01ABCDEFGH..." {
		t.Errorf("got %q", got)
	}
	if got := displayName(nil, "short"); got != "short" {
		t.Errorf("got %q", got)
	}
}

func TestHTTPStatus(t *testing.T) {
	h := setupTest(t)
	req := httptest.NewRequest("GET", "/models/x", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.renderer.renderError(rec, req, fmt.Errorf("boom"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "boom") {
		t.Error("plain errors should not leak into the response")
	}
}
