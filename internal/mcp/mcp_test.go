package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/tabsynth/internal/config"
	"github.com/hpungsan/tabsynth/internal/db"
	"github.com/hpungsan/tabsynth/internal/errors"
)

// testSetup creates a temporary database, a small training config and a training CSV.
func testSetup(t *testing.T) (*sql.DB, *config.Config, string) {
	t.Helper()

	tmpDir := t.TempDir()
	database, err := db.Init(filepath.Join(tmpDir, ".tabsynth"))
	if err != nil {
		t.Fatalf("failed to init db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	cfg.Epochs = 1
	cfg.BatchSize = 40
	cfg.Pac = 4
	cfg.DiscriminatorSteps = 1
	cfg.EmbeddingDim = 4
	cfg.GeneratorDim = []int{8}
	cfg.DiscriminatorDim = []int{8}
	cfg.Seed = 11

	var b strings.Builder
	b.WriteString("color,size\n")
	for i := 0; i < 120; i++ {
		color := []string{"red", "green", "blue"}[i%3]
		fmt.Fprintf(&b, "%s,%d\n", color, 5+i%9)
	}
	dataPath := filepath.Join(tmpDir, "train.csv")
	if err := os.WriteFile(dataPath, []byte(b.String()), 0600); err != nil {
		t.Fatal(err)
	}

	return database, cfg, dataPath
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

// fitModel stores a model named "colors" and returns its ID.
func fitModel(t *testing.T, h *Handlers, dataPath string) string {
	t.Helper()
	result, err := h.HandleFit(context.Background(), makeRequest(map[string]any{
		"data_path": dataPath,
		"discrete":  []any{"color"},
		"name":      "colors",
	}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	out := parseOutput(t, result)
	id, _ := out["id"].(string)
	if id == "" {
		t.Fatalf("fit output has no id: %v", out)
	}
	return id
}

func TestHandleFit(t *testing.T) {
	database, cfg, dataPath := testSetup(t)
	h := NewHandlers(database, cfg, nil)
	ctx := context.Background()

	tests := []struct {
		name      string
		args      map[string]any
		wantError bool
		errorCode string
	}{
		{
			name:      "fit valid table",
			args:      map[string]any{"data_path": dataPath, "discrete": []any{"color"}, "name": "colors"},
			wantError: false,
		},
		{
			name:      "fit without data_path",
			args:      map[string]any{"name": "empty"},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
		{
			name:      "fit duplicate name with mode:error",
			args:      map[string]any{"data_path": dataPath, "discrete": []any{"color"}, "name": "Colors"},
			wantError: true,
			errorCode: "NAME_ALREADY_EXISTS",
		},
		{
			name:      "fit duplicate name with mode:replace",
			args:      map[string]any{"data_path": dataPath, "discrete": []any{"color"}, "name": "colors", "mode": "replace"},
			wantError: false,
		},
		{
			name:      "fit with categorical column left numerical",
			args:      map[string]any{"data_path": dataPath},
			wantError: true,
			errorCode: "SCHEMA_MISMATCH",
		},
		{
			name:      "fit with pac not dividing batch",
			args:      map[string]any{"data_path": dataPath, "discrete": []any{"color"}, "pac": 7},
			wantError: true,
			errorCode: "INVALID_CONFIG",
		},
		{
			name:      "fit with wrong argument type",
			args:      map[string]any{"data_path": dataPath, "epochs": "many"},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := h.HandleFit(ctx, makeRequest(tt.args))
			if err != nil {
				t.Fatalf("handler returned error: %v", err)
			}

			if tt.wantError {
				if !result.IsError {
					t.Errorf("expected error result, got success")
				}
				if tt.errorCode != "" {
					assertErrorCode(t, result, tt.errorCode)
				}
			} else if result.IsError {
				t.Errorf("expected success, got error: %v", extractErrorMessage(result))
			}
		})
	}
}

func TestHandleSample(t *testing.T) {
	database, cfg, dataPath := testSetup(t)
	h := NewHandlers(database, cfg, nil)
	ctx := context.Background()
	id := fitModel(t, h, dataPath)

	t.Run("inline", func(t *testing.T) {
		result, err := h.HandleSample(ctx, makeRequest(map[string]any{"id": id, "rows": 25, "inline": true, "seed": 1}))
		if err != nil {
			t.Fatalf("handler returned error: %v", err)
		}
		out := parseOutput(t, result)
		if out["rows"].(float64) != 25 {
			t.Errorf("rows = %v, want 25", out["rows"])
		}
		lines := strings.Split(strings.TrimSpace(out["csv"].(string)), "\n")
		if len(lines) != 26 || lines[0] != "color,size" {
			t.Errorf("csv has %d lines, header %q", len(lines), lines[0])
		}
	})

	t.Run("to file by name", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "colors.csv")
		result, err := h.HandleSample(ctx, makeRequest(map[string]any{"name": "colors", "rows": 10, "output_path": path}))
		if err != nil {
			t.Fatalf("handler returned error: %v", err)
		}
		out := parseOutput(t, result)
		if out["path"] != path {
			t.Errorf("path = %v, want %s", out["path"], path)
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("output not written: %v", err)
		}
	})

	t.Run("unseen condition", func(t *testing.T) {
		result, err := h.HandleSample(ctx, makeRequest(map[string]any{
			"id": id, "rows": 5, "inline": true, "conditions": map[string]any{"color": "purple"},
		}))
		if err != nil {
			t.Fatalf("handler returned error: %v", err)
		}
		assertErrorCode(t, result, "EMPTY_CATEGORY")
	})

	t.Run("ambiguous address", func(t *testing.T) {
		result, err := h.HandleSample(ctx, makeRequest(map[string]any{"id": id, "name": "colors", "rows": 5, "inline": true}))
		if err != nil {
			t.Fatalf("handler returned error: %v", err)
		}
		assertErrorCode(t, result, "INVALID_REQUEST")
	})
}

func TestHandleFetchListReportDelete(t *testing.T) {
	database, cfg, dataPath := testSetup(t)
	h := NewHandlers(database, cfg, nil)
	ctx := context.Background()
	id := fitModel(t, h, dataPath)

	result, err := h.HandleFetch(ctx, makeRequest(map[string]any{"name": "COLORS"}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	out := parseOutput(t, result)
	if out["id"] != id {
		t.Errorf("id = %v, want %s", out["id"], id)
	}
	if losses, _ := out["losses"].([]any); len(losses) != 1 {
		t.Errorf("losses = %v, want one epoch", out["losses"])
	}

	result, err = h.HandleList(ctx, makeRequest(map[string]any{"limit": 5}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	out = parseOutput(t, result)
	if items, _ := out["items"].([]any); len(items) != 1 {
		t.Errorf("items = %v, want 1", out["items"])
	}

	result, err = h.HandleReport(ctx, makeRequest(map[string]any{"id": id}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if result.IsError {
		t.Fatalf("report failed: %s", extractErrorMessage(result))
	}
	if text := extractErrorMessage(result); !strings.Contains(text, "## Columns") {
		t.Errorf("report = %s", text)
	}

	result, err = h.HandleRename(ctx, makeRequest(map[string]any{"id": id, "new_name": "hues"}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	parseOutput(t, result)

	result, err = h.HandleDelete(ctx, makeRequest(map[string]any{"name": "hues"}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	out = parseOutput(t, result)
	if out["deleted"] != true {
		t.Errorf("deleted = %v", out["deleted"])
	}

	result, err = h.HandleFetch(ctx, makeRequest(map[string]any{"id": id}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	assertErrorCode(t, result, "NOT_FOUND")
}

func TestServerRegistration(t *testing.T) {
	database, cfg, _ := testSetup(t)

	s := NewServer(database, cfg, nil, "test")
	tools := s.ListTools()

	expectedTools := []string{
		"model_fit",
		"model_sample",
		"model_list",
		"model_fetch",
		"model_delete",
		"model_rename",
		"model_report",
	}
	if len(tools) != len(expectedTools) {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(expectedTools))
	}
	for _, name := range expectedTools {
		if _, ok := tools[name]; !ok {
			t.Errorf("missing registered tool: %s", name)
		}
	}
}

func TestServerRegistration_WithDisabledTools(t *testing.T) {
	database, cfg, _ := testSetup(t)

	cfg.DisabledTools = []string{"model_delete", "model_delete", "model_fit"}
	tools := NewServer(database, cfg, nil, "test").ListTools()

	if len(tools) != 5 {
		t.Errorf("registered tool count = %d, want 5", len(tools))
	}
	for _, name := range []string{"model_delete", "model_fit"} {
		if _, ok := tools[name]; ok {
			t.Errorf("disabled tool %q should not be registered", name)
		}
	}
}

func TestServerRegistration_DisabledType(t *testing.T) {
	database, cfg, _ := testSetup(t)

	cfg.DisabledTypes = []string{"model"}
	tools := NewServer(database, cfg, nil, "test").ListTools()
	if len(tools) != 0 {
		t.Errorf("registered tool count = %d, want 0", len(tools))
	}
}

func TestValidateDisabled(t *testing.T) {
	if unknown := ValidateDisabledTools([]string{"model_fit", "model_train"}); len(unknown) != 1 || unknown[0] != "model_train" {
		t.Errorf("ValidateDisabledTools unknown = %v", unknown)
	}
	if unknown := ValidateDisabledTools(AllToolNames()); len(unknown) != 0 {
		t.Errorf("AllToolNames() returned invalid names: %v", unknown)
	}
	if unknown := ValidateDisabledTypes([]string{"model", "dataset"}); len(unknown) != 1 {
		t.Errorf("ValidateDisabledTypes unknown = %v", unknown)
	}
	if got := GetTypeForTool("model_fit"); got != "model" {
		t.Errorf("GetTypeForTool = %q", got)
	}
	if got := GetTypeForTool("fit"); got != "" {
		t.Errorf("GetTypeForTool = %q, want empty", got)
	}
}

func TestErrorResult_InternalDoesNotExposeDetails(t *testing.T) {
	r := errorResult(errors.NewInternal(fmt.Errorf("sql error: open /tmp/secret.db: permission denied")))
	errObj := errorObject(t, r)

	if errObj["code"] != string(errors.ErrInternal) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrInternal)
	}
	if _, ok := errObj["details"]; ok {
		t.Fatal("expected INTERNAL errors to omit details")
	}
}

func TestErrorResult_PlainErrorIsInternal(t *testing.T) {
	errObj := errorObject(t, errorResult(fmt.Errorf("disk on fire")))
	if errObj["code"] != string(errors.ErrInternal) {
		t.Fatalf("code=%v, want INTERNAL", errObj["code"])
	}
	if strings.Contains(errObj["message"].(string), "fire") {
		t.Error("plain error message leaked")
	}
}

func TestErrorResult_WrappedErrorPreservesContext(t *testing.T) {
	wrapped := fmt.Errorf("conditions: %w", errors.NewEmptyCategory("color", "purple"))
	errObj := errorObject(t, errorResult(wrapped))

	if errObj["code"] != string(errors.ErrEmptyCategory) {
		t.Errorf("code=%v, want %v", errObj["code"], errors.ErrEmptyCategory)
	}
	if msg := errObj["message"].(string); !strings.Contains(msg, "conditions:") {
		t.Errorf("message should keep wrapper context, got: %s", msg)
	}
	details := errObj["details"].(map[string]any)
	if details["column"] != "color" || details["category"] != "purple" {
		t.Errorf("details = %v", details)
	}
}

// Helper functions

func errorObject(t *testing.T, r *mcp.CallToolResult) map[string]any {
	t.Helper()
	if !r.IsError {
		t.Fatal("expected IsError=true")
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(r.Content[0].(mcp.TextContent).Text), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	return payload["error"].(map[string]any)
}

// parseOutput extracts and unmarshals the JSON output from an MCP result.
func parseOutput(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractErrorMessage(result))
	}
	var output map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &output); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return output
}

func assertErrorCode(t *testing.T, result *mcp.CallToolResult, expectedCode string) {
	t.Helper()
	if code, _ := errorObject(t, result)["code"].(string); code != expectedCode {
		t.Errorf("got error code %q, want %q", code, expectedCode)
	}
}

func extractErrorMessage(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return "<no content>"
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return "<not text content>"
	}
	return text.Text
}
