package mcp

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/hpungsan/tabsynth/internal/config"
	"github.com/hpungsan/tabsynth/internal/errors"
	"github.com/hpungsan/tabsynth/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	db     *sql.DB
	cfg    *config.Config
	logger *zap.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(db *sql.DB, cfg *config.Config, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{db: db, cfg: cfg, logger: logger}
}

// Request types for each tool

// FitRequest represents the arguments for model_fit.
type FitRequest struct {
	DataPath     string   `json:"data_path"`
	MetadataPath string   `json:"metadata_path,omitempty"`
	Discrete     []string `json:"discrete,omitempty"`
	Name         string   `json:"name,omitempty"`
	Mode         string   `json:"mode,omitempty"`
	Epochs       int      `json:"epochs,omitempty"`
	BatchSize    int      `json:"batch_size,omitempty"`
	Pac          int      `json:"pac,omitempty"`
	Seed         *uint64  `json:"seed,omitempty"`
	MaxSteps     int      `json:"max_steps,omitempty"`
}

// SampleRequest represents the arguments for model_sample.
type SampleRequest struct {
	ID         string            `json:"id,omitempty"`
	Name       string            `json:"name,omitempty"`
	Rows       int               `json:"rows"`
	OutputPath string            `json:"output_path,omitempty"`
	Inline     bool              `json:"inline,omitempty"`
	Conditions map[string]string `json:"conditions,omitempty"`
	MaxRetries int               `json:"max_retries,omitempty"`
	BestEffort bool              `json:"best_effort,omitempty"`
	Seed       uint64            `json:"seed,omitempty"`
}

// ListRequest represents the arguments for model_list.
type ListRequest struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// AddressRequest represents the arguments of tools that address one model.
type AddressRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// RenameRequest represents the arguments for model_rename.
type RenameRequest struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name,omitempty"`
	NewName string `json:"new_name"`
}

// Handler implementations

// HandleFit handles the model_fit tool call.
func (h *Handlers) HandleFit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FitRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Fit(ctx, h.db, h.cfg, h.logger, ops.FitInput{
		DataPath:     input.DataPath,
		MetadataPath: input.MetadataPath,
		Discrete:     input.Discrete,
		Name:         input.Name,
		Mode:         ops.FitMode(input.Mode),
		Epochs:       input.Epochs,
		BatchSize:    input.BatchSize,
		Pac:          input.Pac,
		Seed:         input.Seed,
		MaxSteps:     input.MaxSteps,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSample handles the model_sample tool call.
func (h *Handlers) HandleSample(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SampleRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Sample(ctx, h.db, h.cfg, h.logger, ops.SampleInput{
		ID:         input.ID,
		Name:       input.Name,
		Rows:       input.Rows,
		OutputPath: input.OutputPath,
		Inline:     input.Inline,
		Conditions: input.Conditions,
		MaxRetries: input.MaxRetries,
		BestEffort: input.BestEffort,
		Seed:       input.Seed,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleList handles the model_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.List(h.db, ops.ListInput{Limit: input.Limit, Offset: input.Offset})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleFetch handles the model_fetch tool call.
func (h *Handlers) HandleFetch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AddressRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Fetch(h.db, ops.FetchInput{ID: input.ID, Name: input.Name})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleDelete handles the model_delete tool call.
func (h *Handlers) HandleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AddressRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Delete(h.db, ops.DeleteInput{ID: input.ID, Name: input.Name})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleRename handles the model_rename tool call.
func (h *Handlers) HandleRename(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RenameRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Rename(h.db, ops.RenameInput{ID: input.ID, Name: input.Name, NewName: input.NewName})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleReport handles the model_report tool call. The markdown is returned as plain text.
func (h *Handlers) HandleReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AddressRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Report(h.db, ops.ReportInput{ID: input.ID, Name: input.Name})
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(result.Markdown), nil
}

// errorResult creates an MCP error result. Errors that are not SynthErrors are reported
// as INTERNAL without their message.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if sErr, ok := errors.As(err); ok {
		msg := sErr.Message
		if err != error(sErr) {
			// keep wrapper context such as "rows[3]: "
			msg = err.Error()
		}
		errorObj := map[string]any{
			"code":    sErr.Code,
			"message": msg,
		}
		// Details of internal errors may carry paths or SQL.
		if sErr.Code != errors.ErrInternal && sErr.Details != nil {
			errorObj["details"] = sErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
