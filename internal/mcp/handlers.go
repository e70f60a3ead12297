package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/hpungsan/efact/internal/document"
	"github.com/hpungsan/efact/internal/errors"
	"github.com/hpungsan/efact/internal/logger"
	"github.com/hpungsan/efact/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers. All tools share one
// document session, so a login from one call is seen by the next.
type Handlers struct {
	rt        *ops.Runtime
	sessionID string
	sess      *document.Session
	logger    *zap.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(rt *ops.Runtime, sessionID string, sess *document.Session, log *zap.Logger) *Handlers {
	return &Handlers{rt: rt, sessionID: sessionID, sess: sess, logger: logger.OrNop(log)}
}

// Request types for each tool

// LoginRequest represents the arguments for login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// FetchRequest represents the arguments for fetch.
type FetchRequest struct {
	Kind           string `json:"kind,omitempty"`
	Ticket         string `json:"ticket,omitempty"`
	IncludeContent bool   `json:"include_content,omitempty"`
}

// FetchResponse is the fetch result. Content is base64 so binary payloads
// survive the JSON text channel.
type FetchResponse struct {
	*ops.FetchOutput
	ContentBase64 string `json:"content_base64,omitempty"`
}

// SaveRequest represents the arguments for save.
type SaveRequest struct {
	Path      string `json:"path,omitempty"`
	Overwrite bool   `json:"overwrite,omitempty"`
}

// PurgeRequest represents the arguments for purge.
type PurgeRequest struct {
	OlderThanHours *int `json:"older_than_hours,omitempty"`
}

// Handler implementations

// HandleLogin handles the login tool call.
func (h *Handlers) HandleLogin(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[LoginRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	result, err := ops.Login(ctx, h.sess, ops.LoginInput{
		Username: input.Username,
		Password: input.Password,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleFetch handles the fetch tool call.
func (h *Handlers) HandleFetch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FetchRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	result, err := ops.Fetch(ctx, h.sess, ops.FetchInput{
		Kind:           input.Kind,
		Ticket:         input.Ticket,
		IncludeContent: input.IncludeContent,
	})
	if err != nil {
		h.logger.Debug("fetch tool failed", zap.String("session", h.sessionID), zap.Error(err))
		return errorResult(err), nil
	}

	resp := FetchResponse{FetchOutput: result}
	if input.IncludeContent {
		resp.ContentBase64 = base64.StdEncoding.EncodeToString(result.Content)
	}
	return successResult(resp)
}

// HandleSave handles the save tool call.
func (h *Handlers) HandleSave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SaveRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	result, err := ops.Save(ctx, h.sess, ops.SaveInput{
		Path:      input.Path,
		Overwrite: input.Overwrite,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleLogout handles the logout tool call.
func (h *Handlers) HandleLogout(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.Logout(ctx, h.sess)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleStatus handles the status tool call.
func (h *Handlers) HandleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(ops.Status(h.sessionID, h.sess))
}

// HandlePurge handles the purge tool call.
func (h *Handlers) HandlePurge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PurgeRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	hours := h.rt.Config().SessionTTLHours
	if input.OlderThanHours != nil {
		if *input.OlderThanHours <= 0 {
			return errorResult(errors.NewValidation("older_than_hours must be positive")), nil
		}
		hours = *input.OlderThanHours
	}

	result, err := ops.Purge(ctx, h.rt.DB(), ops.PurgeInput{OlderThanHours: hours})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if eErr := errors.As(err); eErr.Code != errors.ErrInternal {
		errorObj := map[string]any{
			"code":    eErr.Code,
			"message": eErr.Message,
			"status":  eErr.Status,
		}
		if eErr.Details != nil {
			errorObj["details"] = eErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
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
