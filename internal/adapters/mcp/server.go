// Package mcpadapter exposes document reasoning and ledger verification as
// MCP tools.
package mcpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/heritage-ocr/internal/core/domain"
	"github.com/kirillkom/heritage-ocr/internal/core/ports"
)

const (
	serverName    = "heritage-ocr"
	serverVersion = "1.0.0"

	apiKeyArg = "api_key"
)

type Handler struct {
	reasoner ports.DocumentReasoner
	ledger   ports.LedgerService
	logger   *slog.Logger
}

func NewHandler(reasoner ports.DocumentReasoner, ledger ports.LedgerService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{reasoner: reasoner, ledger: ledger, logger: logger}
}

// NewServer registers every tool of h on a new MCP server.
func NewServer(h *Handler) *server.MCPServer {
	s := server.NewMCPServer(serverName, serverVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	// Without a server-side key the caller supplies one per tool call.
	var keyOpts []mcp.ToolOption
	if h.reasoner.RequiresAPIKey() {
		keyOpts = append(keyOpts, mcp.WithString(apiKeyArg, mcp.Required(),
			mcp.Description("API key for the language model provider.")))
	}

	s.AddTool(mcp.NewTool("structure_document", append([]mcp.ToolOption{
		mcp.WithDescription("Extract a key/value record from OCR text of a scanned document."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Recognized document text.")),
		mcp.WithString("language_hint", mcp.Description("Languages the text is written in.")),
	}, keyOpts...)...), h.structure)

	s.AddTool(mcp.NewTool("translate_document", append([]mcp.ToolOption{
		mcp.WithDescription("Translate OCR text of a scanned document."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Recognized document text.")),
		mcp.WithString("target_language", mcp.Description("Target language, English when omitted.")),
	}, keyOpts...)...), h.translate)

	s.AddTool(mcp.NewTool("ask_document", append([]mcp.ToolOption{
		mcp.WithDescription("Answer a question using only the given document text."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Recognized document text.")),
		mcp.WithString("question", mcp.Required(), mcp.Description("Question about the document.")),
		mcp.WithString("target_language", mcp.Description("Language of the answer.")),
	}, keyOpts...)...), h.ask)

	if h.ledger != nil {
		s.AddTool(mcp.NewTool("verify_record",
			mcp.WithDescription("Check whether a structured record is registered in the ledger."),
			mcp.WithObject("record", mcp.Required(), mcp.Description("Structured record as returned by structure_document.")),
		), h.verify)
	}
	return s
}

func (h *Handler) structure(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return h.reason(ctx, domain.ReasoningRequest{
		Mode:         domain.ModeStructure,
		Text:         text,
		LanguageHint: req.GetString("language_hint", ""),
		APIKey:       req.GetString(apiKeyArg, ""),
	})
}

func (h *Handler) translate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return h.reason(ctx, domain.ReasoningRequest{
		Mode:           domain.ModeTranslate,
		Text:           text,
		TargetLanguage: req.GetString("target_language", ""),
		APIKey:         req.GetString(apiKeyArg, ""),
	})
}

func (h *Handler) ask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return h.reason(ctx, domain.ReasoningRequest{
		Mode:           domain.ModeAnswer,
		Text:           text,
		Question:       question,
		TargetLanguage: req.GetString("target_language", ""),
		APIKey:         req.GetString(apiKeyArg, ""),
	})
}

func (h *Handler) reason(ctx context.Context, req domain.ReasoningRequest) (*mcp.CallToolResult, error) {
	result, err := h.reasoner.Reason(ctx, req)
	if err != nil {
		return h.toolError(string(req.Mode), err), nil
	}
	if req.Mode == domain.ModeStructure {
		return jsonResult(result.Record)
	}
	return mcp.NewToolResultText(result.Text), nil
}

func (h *Handler) verify(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, ok := req.GetArguments()["record"].(map[string]any)
	if !ok || len(raw) == 0 {
		return mcp.NewToolResultError("record must be a non-empty object"), nil
	}
	verification, err := h.ledger.Verify(ctx, domain.StructuredRecord(raw))
	if err != nil {
		return h.toolError("verify", err), nil
	}
	return jsonResult(verification)
}

// toolError reports failures as tool results so the client model can react.
// Malformed structure output is returned verbatim.
func (h *Handler) toolError(tool string, err error) *mcp.CallToolResult {
	var malformed *domain.MalformedOutputError
	if errors.As(err, &malformed) {
		return mcp.NewToolResultError("model output is not a JSON object: " + malformed.Raw)
	}
	h.logger.Warn("mcp_tool_failed", "tool", tool, "error", err)
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
