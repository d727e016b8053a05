// Package mcp provides a Model Context Protocol server for CodePal.
//
// It exposes the extraction pipeline as MCP tools: extract a code from
// a message, fetch the latest fresh code, signal autofill intent, show
// tier status, and prune old data. Supports stdio transport.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/codepal/codepal/internal/otp"
	"github.com/codepal/codepal/internal/pipeline"
	"github.com/codepal/codepal/internal/store"
)

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Pipeline *pipeline.Pipeline
	Store    store.Store
	Version  string // version string for MCP server info
}

// dbMu serializes all MCP tool calls that touch the database.
// The mcp-go library dispatches handlers concurrently via goroutines.
// SQLite (even with WAL) supports only one writer at a time, and
// concurrent reads during writes can return stale results.
var dbMu sync.Mutex

// NewServer creates a configured MCP server with all CodePal tools.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"CodePal",
		ver,
		server.WithToolCapabilities(false),
	)

	registerExtractTool(s, cfg.Pipeline)
	registerLatestTool(s, cfg.Store)
	registerIntentTool(s, cfg.Pipeline)
	registerStatusTool(s, cfg.Pipeline, cfg.Store)
	registerPruneTool(s, cfg.Store)

	return s
}

// --- Tools ---

func registerExtractTool(s *server.MCPServer, p *pipeline.Pipeline) {
	tool := mcp.NewTool("otp_extract",
		mcp.WithDescription("Extract a one-time verification code from a message. Runs local pattern matching first and escalates to model tiers only when needed. Accepted codes are stored for autofill."),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("The message text to scan"),
		),
		mcp.WithString("language",
			mcp.Description("Declared message language (default: auto)"),
			mcp.Enum("auto", "zh", "en", "es", "it"),
		),
		mcp.WithString("domain",
			mcp.Description("Where the message was seen (e.g. mail.example.com)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		text, err := req.RequireString("text")
		if err != nil || strings.TrimSpace(text) == "" {
			return mcp.NewToolResultError("text is required"), nil
		}

		r := otp.Request{Text: text, Language: otp.LangAuto}
		if lang, err := req.RequireString("language"); err == nil && lang != "" {
			r.Language = otp.Language(lang)
		}
		if domain, err := req.RequireString("domain"); err == nil && domain != "" {
			r.Metadata = map[string]string{"domain": domain}
		}

		res, err := p.Process(ctx, r)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("extract error: %v", err)), nil
		}

		data, _ := json.MarshalIndent(res, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerLatestTool(s *server.MCPServer, st store.Store) {
	tool := mcp.NewTool("otp_latest",
		mcp.WithDescription("Return the most recently extracted verification code, if one is still within the freshness window."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		c, err := st.LatestFresh(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("latest error: %v", err)), nil
		}
		if c == nil {
			return mcp.NewToolResultText(`{"code": null, "reason": "no fresh code"}`), nil
		}

		data, _ := json.MarshalIndent(map[string]any{
			"code":       c.Code,
			"confidence": c.Confidence,
			"method":     c.Method,
			"language":   c.Language,
			"source":     c.Source,
			"created_at": c.CreatedAt,
		}, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerIntentTool(s *server.MCPServer, p *pipeline.Pipeline) {
	tool := mcp.NewTool("otp_intent",
		mcp.WithDescription("Signal that the user is about to enter a verification code (e.g. an OTP input gained focus). Opens the autofill window and offers the latest fresh code if one exists."),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		p.SignalIntent()
		code, err := p.FillLatest(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("intent error: %v", err)), nil
		}

		data, _ := json.Marshal(map[string]any{
			"intent_active": true,
			"filled":        code != "",
			"code":          code,
		})
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerStatusTool(s *server.MCPServer, p *pipeline.Pipeline, st store.Store) {
	tool := mcp.NewTool("otp_status",
		mcp.WithDescription("Report extraction tier availability and store statistics."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		stats, err := st.Stats(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("status error: %v", err)), nil
		}

		data, _ := json.MarshalIndent(map[string]any{
			"tiers":         p.Status(ctx),
			"cloud_enabled": p.CloudEnabled(),
			"stats":         stats,
		}, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerPruneTool(s *server.MCPServer, st store.Store) {
	tool := mcp.NewTool("otp_prune",
		mcp.WithDescription("Delete stored codes and processed-message hashes past the retention period."),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		n, err := st.Prune(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("prune error: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf(`{"pruned": %d}`, n)), nil
	})
}
