// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes todosync tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/todosync/internal/apperr"
	"github.com/starford/todosync/internal/index"
	"github.com/starford/todosync/internal/syncer"
)

// PassesURI is the resource listing recent synchronization passes.
const PassesURI = "todosync://passes"

// Syncer runs synchronization passes on demand.
type Syncer interface {
	FullPass(ctx context.Context) (*syncer.Result, error)
}

// Server wraps the MCP server with todosync tools.
type Server struct {
	mcp    *server.MCPServer
	ledger index.Ledger
	sync   Syncer
}

// New creates a new MCP server with all todosync tools registered.
func New(ledger index.Ledger, sync Syncer, version string) *Server {
	s := &Server{ledger: ledger, sync: sync}

	s.mcp = server.NewMCPServer(
		"todosync",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("sync_now",
		mcp.WithDescription("Run a full synchronization pass between TODO comments in the workspace "+
			"and the Notion tasks database. Returns the pass summary and any per-item failures."),
	), s.syncNow)

	s.mcp.AddTool(mcp.NewTool("list_todos",
		mcp.WithDescription("List TODOs as of the last synchronization pass, ordered by file and line."),
		mcp.WithString("path", mcp.Description("Optional file path (relative to the workspace root) to filter by")),
		mcp.WithString("status", mcp.Description("Optional Notion status to filter by"),
			mcp.Enum("Not Started", "In Progress", "Completed")),
	), s.listTodos)

	s.mcp.AddTool(mcp.NewTool("get_todo",
		mcp.WithDescription("Get one TODO by its normalized Notion page id."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Normalized Notion page id (hex)")),
	), s.getTodo)

	s.mcp.AddTool(mcp.NewTool("search_todos",
		mcp.WithDescription("Full-text search through TODO text and file paths."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchTodos)

	s.mcp.AddResource(
		mcp.NewResource(PassesURI, "Recent Passes",
			mcp.WithResourceDescription("The most recent synchronization passes, newest first."),
			mcp.WithMIMEType("application/json"),
		),
		s.readPassesResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

type failure struct {
	ExternalID string `json:"external_id,omitempty"`
	Path       string `json:"path"`
	Text       string `json:"text"`
	Error      string `json:"error"`
}

type syncSummary struct {
	Pass     index.PassRow `json:"pass"`
	Failures []failure     `json:"failures,omitempty"`
}

func (s *Server) syncNow(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.sync.FullPass(ctx)
	if res == nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sum := syncSummary{Pass: res.Row()}
	if res.Report != nil {
		for _, f := range res.Report.Failures {
			sum.Failures = append(sum.Failures, failure{
				ExternalID: f.ExternalID,
				Path:       f.Path,
				Text:       f.Text,
				Error:      f.Err.Error(),
			})
		}
	}
	out, _ := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(string(out)), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listTodos(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", "")
	status := req.GetString("status", "")

	todos, _, err := s.ledger.ListTodos(1000, 0, path, status)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(todos) == 0 {
		return mcp.NewToolResultText("no todos found"), nil
	}
	out, _ := json.MarshalIndent(todos, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getTodo(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	td, err := s.ledger.GetTodo(id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(td, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) searchTodos(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.ledger.Search(query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(results, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readPassesResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	passes, err := s.ledger.ListPasses(20)
	if err != nil {
		return nil, err
	}
	out, _ := json.MarshalIndent(passes, "", "  ")
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      PassesURI,
			MIMEType: "application/json",
			Text:     string(out),
		},
	}, nil
}
