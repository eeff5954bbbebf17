package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/todosync/internal/index"
	"github.com/starford/todosync/internal/models"
	"github.com/starford/todosync/internal/syncer"
	"github.com/starford/todosync/internal/testutil"
)

type mcpEnv struct {
	root   string
	remote *testutil.FakeRemote
	orch   *syncer.Orchestrator
	srv    *Server
}

func testServer(t *testing.T) *mcpEnv {
	t.Helper()
	root, store := testutil.TestWorkspace(t)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	ledger := testutil.TestDB(t)
	e := &mcpEnv{root: root, remote: testutil.NewFakeRemote()}
	e.orch = syncer.New(store, e.remote, ledger, logger)
	e.srv = New(ledger, e.orch, "test")
	return e
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// Tool handlers are called directly; mcp-go has no in-process call helper.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "sync_now":
		result, err = srv.syncNow(ctx, req)
	case "list_todos":
		result, err = srv.listTodos(ctx, req)
	case "get_todo":
		result, err = srv.getTodo(ctx, req)
	case "search_todos":
		result, err = srv.searchTodos(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestSyncNow(t *testing.T) {
	e := testServer(t)
	testutil.WriteFile(t, e.root, "main.go", "// TODO: fix bug\n")

	r := callTool(t, e.srv, "sync_now", nil)
	if r.IsError {
		t.Fatalf("sync_now error: %s", resultText(r))
	}
	var sum syncSummary
	if err := json.Unmarshal([]byte(resultText(r)), &sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sum.Pass.Created != 1 || sum.Pass.Kind != syncer.KindFull {
		t.Errorf("pass = %+v", sum.Pass)
	}
	if !strings.Contains(testutil.ReadFile(t, e.root, "main.go"), "abc123def456") {
		t.Error("link not embedded")
	}
}

func TestSyncNow_RemoteDown(t *testing.T) {
	e := testServer(t)
	e.remote.QueryErr = errors.New("unreachable")

	r := callTool(t, e.srv, "sync_now", nil)
	if !r.IsError {
		t.Fatal("expected tool error")
	}
	if !strings.Contains(resultText(r), "unreachable") {
		t.Errorf("result = %q", resultText(r))
	}
}

func TestListTodos(t *testing.T) {
	e := testServer(t)
	r := callTool(t, e.srv, "list_todos", map[string]interface{}{})
	if resultText(r) != "no todos found" {
		t.Errorf("empty list = %q", resultText(r))
	}

	testutil.WriteFile(t, e.root, "a.go", "// TODO: one\n")
	testutil.WriteFile(t, e.root, "b.go", "// TODO: two\n")
	_ = callTool(t, e.srv, "sync_now", nil)

	r = callTool(t, e.srv, "list_todos", map[string]interface{}{"path": "b.go"})
	var todos []models.ToDo
	if err := json.Unmarshal([]byte(resultText(r)), &todos); err != nil {
		t.Fatalf("decode: %v (%s)", err, resultText(r))
	}
	if len(todos) != 1 || todos[0].Text != "two" {
		t.Errorf("todos = %+v", todos)
	}
}

func TestGetTodo(t *testing.T) {
	e := testServer(t)
	testutil.WriteFile(t, e.root, "a.go", "// TODO: one\n")
	_ = callTool(t, e.srv, "sync_now", nil)

	r := callTool(t, e.srv, "get_todo", map[string]interface{}{"id": "abc123def456"})
	if r.IsError {
		t.Fatalf("get_todo error: %s", resultText(r))
	}
	var td models.ToDo
	_ = json.Unmarshal([]byte(resultText(r)), &td)
	if td.Text != "one" || td.Status != models.StatusNotStarted {
		t.Errorf("todo = %+v", td)
	}

	r = callTool(t, e.srv, "get_todo", map[string]interface{}{"id": "ffff"})
	if !r.IsError {
		t.Error("expected error for missing todo")
	}
}

func TestGetTodo_MissingArgument(t *testing.T) {
	e := testServer(t)
	r := callTool(t, e.srv, "get_todo", map[string]interface{}{})
	if !r.IsError {
		t.Error("expected error for missing id")
	}
}

func TestSearchTodos(t *testing.T) {
	e := testServer(t)
	testutil.WriteFile(t, e.root, "a.go", "// TODO: refactor parser\n// TODO: add tests\n")
	_ = callTool(t, e.srv, "sync_now", nil)

	r := callTool(t, e.srv, "search_todos", map[string]interface{}{"query": "parser"})
	var hits []index.SearchResult
	if err := json.Unmarshal([]byte(resultText(r)), &hits); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(hits) != 1 || hits[0].Text != "refactor parser" {
		t.Errorf("hits = %+v", hits)
	}
}

func TestPassesResource(t *testing.T) {
	e := testServer(t)
	_ = callTool(t, e.srv, "sync_now", nil)

	contents, err := e.srv.readPassesResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatalf("read resource: %v", err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("unexpected content type %T", contents[0])
	}
	var passes []index.PassRow
	if err := json.Unmarshal([]byte(tc.Text), &passes); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(passes) != 1 {
		t.Errorf("passes = %d, want 1", len(passes))
	}
}
