package mcpserver

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/othala/internal/backlinks"
	"github.com/starford/othala/internal/graph"
	"github.com/starford/othala/internal/noteservice"
	"github.com/starford/othala/internal/testutil"
	"github.com/starford/othala/internal/vault"
)

func testServer(t *testing.T) (*Server, vault.Store) {
	t.Helper()

	_, store := testutil.TestVault(t)
	db := testutil.TestDB(t)

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	writer := backlinks.NewWriter(store, backlinks.DefaultLockTimeout, logger)
	queue := backlinks.NewQueue(writer, backlinks.QueueConfig{RetryDelay: 10 * time.Millisecond}, logger)
	g := graph.New()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go queue.Run(ctx)

	svc := noteservice.NewService(store, db, g, queue)
	migrator := backlinks.NewMigrator(store, g, writer, "index", logger)
	return New(svc, store, migrator), store
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go doesn't expose a direct "call tool" test helper, so the
	// handler functions are called directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "search_notes":
		result, err = srv.searchNotes(ctx, req)
	case "read_note":
		result, err = srv.readNote(ctx, req)
	case "write_note":
		result, err = srv.writeNote(ctx, req)
	case "delete_note":
		result, err = srv.deleteNote(ctx, req)
	case "list_notes":
		result, err = srv.listNotes(ctx, req)
	case "get_backlinks":
		result, err = srv.getBacklinks(ctx, req)
	case "get_outgoing_links":
		result, err = srv.getOutgoingLinks(ctx, req)
	case "validate_vault":
		result, err = srv.validateVault(ctx, req)
	case "repair_vault":
		result, err = srv.repairVault(ctx, req)
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

const testContent = "---\ntype: note\n---\n\n# Test\nHello\n"

func TestWriteAndReadNote(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "write_note", map[string]any{
		"id":      "test",
		"content": testContent,
	})
	if text := resultText(r); text != "written: test" {
		t.Errorf("write result = %q", text)
	}

	r = callTool(t, srv, "read_note", map[string]any{"id": "test"})
	if text := resultText(r); text != testContent {
		t.Errorf("read result = %q", text)
	}
}

func TestWriteNote_OverwritesExisting(t *testing.T) {
	srv, _ := testServer(t)

	_ = callTool(t, srv, "write_note", map[string]any{"id": "n", "content": testContent})
	r := callTool(t, srv, "write_note", map[string]any{
		"id":      "n",
		"content": "---\ntype: note\n---\n\nreplaced\n",
	})
	if r.IsError {
		t.Fatalf("overwrite failed: %s", resultText(r))
	}

	r = callTool(t, srv, "read_note", map[string]any{"id": "n"})
	if !strings.Contains(resultText(r), "replaced") {
		t.Errorf("read result = %q", resultText(r))
	}
}

func TestListNotes(t *testing.T) {
	srv, store := testServer(t)
	_ = store.Write("a.md", []byte("a"))
	_ = store.Write("b.md", []byte("b"))

	r := callTool(t, srv, "list_notes", map[string]any{})
	if resultText(r) == "" {
		t.Error("list returned empty")
	}
}

func TestReadNoteMissing(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "read_note", map[string]any{"id": "nope"})
	if !r.IsError {
		t.Error("expected error for missing note")
	}
}

func TestGetBacklinksAndOutgoing(t *testing.T) {
	srv, _ := testServer(t)
	_ = callTool(t, srv, "write_note", map[string]any{
		"id":      "a",
		"content": "---\ntype: note\n---\n\nlinks to [[b]]\n",
	})

	r := callTool(t, srv, "get_backlinks", map[string]any{"id": "b"})
	if text := resultText(r); text != "a" {
		t.Errorf("backlinks = %q, want a", text)
	}

	r = callTool(t, srv, "get_outgoing_links", map[string]any{"id": "a"})
	if text := resultText(r); text != "b" {
		t.Errorf("outgoing = %q, want b", text)
	}
}

func TestDeleteNote(t *testing.T) {
	srv, _ := testServer(t)
	_ = callTool(t, srv, "write_note", map[string]any{"id": "gone", "content": testContent})

	r := callTool(t, srv, "delete_note", map[string]any{"id": "gone"})
	if text := resultText(r); text != "deleted: gone" {
		t.Errorf("delete result = %q", text)
	}

	r = callTool(t, srv, "delete_note", map[string]any{"id": "gone"})
	if !r.IsError {
		t.Error("expected error deleting a missing note")
	}
}

func TestValidateAndRepairVault(t *testing.T) {
	srv, store := testServer(t)
	_ = callTool(t, srv, "write_note", map[string]any{"id": "b", "content": testContent})
	_ = callTool(t, srv, "write_note", map[string]any{
		"id":      "a",
		"content": "---\ntype: note\n---\n\n[[b]]\n",
	})

	// Wait for propagation to land on disk.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		data, _ := store.Read("b.md")
		if strings.Contains(string(data), backlinks.StartMarker) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	r := callTool(t, srv, "validate_vault", map[string]any{})
	if r.IsError {
		t.Fatalf("validate failed: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), `"valid": true`) {
		t.Errorf("validation output = %s", resultText(r))
	}

	r = callTool(t, srv, "repair_vault", map[string]any{})
	if r.IsError {
		t.Fatalf("repair failed: %s", resultText(r))
	}
}
