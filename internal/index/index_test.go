package index

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/starford/todosync/internal/apperr"
	"github.com/starford/todosync/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "todosync-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func todo(id, path string, line int, text string) models.ToDo {
	return models.ToDo{
		Text:   text,
		Source: models.SourceFile{Filename: path, RelativePath: path},
		Span: models.Span{
			Start: models.Position{Line: line},
			End:   models.Position{Line: line, Character: len(text) + 9},
		},
		LastChanged:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Status:       models.StatusNotStarted,
		ExternalID:   id,
		ExternalLink: "https://notion.so/" + id,
	}
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	for _, table := range []string{"todos", "files", "passes"} {
		var count int
		if err := db.conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&count); err != nil {
			t.Fatalf("%s table missing: %v", table, err)
		}
	}
}

func TestReplaceAndGetTodo(t *testing.T) {
	db := testDB(t)
	want := todo("aaa111", "main.go", 3, "fix bug")
	want.Form = models.BlockComment
	if err := db.ReplaceTodos([]models.ToDo{want}); err != nil {
		t.Fatalf("ReplaceTodos: %v", err)
	}
	got, err := db.GetTodo("aaa111")
	if err != nil {
		t.Fatalf("GetTodo: %v", err)
	}
	if got.Text != want.Text || got.Source != want.Source || got.Span != want.Span {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if got.Status != models.StatusNotStarted || got.Form != models.BlockComment || got.ExternalLink != want.ExternalLink {
		t.Errorf("got %+v", got)
	}
	if !got.LastChanged.Equal(want.LastChanged) {
		t.Errorf("last changed = %v, want %v", got.LastChanged, want.LastChanged)
	}
}

func TestGetTodo_NotFound(t *testing.T) {
	db := testDB(t)
	_, err := db.GetTodo("missing")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestReplaceTodos_DropsPrevious(t *testing.T) {
	db := testDB(t)
	_ = db.ReplaceTodos([]models.ToDo{todo("aaa111", "a.go", 0, "one"), todo("bbb222", "a.go", 1, "two")})
	if err := db.ReplaceTodos([]models.ToDo{todo("ccc333", "b.go", 0, "three"), {Text: "unlinked"}}); err != nil {
		t.Fatalf("ReplaceTodos: %v", err)
	}
	list, total, err := db.ListTodos(0, 0, "", "")
	if err != nil {
		t.Fatalf("ListTodos: %v", err)
	}
	if total != 1 || len(list) != 1 || list[0].ExternalID != "ccc333" {
		t.Errorf("list = %+v (total %d)", list, total)
	}
}

func TestListTodos_FilterAndOrder(t *testing.T) {
	db := testDB(t)
	done := todo("ddd444", "b.go", 1, "done")
	done.Status = models.StatusCompleted
	_ = db.ReplaceTodos([]models.ToDo{
		todo("aaa111", "b.go", 9, "late"),
		todo("bbb222", "a.go", 4, "first"),
		todo("ccc333", "b.go", 2, "early"),
		done,
	})

	list, total, err := db.ListTodos(10, 0, "b.go", string(models.StatusNotStarted))
	if err != nil {
		t.Fatalf("ListTodos: %v", err)
	}
	if total != 2 || len(list) != 2 {
		t.Fatalf("total = %d, len = %d", total, len(list))
	}
	if list[0].ExternalID != "ccc333" || list[1].ExternalID != "aaa111" {
		t.Errorf("order = %s, %s", list[0].ExternalID, list[1].ExternalID)
	}

	page, total, _ := db.ListTodos(1, 1, "", "")
	if total != 4 || len(page) != 1 || page[0].ExternalID != "ccc333" {
		t.Errorf("page = %+v (total %d)", page, total)
	}
}

func TestFileChecksums(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	if err := db.UpsertFile(models.FileMeta{Path: "a.go", Checksum: "1", ModTime: now}); err != nil {
		t.Fatalf("UpsertFile: %v", err)
	}
	_ = db.UpsertFile(models.FileMeta{Path: "a.go", Checksum: "2", ModTime: now})
	_ = db.UpsertFile(models.FileMeta{Path: "b.go", Checksum: "3", ModTime: now})

	cs, err := db.GetChecksum("a.go")
	if err != nil {
		t.Fatalf("GetChecksum: %v", err)
	}
	if cs != "2" {
		t.Errorf("checksum = %q, want %q", cs, "2")
	}

	if err := db.DeleteFile("b.go"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	all, err := db.AllChecksums()
	if err != nil {
		t.Fatalf("AllChecksums: %v", err)
	}
	if len(all) != 1 || all["a.go"] != "2" {
		t.Errorf("all = %v", all)
	}
}

func TestGetChecksum_NotFound(t *testing.T) {
	db := testDB(t)
	cs, err := db.GetChecksum("nonexistent.go")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs != "" {
		t.Errorf("expected empty checksum, got %q", cs)
	}
}

func TestPasses(t *testing.T) {
	db := testDB(t)
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	id1, err := db.RecordPass(PassRow{Kind: "full", StartedAt: start, Duration: 1500 * time.Millisecond, Created: 2, Rewrites: 2})
	if err != nil {
		t.Fatalf("RecordPass: %v", err)
	}
	id2, _ := db.RecordPass(PassRow{Kind: "file", Path: "a.go", StartedAt: start.Add(time.Minute), Failures: 1, Error: "boom"})
	if id2 <= id1 {
		t.Errorf("ids not increasing: %d, %d", id1, id2)
	}

	passes, err := db.ListPasses(10)
	if err != nil {
		t.Fatalf("ListPasses: %v", err)
	}
	if len(passes) != 2 {
		t.Fatalf("len = %d", len(passes))
	}
	if passes[0].Kind != "file" || passes[0].Path != "a.go" || passes[0].Error != "boom" {
		t.Errorf("newest = %+v", passes[0])
	}
	if passes[1].Duration != 1500*time.Millisecond || passes[1].Created != 2 || !passes[1].StartedAt.Equal(start) {
		t.Errorf("oldest = %+v", passes[1])
	}
}

func TestSearch_Basic(t *testing.T) {
	db := testDB(t)
	_ = db.ReplaceTodos([]models.ToDo{
		todo("aaa111", "s.go", 0, "uniqueword appears here"),
		todo("bbb222", "s.go", 1, "something else"),
	})

	results, err := db.Search("uniqueword", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ExternalID != "aaa111" || results[0].Path != "s.go" {
		t.Errorf("search results = %+v, want 1 hit for aaa111", results)
	}
}
