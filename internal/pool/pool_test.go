package pool

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"go.uber.org/goleak"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), 100)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestValidName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"sales", true},
		{"_internal", true},
		{"db$2025", true},
		{"Db_1", true},
		{"", false},
		{"1sales", false},
		{"sales-2025", false},
		{"sales db", false},
		{"db;DROP", false},
		{"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", false}, // 65 chars
	}
	for _, tt := range tests {
		if got := ValidName(tt.name); got != tt.valid {
			t.Errorf("ValidName(%q) = %v, want %v", tt.name, got, tt.valid)
		}
	}
}

func TestCreateDatabase(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	db, err := m.CreateDatabase(ctx, "alice", "sales", Options{})
	if err != nil {
		t.Fatalf("CreateDatabase failed: %v", err)
	}
	if db.ID == "" {
		t.Error("created database has empty id")
	}
	if db.Name != "sales" {
		t.Errorf("got name %q, want %q", db.Name, "sales")
	}
	if db.OwnerID != "alice" {
		t.Errorf("got owner %q, want %q", db.OwnerID, "alice")
	}

	if _, err := os.Stat(m.dbPath("alice", "sales")); err != nil {
		t.Errorf("database file not provisioned: %v", err)
	}
}

func TestCreateDatabaseDuplicate(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	first, err := m.CreateDatabase(ctx, "alice", "sales", Options{})
	if err != nil {
		t.Fatalf("first CreateDatabase failed: %v", err)
	}

	_, err = m.CreateDatabase(ctx, "alice", "sales", Options{})
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("second create: got %v, want ErrDuplicateName", err)
	}

	// The first database must remain intact.
	got, err := m.Catalog().ResolveName(ctx, "alice", "sales")
	if err != nil {
		t.Fatalf("ResolveName after duplicate create: %v", err)
	}
	if got.ID != first.ID {
		t.Errorf("first database replaced: got id %s, want %s", got.ID, first.ID)
	}
}

func TestCreateDatabaseInvalidName(t *testing.T) {
	m := newTestManager(t)

	_, err := m.CreateDatabase(context.Background(), "alice", "bad name!", Options{})
	if !errors.Is(err, ErrInvalidName) {
		t.Fatalf("got %v, want ErrInvalidName", err)
	}
}

func TestSameNameAcrossOwners(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	a, err := m.CreateDatabase(ctx, "alice", "sales", Options{})
	if err != nil {
		t.Fatalf("alice create failed: %v", err)
	}
	b, err := m.CreateDatabase(ctx, "bob", "sales", Options{})
	if err != nil {
		t.Fatalf("bob create failed: %v", err)
	}
	if a.ID == b.ID {
		t.Error("databases for different owners share an id")
	}

	if _, err := m.Execute(ctx, "alice", "sales", "CREATE TABLE t (x INTEGER)"); err != nil {
		t.Fatalf("alice execute: %v", err)
	}
	// Bob's database of the same name must not see Alice's table.
	res, err := m.Execute(ctx, "bob", "sales", "SELECT name FROM sqlite_master WHERE type='table'")
	if err != nil {
		t.Fatalf("bob execute: %v", err)
	}
	if len(res.Rows) != 0 {
		t.Errorf("bob's database sees %d tables from alice's", len(res.Rows))
	}
}

func TestConcurrentGetCreatesOneHandle(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if _, err := m.CreateDatabase(ctx, "alice", "x", Options{}); err != nil {
		t.Fatalf("CreateDatabase failed: %v", err)
	}
	// Drop the handle registered by create so Get starts cold.
	m.evict("alice", "x")

	const n = 16
	var wg sync.WaitGroup
	handles := make([]any, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := m.Get(ctx, "alice", "x")
			if err != nil {
				t.Errorf("Get failed: %v", err)
				return
			}
			handles[i] = h
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if handles[i] != handles[0] {
			t.Fatalf("handle %d differs from handle 0: two handles created for one key", i)
		}
	}
}

func TestExecuteAndQueryResults(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if _, err := m.CreateDatabase(ctx, "alice", "shop", Options{}); err != nil {
		t.Fatalf("CreateDatabase failed: %v", err)
	}

	if _, err := m.Execute(ctx, "alice", "shop", "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	res, err := m.Execute(ctx, "alice", "shop", "INSERT INTO items (name) VALUES (?), (?)", "apple", "pear")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if res.AffectedRows != 2 {
		t.Errorf("got %d affected rows, want 2", res.AffectedRows)
	}
	if res.InsertID == 0 {
		t.Error("insert id not reported")
	}

	res, err = m.Execute(ctx, "alice", "shop", "SELECT name FROM items ORDER BY id")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(res.Rows))
	}
	if res.Rows[0]["name"] != "apple" {
		t.Errorf("got first row %v, want apple", res.Rows[0]["name"])
	}
	if len(res.Columns) != 1 || res.Columns[0] != "name" {
		t.Errorf("got columns %v, want [name]", res.Columns)
	}
}

func TestExecuteRowLimit(t *testing.T) {
	m, err := NewManager(t.TempDir(), 3)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer m.Close()
	ctx := context.Background()

	if _, err := m.CreateDatabase(ctx, "alice", "big", Options{}); err != nil {
		t.Fatalf("CreateDatabase failed: %v", err)
	}
	if _, err := m.Execute(ctx, "alice", "big", "CREATE TABLE n (v INTEGER)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	for i := 0; i < 10; i++ {
		if _, err := m.Execute(ctx, "alice", "big", "INSERT INTO n (v) VALUES (?)", i); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	res, err := m.Execute(ctx, "alice", "big", "SELECT v FROM n")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(res.Rows) != 3 {
		t.Errorf("got %d rows, want 3 (truncated)", len(res.Rows))
	}
}

func TestExecuteBatchPartialFailure(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if _, err := m.CreateDatabase(ctx, "alice", "batch", Options{}); err != nil {
		t.Fatalf("CreateDatabase failed: %v", err)
	}

	stmts := []string{
		"CREATE TABLE t (x INTEGER)",
		"INSERT INTO t (x) VALUES (1)",
		"INSERT INTO nowhere (x) VALUES (2)",
		"INSERT INTO t (x) VALUES (3)",
	}
	results, err := m.ExecuteBatch(ctx, "alice", "batch", stmts)
	if err == nil {
		t.Fatal("expected batch failure")
	}

	var qerr *QueryExecutionError
	if !errors.As(err, &qerr) {
		t.Fatalf("got %T, want QueryExecutionError", err)
	}
	if qerr.Index != 2 {
		t.Errorf("got failing index %d, want 2", qerr.Index)
	}
	if qerr.Statement != stmts[2] {
		t.Errorf("got failing statement %q, want %q", qerr.Statement, stmts[2])
	}
	if len(results) != 2 {
		t.Errorf("got %d completed statements, want 2", len(results))
	}

	// Prior statements stay committed, later ones never ran.
	res, err := m.Execute(ctx, "alice", "batch", "SELECT COUNT(*) AS c FROM t")
	if err != nil {
		t.Fatalf("count after batch: %v", err)
	}
	if c, ok := res.Rows[0]["c"].(int64); !ok || c != 1 {
		t.Errorf("got count %v, want 1", res.Rows[0]["c"])
	}
}

func TestDropDatabase(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if _, err := m.CreateDatabase(ctx, "alice", "gone", Options{}); err != nil {
		t.Fatalf("CreateDatabase failed: %v", err)
	}
	if _, err := m.Execute(ctx, "alice", "gone", "CREATE TABLE t (x INTEGER)"); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if err := m.DropDatabase(ctx, "alice", "gone"); err != nil {
		t.Fatalf("DropDatabase failed: %v", err)
	}

	// Execute after drop must fail via the catalog check, never reuse a
	// stale handle.
	_, err := m.Execute(ctx, "alice", "gone", "SELECT 1")
	if !errors.Is(err, ErrDatabaseNotFound) {
		t.Fatalf("execute after drop: got %v, want ErrDatabaseNotFound", err)
	}

	if _, err := os.Stat(m.dbPath("alice", "gone")); !os.IsNotExist(err) {
		t.Error("database file still exists after drop")
	}

	// Idempotent.
	if err := m.DropDatabase(ctx, "alice", "gone"); err != nil {
		t.Errorf("second drop: %v", err)
	}
}

func TestDropThenRecreate(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if _, err := m.CreateDatabase(ctx, "alice", "cycle", Options{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.Execute(ctx, "alice", "cycle", "CREATE TABLE old (x INTEGER)"); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if err := m.DropDatabase(ctx, "alice", "cycle"); err != nil {
		t.Fatalf("drop: %v", err)
	}

	// Recreating the name yields a fresh, empty database.
	if _, err := m.CreateDatabase(ctx, "alice", "cycle", Options{}); err != nil {
		t.Fatalf("recreate: %v", err)
	}
	res, err := m.Execute(ctx, "alice", "cycle", "SELECT name FROM sqlite_master WHERE type='table'")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(res.Rows) != 0 {
		t.Errorf("recreated database carries %d stale tables", len(res.Rows))
	}
}

func TestListDatabases(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	names, err := m.ListDatabases("alice")
	if err != nil {
		t.Fatalf("ListDatabases on empty owner: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("got %v, want empty", names)
	}

	for _, name := range []string{"one", "two"} {
		if _, err := m.CreateDatabase(ctx, "alice", name, Options{}); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	if _, err := m.CreateDatabase(ctx, "bob", "three", Options{}); err != nil {
		t.Fatalf("create bob/three: %v", err)
	}

	names, err = m.ListDatabases("alice")
	if err != nil {
		t.Fatalf("ListDatabases: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("got %v, want [one two]", names)
	}
}

func TestDatabaseStats(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if _, err := m.CreateDatabase(ctx, "alice", "stat", Options{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.Execute(ctx, "alice", "stat", "CREATE TABLE a (x INTEGER)"); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, err := m.Execute(ctx, "alice", "stat", "CREATE TABLE b (y TEXT)"); err != nil {
		t.Fatalf("execute: %v", err)
	}

	stats, err := m.DatabaseStats(ctx, "alice", "stat")
	if err != nil {
		t.Fatalf("DatabaseStats: %v", err)
	}
	if stats.TableCount != 2 {
		t.Errorf("got %d tables, want 2", stats.TableCount)
	}
	if stats.SizeMB <= 0 {
		t.Errorf("got size %f, want > 0", stats.SizeMB)
	}
}

func TestInvalidOwner(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	for _, owner := range []string{"", "a/b", `a\b`, ".."} {
		if _, err := m.CreateDatabase(ctx, owner, "ok", Options{}); !errors.Is(err, ErrInvalidOwner) {
			t.Errorf("owner %q: got %v, want ErrInvalidOwner", owner, err)
		}
	}
}

func TestCloseReleasesHandles(t *testing.T) {
	defer goleak.VerifyNone(t)

	m, err := NewManager(t.TempDir(), 100)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	ctx := context.Background()
	if _, err := m.CreateDatabase(ctx, "alice", "x", Options{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.Execute(ctx, "alice", "x", "SELECT 1"); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}
