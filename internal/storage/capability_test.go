package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"scriptbox/internal/sandboxerr"
)

func newTestCapability(t *testing.T) (*DB, *Capability) {
	t.Helper()
	db := openTestDB(t)

	if _, err := db.Exec("CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT, qty INTEGER)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := db.Exec("INSERT INTO items (name, qty) VALUES ('bolt', 10), ('nut', 20)"); err != nil {
		t.Fatalf("seed data: %v", err)
	}

	return db, NewCapability(db, "tenant-a", "inst-1", zerolog.Nop())
}

func TestCapabilityQuery(t *testing.T) {
	_, cap := newTestCapability(t)

	rows, err := cap.Query(context.Background(), "SELECT name, qty FROM items ORDER BY id", nil)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0]["name"] != "bolt" {
		t.Errorf("expected bolt first, got %v", rows[0]["name"])
	}
}

func TestCapabilityNamedParams(t *testing.T) {
	_, cap := newTestCapability(t)

	rows, err := cap.Query(context.Background(),
		"SELECT qty FROM items WHERE name = :name", map[string]any{"name": "nut"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
}

func TestCapabilityDeniesStatements(t *testing.T) {
	_, cap := newTestCapability(t)

	denied := []string{
		"DROP TABLE items",
		"ALTER TABLE items ADD COLUMN extra TEXT",
		"CREATE TABLE evil (id INTEGER)",
		"PRAGMA journal_mode=DELETE",
		"ATTACH DATABASE '/etc/passwd' AS pwn",
		"VACUUM",
		"UPDATE items SET qty = 0",
		"DELETE FROM items",
	}
	for _, query := range denied {
		_, err := cap.Query(context.Background(), query, nil)
		if !errors.Is(err, sandboxerr.ErrQueryDenied) {
			t.Errorf("%q: expected ErrQueryDenied, got %v", query, err)
		}
	}
}

func TestCapabilityAllowsScopedWrites(t *testing.T) {
	db, cap := newTestCapability(t)

	_, err := cap.Query(context.Background(),
		"UPDATE items SET qty = :qty WHERE name = :name",
		map[string]any{"qty": 5, "name": "bolt"})
	if err != nil {
		t.Fatalf("scoped update rejected: %v", err)
	}

	var qty int
	if err := db.QueryRow("SELECT qty FROM items WHERE name = 'bolt'").Scan(&qty); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if qty != 5 {
		t.Errorf("expected qty 5, got %d", qty)
	}
}

func TestCapabilityAuditsQueries(t *testing.T) {
	db, cap := newTestCapability(t)

	_, _ = cap.Query(context.Background(), "SELECT * FROM items", nil)
	_, _ = cap.Query(context.Background(), "DROP TABLE items", nil)

	entries, err := db.AuditEntries("tenant-a", 10)
	if err != nil {
		t.Fatalf("AuditEntries failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(entries))
	}

	// Newest first: the denied DROP should lead.
	if !entries[0].Denied {
		t.Error("expected the denied query to be flagged")
	}
	if entries[1].Denied {
		t.Error("expected the select to pass")
	}
	if entries[1].RowCount != 2 {
		t.Errorf("expected 2 rows recorded, got %d", entries[1].RowCount)
	}
}

func TestCapabilityTables(t *testing.T) {
	_, cap := newTestCapability(t)

	tables, err := cap.Tables(context.Background())
	if err != nil {
		t.Fatalf("Tables failed: %v", err)
	}

	if len(tables) != 1 || tables[0] != "items" {
		t.Errorf("expected only the items table to be visible, got %v", tables)
	}
}

func TestCapabilitySchema(t *testing.T) {
	_, cap := newTestCapability(t)

	cols, err := cap.Schema(context.Background(), "items")
	if err != nil {
		t.Fatalf("Schema failed: %v", err)
	}
	if len(cols) != 3 {
		t.Fatalf("expected 3 columns, got %d", len(cols))
	}
	if cols[0].Name != "id" {
		t.Errorf("expected id column first, got %s", cols[0].Name)
	}

	if _, err := cap.Schema(context.Background(), "query_audit"); !errors.Is(err, sandboxerr.ErrQueryDenied) {
		t.Errorf("expected hidden table to be denied, got %v", err)
	}
	if _, err := cap.Schema(context.Background(), "items; DROP TABLE items"); !errors.Is(err, sandboxerr.ErrQueryDenied) {
		t.Errorf("expected malformed table name to be denied, got %v", err)
	}
}
