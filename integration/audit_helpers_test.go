package integration_test

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func loadAuditTypes(t *testing.T, dbPath string) map[string]int {
	t.Helper()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open audit db: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()

	rows, err := db.Query("SELECT type, COUNT(*) FROM events GROUP BY type")
	if err != nil {
		t.Fatalf("query audit events: %v", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	types := make(map[string]int)
	for rows.Next() {
		var eventType string
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			t.Fatalf("scan audit event: %v", err)
		}
		types[eventType] = count
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate audit events: %v", err)
	}
	return types
}

// requireAuditCounts checks exact counts; a zero count asserts the event never happened.
func requireAuditCounts(t *testing.T, dbPath string, want map[string]int) {
	t.Helper()
	types := loadAuditTypes(t, dbPath)
	for eventType, n := range want {
		if types[eventType] != n {
			t.Errorf("audit event %s: got %d, want %d (all: %v)", eventType, types[eventType], n, types)
		}
	}
}

func countCommittedPlans(t *testing.T, dbPath string) int {
	t.Helper()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM committed_plans").Scan(&n); err != nil {
		t.Fatalf("count committed plans: %v", err)
	}
	return n
}
