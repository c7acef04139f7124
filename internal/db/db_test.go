package db

import "testing"

func TestOpen(t *testing.T) {
	gdb, err := Open("sqlite", "file::memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := gdb.Exec("SELECT 1").Error; err != nil {
		t.Fatalf("query: %v", err)
	}

	if _, err := Open("postgres", "x"); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}
