package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestClassCommands_Lifecycle(t *testing.T) {
	db := filepath.Join(t.TempDir(), "classes.db")

	out, err := run(t, "class", "add", "--db-path", db,
		"--id", "algebra-1", "--room", "math-101", "--title", "Algebra I", "--instructor", "prof")
	if err != nil {
		t.Fatalf("class add failed: %v", err)
	}
	if !strings.Contains(out, "algebra-1") {
		t.Errorf("Expected confirmation for algebra-1, got %q", out)
	}

	if _, err := run(t, "class", "add", "--db-path", db,
		"--id", "algebra-1", "--room", "math-101", "--title", "Again"); err == nil {
		t.Error("Duplicate class id should fail")
	}

	out, err = run(t, "class", "list", "--db-path", db)
	if err != nil {
		t.Fatalf("class list failed: %v", err)
	}
	if !strings.Contains(out, "Algebra I") || !strings.Contains(out, "active") {
		t.Errorf("Expected active class in listing, got:\n%s", out)
	}

	if _, err := run(t, "class", "end", "--db-path", db, "algebra-1"); err != nil {
		t.Fatalf("class end failed: %v", err)
	}
	if _, err := run(t, "class", "end", "--db-path", db, "algebra-1"); err == nil {
		t.Error("Ending an ended class should fail")
	}

	out, _ = run(t, "class", "list", "--db-path", db)
	if strings.Contains(out, "Algebra I") {
		t.Errorf("Ended class should not be listed as active, got:\n%s", out)
	}

	out, _ = run(t, "class", "list", "--all", "--db-path", db)
	if !strings.Contains(out, "Algebra I") || !strings.Contains(out, "ended") {
		t.Errorf("--all should include ended classes, got:\n%s", out)
	}
}

func TestClassCommands_RequiredFlags(t *testing.T) {
	db := filepath.Join(t.TempDir(), "classes.db")

	if _, err := run(t, "class", "add", "--db-path", db, "--id", "algebra-1"); err == nil {
		t.Error("Missing --room and --title should fail")
	}
	if _, err := run(t, "class", "end", "--db-path", db); err == nil {
		t.Error("class end without an id should fail")
	}
}

func TestServe_InvalidConfig(t *testing.T) {
	if _, err := run(t, "serve", "--chat-history", "0"); err == nil {
		t.Error("serve should refuse an invalid configuration")
	}
}
