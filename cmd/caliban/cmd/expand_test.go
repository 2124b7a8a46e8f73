package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestExpandCommand_StdinSweep(t *testing.T) {
	resetViper()

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetIn(strings.NewReader("epochs: [2, 3]\nlr: 0.1\n"))
	rootCmd.SetArgs([]string{"expand-experiments", "-e", "-"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 tuples, got %d:\n%s", len(lines), stdout.String())
	}
	if lines[0] != "--epochs 2 --lr 0.1" {
		t.Errorf("unexpected first tuple: %q", lines[0])
	}
	if lines[1] != "--epochs 3 --lr 0.1" {
		t.Errorf("unexpected second tuple: %q", lines[1])
	}
}

func TestExpandCommand_BadConfig(t *testing.T) {
	resetViper()

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetIn(strings.NewReader(`"[a,b]": [["a1"]]`))
	rootCmd.SetArgs([]string{"expand-experiments", "-e", "-"})

	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected error for wrong-arity compound key")
	}
}
