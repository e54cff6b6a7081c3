package commands

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"
)

// captureStdout redirects os.Stdout for the duration of fn and returns
// everything written to it. versionCmd prints via fmt.Printf directly
// rather than cmd.OutOrStdout(), so this is the only way to observe it.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe() failed: %v", err)
	}
	orig := os.Stdout
	os.Stdout = w

	fn()

	os.Stdout = orig
	_ = w.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("reading captured stdout failed: %v", err)
	}
	return string(out)
}

func TestGetConfigFile_DefaultEmpty(t *testing.T) {
	cfgFile = ""
	if got := GetConfigFile(); got != "" {
		t.Errorf("GetConfigFile() = %q, want empty string", got)
	}
}

func TestGetConfigFile_ReflectsFlag(t *testing.T) {
	defer func() { cfgFile = "" }()

	cfgFile = "/etc/dittofs/config.yaml"
	if got := GetConfigFile(); got != "/etc/dittofs/config.yaml" {
		t.Errorf("GetConfigFile() = %q, want %q", got, "/etc/dittofs/config.yaml")
	}
}

func TestRootCmd_HasVersionAndStartSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	if !names["version"] {
		t.Error("rootCmd is missing the \"version\" subcommand")
	}
	if !names["start"] {
		t.Error("rootCmd is missing the \"start\" subcommand")
	}
}

func TestVersionCmd_PrintsVersionInfo(t *testing.T) {
	Version, Commit, Date = "1.2.3", "abcdef", "2026-01-01"
	defer func() { Version, Commit, Date = "dev", "none", "unknown" }()

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs([]string{"version"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("rootCmd.Execute([\"version\"]) returned error: %v", err)
	}
}

func TestVersionCmdRunE_WritesExpectedFields(t *testing.T) {
	Version, Commit, Date = "1.2.3", "abcdef", "2026-01-01"
	defer func() { Version, Commit, Date = "dev", "none", "unknown" }()

	out := captureStdout(t, func() {
		if err := versionCmd.RunE(versionCmd, nil); err != nil {
			t.Fatalf("versionCmd.RunE returned error: %v", err)
		}
	})

	for _, want := range []string{"1.2.3", "abcdef", "2026-01-01"} {
		if !strings.Contains(out, want) {
			t.Errorf("version output %q missing %q", out, want)
		}
	}
}
