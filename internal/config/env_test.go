package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeEnvFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadEnvFile_missing(t *testing.T) {
	err := LoadEnvFile(filepath.Join(t.TempDir(), "nonexistent"))
	if err != nil {
		t.Fatalf("missing file should return nil: %v", err)
	}
}

func TestLoadEnvFile_setsEnv(t *testing.T) {
	t.Setenv("STALKER_TEST_A", "")
	t.Setenv("STALKER_TEST_B", "")
	os.Unsetenv("STALKER_TEST_A")
	os.Unsetenv("STALKER_TEST_B")

	path := writeEnvFile(t, "STALKER_TEST_A=bar\n# comment\n\nexport STALKER_TEST_B=quux # trailing\nnot a pair\n")
	if err := LoadEnvFile(path); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("STALKER_TEST_A"); got != "bar" {
		t.Errorf("STALKER_TEST_A = %q", got)
	}
	if got := os.Getenv("STALKER_TEST_B"); got != "quux" {
		t.Errorf("STALKER_TEST_B = %q", got)
	}
}

func TestLoadEnvFile_processEnvWins(t *testing.T) {
	t.Setenv("STALKER_TEST_C", "from-process")
	path := writeEnvFile(t, "STALKER_TEST_C=from-file\n")
	if err := LoadEnvFile(path); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("STALKER_TEST_C"); got != "from-process" {
		t.Errorf("STALKER_TEST_C = %q", got)
	}
}

func TestParseEnvLine(t *testing.T) {
	cases := []struct {
		line, key, value string
		ok               bool
	}{
		{`X="hello # world"`, "X", "hello # world", true},
		{`X='single'`, "X", "single", true},
		{`X=`, "X", "", true},
		{`=value`, "", "", false},
		{`# X=1`, "", "", false},
		{`  Y = spaced  `, "Y", "spaced", true},
	}
	for _, c := range cases {
		k, v, ok := parseEnvLine(c.line)
		if k != c.key || v != c.value || ok != c.ok {
			t.Errorf("parseEnvLine(%q) = %q, %q, %v", c.line, k, v, ok)
		}
	}
}
