package env

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestString_Default(t *testing.T) {
	t.Setenv("ENV_STRING_DEFAULT", "")
	got := String("ENV_STRING_DOES_NOT_EXIST", "fallback")
	if got != "fallback" {
		t.Fatalf("String()=%q, want fallback", got)
	}
}

func TestString_Override(t *testing.T) {
	t.Setenv("ENV_STRING_KEY", "value")
	got := String("ENV_STRING_KEY", "fallback")
	if got != "value" {
		t.Fatalf("String()=%q, want value", got)
	}
}

func TestDuration_Default(t *testing.T) {
	got, err := Duration("ENV_DURATION_DOES_NOT_EXIST", 5*time.Second)
	if err != nil {
		t.Fatalf("Duration() err=%v", err)
	}
	if got != 5*time.Second {
		t.Fatalf("Duration()=%v, want 5s", got)
	}
}

func TestDuration_Override(t *testing.T) {
	t.Setenv("ENV_DURATION_KEY", "250ms")
	got, err := Duration("ENV_DURATION_KEY", 5*time.Second)
	if err != nil {
		t.Fatalf("Duration() err=%v", err)
	}
	if got != 250*time.Millisecond {
		t.Fatalf("Duration()=%v, want 250ms", got)
	}
}

func TestDuration_Invalid(t *testing.T) {
	t.Setenv("ENV_DURATION_KEY_INVALID", "not-a-duration")
	_, err := Duration("ENV_DURATION_KEY_INVALID", 5*time.Second)
	if err == nil {
		t.Fatalf("Duration() expected error")
	}
}

func TestBool_Default(t *testing.T) {
	got, err := Bool("ENV_BOOL_DOES_NOT_EXIST", true)
	if err != nil {
		t.Fatalf("Bool() err=%v", err)
	}
	if got != true {
		t.Fatalf("Bool()=%v, want true", got)
	}
}

func TestBool_Override(t *testing.T) {
	t.Setenv("ENV_BOOL_KEY", "false")
	got, err := Bool("ENV_BOOL_KEY", true)
	if err != nil {
		t.Fatalf("Bool() err=%v", err)
	}
	if got != false {
		t.Fatalf("Bool()=%v, want false", got)
	}
}

func TestBool_Invalid(t *testing.T) {
	t.Setenv("ENV_BOOL_KEY_INVALID", "nope")
	_, err := Bool("ENV_BOOL_KEY_INVALID", false)
	if err == nil {
		t.Fatalf("Bool() expected error")
	}
}

func TestInt_Default(t *testing.T) {
	got, err := Int("ENV_INT_DOES_NOT_EXIST", 42)
	if err != nil {
		t.Fatalf("Int() err=%v", err)
	}
	if got != 42 {
		t.Fatalf("Int()=%v, want 42", got)
	}
}

func TestInt_Override(t *testing.T) {
	t.Setenv("ENV_INT_KEY", "7")
	got, err := Int("ENV_INT_KEY", 42)
	if err != nil {
		t.Fatalf("Int() err=%v", err)
	}
	if got != 7 {
		t.Fatalf("Int()=%v, want 7", got)
	}
}

func TestInt_Invalid(t *testing.T) {
	t.Setenv("ENV_INT_KEY_INVALID", "nope")
	_, err := Int("ENV_INT_KEY_INVALID", 42)
	if err == nil {
		t.Fatalf("Int() expected error")
	}
}

func TestPrefixed(t *testing.T) {
	t.Setenv("HPC_TEST_PREFIXED", "node")
	t.Setenv("NEXUS_TEST_PREFIXED", "org")
	t.Setenv("OTHER_TEST_PREFIXED", "skip")

	got := Prefixed("HPC_", "NEXUS_")
	if got["HPC_TEST_PREFIXED"] != "node" {
		t.Fatalf("Prefixed()[HPC_TEST_PREFIXED]=%q, want node", got["HPC_TEST_PREFIXED"])
	}
	if got["NEXUS_TEST_PREFIXED"] != "org" {
		t.Fatalf("Prefixed()[NEXUS_TEST_PREFIXED]=%q, want org", got["NEXUS_TEST_PREFIXED"])
	}
	if _, ok := got["OTHER_TEST_PREFIXED"]; ok {
		t.Fatalf("Prefixed() should not include OTHER_TEST_PREFIXED")
	}
}

func TestLoadFile_EnvWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "svc.yaml")
	content := "ENV_FILE_ONLY: from-file\nENV_FILE_SET: from-file\nENV_FILE_NUMBER: 8\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("ENV_FILE_SET", "from-env")
	t.Setenv("ENV_FILE_ONLY", "")
	_ = os.Unsetenv("ENV_FILE_ONLY")
	t.Setenv("ENV_FILE_NUMBER", "")
	_ = os.Unsetenv("ENV_FILE_NUMBER")

	applied, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() err=%v", err)
	}
	if len(applied) != 2 {
		t.Fatalf("LoadFile() applied=%v, want 2 keys", applied)
	}
	if got := String("ENV_FILE_ONLY", ""); got != "from-file" {
		t.Fatalf("ENV_FILE_ONLY=%q, want from-file", got)
	}
	if got := String("ENV_FILE_SET", ""); got != "from-env" {
		t.Fatalf("ENV_FILE_SET=%q, want from-env", got)
	}
	if got, _ := Int("ENV_FILE_NUMBER", 0); got != 8 {
		t.Fatalf("ENV_FILE_NUMBER=%d, want 8", got)
	}
}

func TestLoadFile_RejectsNested(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "svc.yaml")
	if err := os.WriteFile(path, []byte("ENV_FILE_NESTED:\n  a: b\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("ENV_FILE_NESTED", "")
	_ = os.Unsetenv("ENV_FILE_NESTED")
	if _, err := LoadFile(path); err == nil {
		t.Fatalf("LoadFile() expected error for nested value")
	}
}

func TestLoadFile_EmptyPath(t *testing.T) {
	applied, err := LoadFile("")
	if err != nil || applied != nil {
		t.Fatalf("LoadFile(\"\")=%v,%v want nil,nil", applied, err)
	}
}
