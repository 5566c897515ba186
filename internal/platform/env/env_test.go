package env

import (
	"testing"
	"time"
)

func TestStringDefault(t *testing.T) {
	if got := String("PROCDASH_TEST_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv("PROCDASH_TEST_SET", "value")
	if got := String("PROCDASH_TEST_SET", "fallback"); got != "value" {
		t.Fatalf("expected value, got %q", got)
	}
}

func TestDuration(t *testing.T) {
	t.Setenv("PROCDASH_TEST_DURATION", "90s")
	d, err := Duration("PROCDASH_TEST_DURATION", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != 90*time.Second {
		t.Fatalf("expected 90s, got %s", d)
	}

	t.Setenv("PROCDASH_TEST_DURATION", "not-a-duration")
	if _, err := Duration("PROCDASH_TEST_DURATION", time.Second); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestBool(t *testing.T) {
	t.Setenv("PROCDASH_TEST_BOOL", "true")
	b, err := Bool("PROCDASH_TEST_BOOL", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !b {
		t.Fatalf("expected true")
	}

	t.Setenv("PROCDASH_TEST_BOOL", "banana")
	if _, err := Bool("PROCDASH_TEST_BOOL", false); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestInt(t *testing.T) {
	t.Setenv("PROCDASH_TEST_INT", "42")
	i, err := Int("PROCDASH_TEST_INT", 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if i != 42 {
		t.Fatalf("expected 42, got %d", i)
	}
}
