package env

import (
	"testing"
	"time"
)

func TestString_Default(t *testing.T) {
	got := String("REPLAY_ENV_STRING_DOES_NOT_EXIST", "fallback")
	if got != "fallback" {
		t.Fatalf("String()=%q, want fallback", got)
	}
}

func TestFirst(t *testing.T) {
	t.Setenv("REPLAY_ENV_FIRST_A", "  ")
	t.Setenv("REPLAY_ENV_FIRST_B", " b ")
	if got := First("def", "REPLAY_ENV_FIRST_A", "REPLAY_ENV_FIRST_B"); got != "b" {
		t.Fatalf("First()=%q, want b", got)
	}
	if got := First("def", "REPLAY_ENV_FIRST_MISSING"); got != "def" {
		t.Fatalf("First()=%q, want def", got)
	}
}

func TestDuration(t *testing.T) {
	got, err := Duration("REPLAY_ENV_DURATION_DOES_NOT_EXIST", 5*time.Second)
	if err != nil || got != 5*time.Second {
		t.Fatalf("Duration()=%v err=%v, want 5s", got, err)
	}

	t.Setenv("REPLAY_ENV_DURATION", "250ms")
	got, err = Duration("REPLAY_ENV_DURATION", 5*time.Second)
	if err != nil || got != 250*time.Millisecond {
		t.Fatalf("Duration()=%v err=%v, want 250ms", got, err)
	}

	t.Setenv("REPLAY_ENV_DURATION_INVALID", "soon")
	if _, err := Duration("REPLAY_ENV_DURATION_INVALID", time.Second); err == nil {
		t.Fatalf("Duration() expected error")
	}
}

func TestBoolAndInt(t *testing.T) {
	t.Setenv("REPLAY_ENV_BOOL", "true")
	b, err := Bool("REPLAY_ENV_BOOL", false)
	if err != nil || !b {
		t.Fatalf("Bool()=%v err=%v, want true", b, err)
	}
	t.Setenv("REPLAY_ENV_INT", "42")
	i, err := Int("REPLAY_ENV_INT", 0)
	if err != nil || i != 42 {
		t.Fatalf("Int()=%v err=%v, want 42", i, err)
	}
	t.Setenv("REPLAY_ENV_INT_INVALID", "x")
	if _, err := Int("REPLAY_ENV_INT_INVALID", 0); err == nil {
		t.Fatalf("Int() expected error")
	}
}

func TestFields(t *testing.T) {
	def := []string{"a", "b"}
	if got := Fields("REPLAY_ENV_FIELDS_MISSING", def); len(got) != 2 {
		t.Fatalf("Fields()=%v, want default", got)
	}
	t.Setenv("REPLAY_ENV_FIELDS", "ros2  bag\tplay")
	got := Fields("REPLAY_ENV_FIELDS", def)
	if len(got) != 3 || got[2] != "play" {
		t.Fatalf("Fields()=%v, want [ros2 bag play]", got)
	}
}

func TestHeaders(t *testing.T) {
	t.Setenv("REPLAY_ENV_HEADERS", "X-Token: abc; X-Trace:1;")
	got, err := Headers("REPLAY_ENV_HEADERS")
	if err != nil {
		t.Fatalf("Headers() err=%v", err)
	}
	if got["X-Token"] != "abc" || got["X-Trace"] != "1" || len(got) != 2 {
		t.Fatalf("Headers()=%v", got)
	}

	t.Setenv("REPLAY_ENV_HEADERS_BAD", "no-colon")
	if _, err := Headers("REPLAY_ENV_HEADERS_BAD"); err == nil {
		t.Fatalf("Headers() expected error")
	}
}
