package envutil

import "testing"

func TestGetters(t *testing.T) {
	t.Setenv("CAPTURED_TEST_SET", "value")
	t.Setenv("CAPTURED_TEST_INT", "12")
	t.Setenv("CAPTURED_TEST_BAD_INT", "twelve")
	t.Setenv("PORT", "")

	if _, err := GetEnvOrError("CAPTURED_TEST_UNSET"); err == nil {
		t.Fatal("expected an error for an unset variable")
	}
	if v, err := GetEnvOrError("CAPTURED_TEST_SET"); err != nil || v != "value" {
		t.Fatalf("got %q (%v), want value", v, err)
	}
	if got := GetPort(); got != "8080" {
		t.Fatalf("got %q, want 8080", got)
	}
	if got := GetIntOrFallback("CAPTURED_TEST_INT", 3); got != 12 {
		t.Fatalf("got %d, want 12", got)
	}
	if got := GetIntOrFallback("CAPTURED_TEST_BAD_INT", 3); got != 3 {
		t.Fatalf("got %d, want 3", got)
	}
}
