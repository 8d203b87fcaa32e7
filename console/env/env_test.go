package env

import "testing"

func TestEval(t *testing.T) {
	for value, expected := range map[string]bool{"1": true, "true": true, "TRUE": true, "0": false, "yes": false, "": false} {
		t.Setenv("CONSOLE_TEST_FLAG", value)
		if Eval("CONSOLE_TEST_FLAG") != expected {
			t.Errorf("Eval(%q) = %v, want %v", value, !expected, expected)
		}
	}
}

func TestString(t *testing.T) {
	t.Setenv("CONSOLE_TEST_ADDR", "")
	if v := String("CONSOLE_TEST_ADDR", ":8080"); v != ":8080" {
		t.Errorf("expected default, got %q", v)
	}
	t.Setenv("CONSOLE_TEST_ADDR", ":9090")
	if v := String("CONSOLE_TEST_ADDR", ":8080"); v != ":9090" {
		t.Errorf("expected override, got %q", v)
	}
}
