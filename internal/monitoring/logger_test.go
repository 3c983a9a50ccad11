package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	// nil installs a no-op logger
	called = false
	SetLogger(nil)
	Logf("test")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestDebugf_Verbosity(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()
	defer SetVerbosity(0)

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})

	Debugf(1, "hidden %d", 1)
	if len(got) != 0 {
		t.Fatalf("expected no output at verbosity 0, got %v", got)
	}

	SetVerbosity(1)
	Debugf(1, "frame %d", 7)
	Debugf(2, "query %d", 8)
	if len(got) != 1 || got[0] != "frame 7" {
		t.Fatalf("unexpected debug output %v", got)
	}
	if Verbosity() != 1 {
		t.Errorf("Verbosity() = %d, want 1", Verbosity())
	}
}
