package monitoring

import "testing"

func TestSetLogger(t *testing.T) {
	defer SetLogger(nil)

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = format
	})
	Logf("hello %d", 1)
	if got != "hello %d" {
		t.Errorf("expected logger to capture format, got %q", got)
	}
}

func TestSetLoggerNil(t *testing.T) {
	SetLogger(nil)
	// Must not panic.
	Logf("dropped")
}

func TestDebugfGatedByVerbose(t *testing.T) {
	defer func() {
		Verbose = false
		SetLogger(nil)
	}()

	calls := 0
	SetLogger(func(format string, v ...interface{}) { calls++ })

	Verbose = false
	Debugf("quiet")
	if calls != 0 {
		t.Errorf("Debugf logged with Verbose off")
	}

	Verbose = true
	Debugf("loud")
	if calls != 1 {
		t.Errorf("Debugf did not log with Verbose on, calls=%d", calls)
	}
}
