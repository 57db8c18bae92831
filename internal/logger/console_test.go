package logger

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	cl := NewConsoleLogger(&buf, "warn")

	cl.Debugf("hidden debug")
	cl.Infof("hidden info")
	cl.Warnf("visible warning")
	cl.Errorf("visible error")

	output := buf.String()
	if strings.Contains(output, "hidden") {
		t.Errorf("messages below warn should be filtered, got: %q", output)
	}
	if !strings.Contains(output, "visible warning") {
		t.Errorf("warn message missing from output: %q", output)
	}
	if !strings.Contains(output, "visible error") {
		t.Errorf("error message missing from output: %q", output)
	}
}

func TestDefaultLevelIsInfo(t *testing.T) {
	var buf bytes.Buffer
	cl := NewConsoleLogger(&buf, "bogus")

	cl.Debugf("debug message")
	cl.Infof("info message")

	output := buf.String()
	if strings.Contains(output, "debug message") {
		t.Errorf("debug should be filtered at default level: %q", output)
	}
	if !strings.Contains(output, "info message") {
		t.Errorf("info message missing: %q", output)
	}
}

func TestMessageFormat(t *testing.T) {
	var buf bytes.Buffer
	cl := NewConsoleLogger(&buf, "info")

	cl.Infof("claimed task %s", "1.2")

	output := buf.String()
	if !strings.Contains(output, "[INFO] claimed task 1.2") {
		t.Errorf("unexpected format: %q", output)
	}
	if !strings.HasPrefix(output, "[") {
		t.Errorf("expected timestamp prefix: %q", output)
	}
}

func TestNilWriterDiscards(t *testing.T) {
	cl := NewConsoleLogger(nil, "info")
	// Must not panic.
	cl.Infof("into the void")
}

func TestConcurrentLogging(t *testing.T) {
	var buf bytes.Buffer
	cl := NewConsoleLogger(&buf, "info")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			cl.Infof("message %d", n)
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 10 {
		t.Errorf("expected 10 lines, got %d", len(lines))
	}
}

func TestNoOpLogger(t *testing.T) {
	var _ Logger = NewNoOpLogger()
	NewNoOpLogger().Errorf("discarded")
}
