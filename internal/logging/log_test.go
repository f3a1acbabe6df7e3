package logging

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func captureLog(t *testing.T) *bytes.Buffer {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		SetLogMode(InfoMode)
	})
	return &buf
}

func TestLogModeFilters(t *testing.T) {
	buf := captureLog(t)

	SetLogMode(WarningMode)
	Debugf("debug message\n")
	Infof("info message\n")
	Warningf("warning message\n")
	Errorf("error message\n")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("Messages below the mode were printed: %q", out)
	}
	if !strings.Contains(out, " WARNING warning message") || !strings.Contains(out, " ERROR error message") {
		t.Errorf("Expected warning and error messages, got %q", out)
	}

	buf.Reset()
	SetLogMode(SilentMode)
	Criticalf("critical message\n")
	if buf.Len() != 0 {
		t.Errorf("Silent mode printed %q", buf.String())
	}
}

func TestTimeLog(t *testing.T) {
	buf := captureLog(t)
	SetLogMode(DebugMode)

	tlog := NewTimeLog()
	tlog.Infof("extracted %d components", 3)
	if out := buf.String(); !strings.Contains(out, "INFO extracted 3 components: ") {
		t.Errorf("Expected elapsed time after the message, got %q", out)
	}
}

func TestSetLoggerWritesFile(t *testing.T) {
	dir, err := os.MkdirTemp("", "boldconfounds-log-*")
	if err != nil {
		t.Fatalf("Failed to create temporary directory: %v", err)
	}
	defer os.RemoveAll(dir)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	path := filepath.Join(dir, "run.log")
	cfg := &LogConfig{Logfile: path, MaxSize: 1, MaxAge: 1}
	cfg.SetLogger()
	Infof("written to file\n")
	Shutdown()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Log file not written: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("Unexpected log contents %q", data)
	}
}
