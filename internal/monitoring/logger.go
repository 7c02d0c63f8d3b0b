package monitoring

import (
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/banshee-data/caiman/internal/fsutil"
)

// LogFunc is the diagnostic sink handed to components at construction.
type LogFunc func(format string, v ...interface{})

// Discard drops every message.
func Discard(string, ...interface{}) {}

// OrDiscard returns f, or Discard when f is nil.
func OrDiscard(f LogFunc) LogFunc {
	if f == nil {
		return Discard
	}
	return f
}

// Logger writes INFO and ERROR lines to an output stream and mirrors every
// message into an optional warnings file. Safe for concurrent use.
type Logger struct {
	mu            sync.Mutex
	out           *log.Logger
	printMessages bool
	warnings      *WarningsFile
	lastError     string
}

// NewLogger returns a Logger writing to w with the standard log flags.
func NewLogger(w io.Writer) *Logger {
	return &Logger{
		out:           log.New(w, "", log.LstdFlags),
		printMessages: true,
	}
}

// SetPrintMessages controls whether INFO lines reach the output stream when
// they have already been recorded in the warnings file.
func (l *Logger) SetPrintMessages(print bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.printMessages = print
}

// SetWarningsFile starts mirroring messages into a warnings document at path.
// Any existing file is removed first.
func (l *Logger) SetWarningsFile(fs fsutil.FileSystem, path string) error {
	wf, err := NewWarningsFile(fs, path)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warnings = wf
	return nil
}

// Logf logs an INFO message.
func (l *Logger) Logf(format string, v ...interface{}) {
	msg := "INFO: " + fmt.Sprintf(format, v...)

	l.mu.Lock()
	defer l.mu.Unlock()
	recorded := l.recordLocked(msg)
	if l.printMessages || !recorded {
		l.out.Print(msg)
	}
}

// Errorf records an error message. The text is kept as LastError and written
// to the warnings file; printing is left to the top-level handler.
func (l *Logger) Errorf(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastError = msg
	l.recordLocked(msg)
}

// LastError returns the text of the most recent Errorf call.
func (l *Logger) LastError() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastError
}

// Close finishes the warnings document if one was started.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.warnings == nil {
		return nil
	}
	err := l.warnings.Close()
	l.warnings = nil
	return err
}

func (l *Logger) recordLocked(msg string) bool {
	if l.warnings == nil {
		return false
	}
	if err := l.warnings.Append(msg); err != nil {
		l.out.Printf("ERROR: write warnings file: %v", err)
		return false
	}
	return true
}
