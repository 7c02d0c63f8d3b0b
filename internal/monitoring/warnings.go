package monitoring

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/caiman/internal/fsutil"
)

const warningsHeader = "<?xml version=\"1.0\" encoding='UTF-8'?>\n<warnings version=\"1\">\n"

// WarningsFile is an XML document of logged messages. The file is created on
// the first Append and terminated by Close.
type WarningsFile struct {
	fs   fsutil.FileSystem
	path string
	w    io.WriteCloser
}

// NewWarningsFile removes any stale document at path and returns a writer for
// a new one.
func NewWarningsFile(fs fsutil.FileSystem, path string) (*WarningsFile, error) {
	if fs.Exists(path) {
		if err := fs.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale warnings file: %w", err)
		}
	}
	return &WarningsFile{fs: fs, path: path}, nil
}

// Append adds one <warning text="..."/> element.
func (w *WarningsFile) Append(msg string) error {
	if w.w == nil {
		f, err := w.fs.Create(w.path)
		if err != nil {
			return fmt.Errorf("create warnings file: %w", err)
		}
		if _, err := io.WriteString(f, warningsHeader); err != nil {
			f.Close()
			return err
		}
		w.w = f
	}

	var buf bytes.Buffer
	buf.WriteString("  <warning text=\"")
	if err := xml.EscapeText(&buf, []byte(msg)); err != nil {
		return err
	}
	buf.WriteString("\"/>\n")
	_, err := w.w.Write(buf.Bytes())
	return err
}

// Close writes the closing tag. It is a no-op if nothing was appended.
func (w *WarningsFile) Close() error {
	if w.w == nil {
		return nil
	}
	_, err := io.WriteString(w.w, "</warnings>\n")
	if cerr := w.w.Close(); err == nil {
		err = cerr
	}
	w.w = nil
	return err
}
