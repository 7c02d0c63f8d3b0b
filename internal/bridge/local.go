package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/banshee-data/caiman/internal/device"
	"github.com/banshee-data/caiman/internal/fsutil"
	"github.com/banshee-data/caiman/internal/monitoring"
	"github.com/banshee-data/caiman/internal/session"
)

// Local mode output names, relative to the output directory.
const (
	LocalDataFile    = "0000000000"
	CapturedXMLFile  = "captured.xml"
	WarningsFileName = "warnings.xml"
)

// CreateLocalOutput creates the binary sample file for local mode. The
// returned writer becomes the device's sink.
func CreateLocalOutput(fs fsutil.FileSystem, dir string) (io.WriteCloser, error) {
	path := filepath.Join(dir, LocalDataFile)
	f, err := fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open output file %s; check write permissions: %w", path, err)
	}
	return f, nil
}

// LocalConfig holds the collaborators of a local capture.
type LocalConfig struct {
	Session *session.Session
	// Device must write its samples into Output.
	Device     device.Device
	DeviceName string
	Output     io.Closer

	FS              fsutil.FileSystem
	Dir             string
	ProtocolVersion int
	Logf            monitoring.LogFunc
}

// RunLocal captures to disk without a host: it writes the capture
// description, then samples until ctx is cancelled. Output is closed on
// return.
func RunLocal(ctx context.Context, cfg LocalConfig) (err error) {
	logf := monitoring.OrDiscard(cfg.Logf)
	dev := cfg.Device
	defer func() {
		if cerr := cfg.Output.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close output: %w", cerr))
		}
	}()

	if err := dev.PrepareChannels(); err != nil {
		return err
	}
	xml, err := cfg.Session.CapturedXML(cfg.ProtocolVersion, dev.Target())
	if err != nil {
		return err
	}
	path := filepath.Join(cfg.Dir, CapturedXMLFile)
	if err := cfg.FS.WriteFile(path, xml, 0o644); err != nil {
		return fmt.Errorf("unable to write %s: %w", path, err)
	}

	if err := dev.Init(ctx, cfg.DeviceName); err != nil {
		return errors.Join(err, dev.Stop())
	}
	if err := dev.Start(); err != nil {
		return errors.Join(err, dev.Stop())
	}
	logf("Capturing to %s", filepath.Join(cfg.Dir, LocalDataFile))
	for ctx.Err() == nil {
		if err := dev.ProcessBuffer(ctx); err != nil {
			return errors.Join(err, dev.Stop())
		}
	}
	logf("Get data loop finished; caiman is shutting down")
	return dev.Stop()
}
