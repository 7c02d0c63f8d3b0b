package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/caiman/internal/fsutil"
)

func TestRunLocal(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	out, err := CreateLocalOutput(fs, "/capture")
	require.NoError(t, err)

	cs := chunks(5, 12)
	dev := newFakeDevice(cs...)
	dev.sink = out
	sess := testSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-dev.drained
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		done <- RunLocal(ctx, LocalConfig{
			Session:         sess,
			Device:          dev,
			DeviceName:      "/dev/ttyACM0",
			Output:          out,
			FS:              fs,
			Dir:             "/capture",
			ProtocolVersion: 770,
		})
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("RunLocal did not return")
	}

	want, err := sess.CapturedXML(770, dev.Target())
	require.NoError(t, err)
	got, err := fs.ReadFile("/capture/captured.xml")
	require.NoError(t, err)
	if diff := cmp.Diff(string(want), string(got)); diff != "" {
		t.Errorf("captured.xml mismatch (-want +got):\n%s", diff)
	}

	data, err := fs.ReadFile("/capture/" + LocalDataFile)
	require.NoError(t, err)
	assert.Equal(t, concat(cs), data)
	assert.True(t, fs.IsClosed("/capture/"+LocalDataFile))
	assert.Equal(t, "/dev/ttyACM0", dev.initName)
	assert.Equal(t, 1, dev.stops())
}

func TestRunLocal_InitFailure(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	out, err := CreateLocalOutput(fs, "/capture")
	require.NoError(t, err)

	dev := newFakeDevice()
	dev.sink = out
	dev.initErr = errors.New("no probe")

	err = RunLocal(context.Background(), LocalConfig{
		Session: testSession(t),
		Device:  dev,
		Output:  out,
		FS:      fs,
		Dir:     "/capture",
	})
	assert.ErrorIs(t, err, dev.initErr)
	assert.True(t, fs.IsClosed("/capture/"+LocalDataFile))
	assert.True(t, fs.Exists("/capture/captured.xml"), "description is written before the device is opened")
	assert.Equal(t, 1, dev.stops())
}

func TestRunLocal_PrepareFailure(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	out, err := CreateLocalOutput(fs, "/capture")
	require.NoError(t, err)

	dev := newFakeDevice()
	dev.prepareErr = errors.New("channel 5 not supported")

	err = RunLocal(context.Background(), LocalConfig{Session: testSession(t), Device: dev, Output: out, FS: fs, Dir: "/capture"})
	assert.ErrorIs(t, err, dev.prepareErr)
	assert.False(t, fs.Exists("/capture/captured.xml"))
}

func TestCreateLocalOutput_Unwritable(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	fs.Fail("/capture/"+LocalDataFile, errors.New("permission denied"))

	_, err := CreateLocalOutput(fs, "/capture")
	assert.ErrorContains(t, err, "check write permissions")
}

func TestRunLocal_DescriptionUnwritable(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	out, err := CreateLocalOutput(fs, "/capture")
	require.NoError(t, err)
	fs.Fail("/capture/"+CapturedXMLFile, errors.New("disk full"))

	dev := newFakeDevice()
	err = RunLocal(context.Background(), LocalConfig{Session: testSession(t), Device: dev, Output: out, FS: fs, Dir: "/capture"})
	assert.ErrorContains(t, err, "disk full")
	assert.Empty(t, dev.initName, "device is not opened without a description")
	assert.True(t, fs.IsClosed("/capture/"+LocalDataFile))
}
