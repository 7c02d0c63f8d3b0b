package device

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/banshee-data/caiman/internal/monitoring"
	"github.com/banshee-data/caiman/internal/session"
)

// ErrDAQUnsupported is returned when no acquisition driver is available.
var ErrDAQUnsupported = errors.New("DAQ acquisition is not supported in this build")

// DAQ input ranges in volts.
const (
	daqVoltageMin = 0.0
	daqVoltageMax = 5.0
	daqCurrentMin = -0.2
	daqCurrentMax = 0.2

	// DAQName is the target name reported in the capture description.
	DAQName = "National Instruments"
)

// DAQDriver is the capability set of a multi-channel analog acquisition
// library. Samples are returned interleaved by scan: for each scan, one value
// per created channel in creation order.
type DAQDriver interface {
	// DeviceNames lists attached devices, comma separated.
	DeviceNames() (string, error)
	// SerialNumber reports the serial number of dev.
	SerialNumber(dev string) (uint32, error)
	// CreateChannel adds a differential voltage input to the task.
	CreateChannel(physical string, min, max float64) error
	// ConfigureTask sets the sample clock and per-read window.
	ConfigureTask(sampleRate float64, samplesPerChannel int) error
	Start() error
	Stop() error
	// ReadSamples fills buf and returns the number of scans read.
	ReadSamples(samplesPerChannel int, timeout time.Duration, buf []float64) (int, error)
	// Clear releases the task.
	Clear() error
}

// DAQConfig holds the dependencies of a DAQ device.
type DAQConfig struct {
	Session  *session.Session
	Sink     io.Writer
	Driver   DAQDriver
	Logf     monitoring.LogFunc
	Observer Observer
}

type daqChannel struct {
	channel    int
	fields     session.Field
	resistance float64
	firstSrc   int
}

// DAQ samples shunt voltages with an analog acquisition device and computes
// power on the host.
type DAQ struct {
	cfg      DAQConfig
	logf     monitoring.LogFunc
	observer Observer
	channels []daqChannel
	window   int
	dev      string
	vendor   string
	running  bool
	cleared  bool
	buf      []float64
	out      []byte
}

// NewDAQ returns a DAQ device backed by cfg.Driver.
func NewDAQ(cfg DAQConfig) *DAQ {
	return &DAQ{
		cfg:      cfg,
		logf:     monitoring.OrDiscard(cfg.Logf),
		observer: observerOrNoop(cfg.Observer),
		window:   SampleRate / 10,
	}
}

// Target implements Device.
func (d *DAQ) Target() session.Target {
	return session.Target{Name: DAQName, SampleRate: SampleRate, DataSize: DataSize}
}

// Vendor returns the vendor string including the device serial number.
func (d *DAQ) Vendor() string { return d.vendor }

// PrepareChannels implements Device.
func (d *DAQ) PrepareChannels() error {
	d.channels = d.channels[:0]
	src := 0
	for _, spec := range d.cfg.Session.Channels() {
		d.channels = append(d.channels, daqChannel{
			channel:    spec.Channel,
			fields:     spec.Fields,
			resistance: float64(spec.ResistanceMilliohms),
			firstSrc:   src,
		})
		for _, f := range session.OutputOrder {
			if spec.Fields&f != 0 {
				src++
			}
		}
	}
	if len(d.channels) == 0 {
		return session.ErrNoChannels
	}
	return nil
}

// Init implements Device.
func (d *DAQ) Init(_ context.Context, name string) error {
	if d.cfg.Driver == nil {
		return ErrDAQUnsupported
	}
	if name == "" {
		names, err := d.cfg.Driver.DeviceNames()
		if err != nil {
			return fmt.Errorf("auto discovery of DAQ device name failed, specify a device: %w", err)
		}
		name = strings.TrimSpace(strings.Split(names, ",")[0])
		if name == "" {
			return errors.New("DAQ device could not be found; verify it is attached or specify a device")
		}
	}
	d.dev = name

	d.logf("Creating DAQ task")
	sn, err := d.cfg.Driver.SerialNumber(name)
	if err != nil {
		return fmt.Errorf("could not get the serial number of %s; is the DAQ connected: %w", name, err)
	}
	d.vendor = fmt.Sprintf("National Instruments S/N 0x%08x", sn)

	specs := d.cfg.Session.Channels()
	for i, ch := range d.channels {
		voltage := d.physicalChannel(specs[i].DAQVoltage, ch.channel*2)
		current := d.physicalChannel(specs[i].DAQCurrent, ch.channel*2+1)
		d.logf("Configuring DAQ '%s' as differential 0-5V (Voltage) channel", voltage)
		if err := d.cfg.Driver.CreateChannel(voltage, daqVoltageMin, daqVoltageMax); err != nil {
			return fmt.Errorf("create channel %s: %w", voltage, err)
		}
		d.logf("Configuring DAQ '%s' as differential +-200mV (Current) channel", current)
		if err := d.cfg.Driver.CreateChannel(current, daqCurrentMin, daqCurrentMax); err != nil {
			return fmt.Errorf("create channel %s: %w", current, err)
		}
	}
	d.logf("Number of fields is %d, with %d DAQ channels enabled", d.cfg.Session.NumFields(), 2*len(d.channels))

	if err := d.cfg.Driver.ConfigureTask(SampleRate, d.window); err != nil {
		return fmt.Errorf("configure sample clock: %w", err)
	}
	d.buf = make([]float64, d.window*2*len(d.channels))
	d.out = make([]byte, 0, d.cfg.Session.NumFields()*DataSize)
	d.logf("DAQ has been initialized")
	return nil
}

func (d *DAQ) physicalChannel(configured string, index int) string {
	switch {
	case configured == "":
		return fmt.Sprintf("%s/ai%d", d.dev, index)
	case strings.Contains(configured, "/"):
		return configured
	default:
		return d.dev + "/" + configured
	}
}

// Start implements Device.
func (d *DAQ) Start() error {
	if err := d.cfg.Driver.Start(); err != nil {
		return fmt.Errorf("start task: %w", err)
	}
	d.running = true
	return nil
}

// Stop implements Device.
func (d *DAQ) Stop() error {
	if d.cfg.Driver == nil || d.cleared {
		return nil
	}
	var errs []error
	if d.running {
		d.running = false
		if err := d.cfg.Driver.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop task: %w", err))
		}
	}
	d.cleared = true
	if err := d.cfg.Driver.Clear(); err != nil {
		errs = append(errs, fmt.Errorf("clear task: %w", err))
	}
	return errors.Join(errs...)
}

// ProcessBuffer implements Device. Each scan holds a voltage and a shunt
// voltage per channel; power, voltage and current are derived in mW, mV and
// mA.
func (d *DAQ) ProcessBuffer(ctx context.Context) error {
	if !d.running {
		return ErrNotStarted
	}
	scans, err := d.cfg.Driver.ReadSamples(d.window, time.Second, d.buf)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("read samples: %w", err)
	}

	stride := 2 * len(d.channels)
	for row := 0; row < scans; row++ {
		d.out = d.out[:0]
		for col, ch := range d.channels {
			v := d.buf[row*stride+col*2]
			i := d.buf[row*stride+col*2+1] * 1000 / ch.resistance
			values := [...]float64{v * i * 1000, v * 1000, i * 1000}
			src := ch.firstSrc
			for k, f := range session.OutputOrder {
				if ch.fields&f == 0 {
					continue
				}
				value := clampDAQ(values[k])
				d.observer.SampleDecoded(src, value)
				d.out = binary.LittleEndian.AppendUint32(d.out, value)
				src++
			}
		}
		if _, err := d.cfg.Sink.Write(d.out); err != nil {
			return err
		}
	}
	return nil
}

func clampDAQ(v float64) uint32 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > MaxSampleValue:
		return MaxSampleValue
	}
	return uint32(int64(v))
}
