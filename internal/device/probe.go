package device

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/caiman/internal/monitoring"
	"github.com/banshee-data/caiman/internal/serialport"
	"github.com/banshee-data/caiman/internal/session"
)

// Probe command bytes.
const (
	cmdVersion = 0x01
	cmdVendor  = 0x03
	cmdRate    = 0x05
	cmdConfig  = 0x07
	cmdStart   = 0x09
	cmdStop    = 0x0B
	cmdReset   = 0xFF

	respAck = 0xAC
)

const (
	// ProbeVersion is the firmware compatibility version the probe must report.
	ProbeVersion = 20110803

	// ProbeChannels is the number of measurement channels on the probe.
	ProbeChannels = 3

	// ChunkSize is the size of one read from the probe.
	ChunkSize = 64

	// ProbeName is the target name reported in the capture description.
	ProbeName = "ARM Streamline Energy Probe"

	// ReadPollInterval is the read timeout set on ports that support one, so a
	// cancelled read returns within this interval.
	ReadPollInterval = 250 * time.Millisecond

	maxVendorLength = 80
	syncRunLength   = 8
)

var resetSequence = []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, cmdReset}

type probeState int

const (
	probeNew probeState = iota
	probeConfigured
	probeInitialized
	probeRunning
	probeStopped
)

// ProbeConfig holds the dependencies of an EnergyProbe.
type ProbeConfig struct {
	Session *session.Session
	// Sink receives encoded samples: the fifo when streaming, a file in local
	// mode.
	Sink    io.Writer
	Factory serialport.SerialPortFactory
	Options serialport.PortOptions
	// Detect locates the probe when no device name is given. Defaults to
	// serialport.DetectProbe with the known probe ids.
	Detect   func() (string, error)
	Logf     monitoring.LogFunc
	Observer Observer
}

// EnergyProbe drives the ARM Energy Probe over its USB serial interface.
type EnergyProbe struct {
	cfg     ProbeConfig
	logf    monitoring.LogFunc
	port    serialport.SerialPorter
	state   probeState
	fields  [ProbeChannels]session.Field
	decoder *Decoder
	chunk   []byte
	vendor  string
}

// NewEnergyProbe returns a probe in its initial state.
func NewEnergyProbe(cfg ProbeConfig) *EnergyProbe {
	if cfg.Detect == nil {
		cfg.Detect = func() (string, error) { return serialport.DetectProbe(serialport.ProbeIDs) }
	}
	return &EnergyProbe{
		cfg:   cfg,
		logf:  monitoring.OrDiscard(cfg.Logf),
		chunk: make([]byte, ChunkSize),
	}
}

// Target implements Device.
func (p *EnergyProbe) Target() session.Target {
	return session.Target{Name: ProbeName, SampleRate: SampleRate, DataSize: DataSize}
}

// Vendor returns the vendor string reported by the probe during Init.
func (p *EnergyProbe) Vendor() string { return p.vendor }

// PrepareChannels implements Device.
func (p *EnergyProbe) PrepareChannels() error {
	if highest := p.cfg.Session.MaxChannel(); highest >= ProbeChannels {
		return fmt.Errorf("%w: channel %d is configured, but ARM Energy Probe supports ch0-ch%d",
			ErrTooManyChannels, highest, ProbeChannels-1)
	}
	for ch := range p.fields {
		p.fields[ch] = p.cfg.Session.FieldMask(ch)
	}
	p.decoder = NewDecoder(p.cfg.Session.ScaleFactors(), p.cfg.Sink, p.logf, p.cfg.Observer)
	p.state = probeConfigured
	return nil
}

// Init implements Device. It opens the port, resynchronises the probe, checks
// its version and sample rate, and enables the configured fields.
func (p *EnergyProbe) Init(ctx context.Context, name string) error {
	if p.state != probeConfigured {
		return fmt.Errorf("init called in state %d", p.state)
	}
	if name == "" {
		detected, err := p.cfg.Detect()
		if err != nil {
			return fmt.Errorf("detect energy probe: %w", err)
		}
		p.logf("Device detected on %s", detected)
		name = detected
	}

	port, err := p.cfg.Factory.Open(name, p.cfg.Options)
	if err != nil {
		return fmt.Errorf("unable to open the energy probe at %s: %w", name, err)
	}
	p.port = port
	p.logf("Opened energy probe at %s", name)
	p.state = probeInitialized

	if tp, ok := port.(serialport.TimeoutSerialPorter); ok {
		if err := tp.SetReadTimeout(ReadPollInterval); err != nil {
			p.closePort()
			return fmt.Errorf("set read timeout on %s: %w", name, err)
		}
	}

	if err := p.handshake(ctx); err != nil {
		p.closePort()
		return err
	}
	return nil
}

func (p *EnergyProbe) handshake(ctx context.Context) error {
	if err := p.sync(ctx); err != nil {
		return err
	}

	if err := p.command(ctx, cmdVersion); err != nil {
		return err
	}
	version, err := p.readUint32(ctx)
	if err != nil {
		return err
	}
	p.logf("energy probe version is %d", version)
	if version != ProbeVersion {
		return fmt.Errorf("%w: probe reports %d, supported version is %d; upgrade the probe firmware",
			ErrVersionMismatch, version, ProbeVersion)
	}

	if err := p.command(ctx, cmdVendor); err != nil {
		return err
	}
	if p.vendor, err = p.readString(ctx, maxVendorLength); err != nil {
		return err
	}
	p.logf("energy probe vendor is %s", p.vendor)

	if err := p.command(ctx, cmdRate); err != nil {
		return err
	}
	rate, err := p.readUint32(ctx)
	if err != nil {
		return err
	}
	p.logf("energy probe sample rate is %d", rate)
	if rate != SampleRate {
		return fmt.Errorf("%w: %d, expected %d", ErrRateMismatch, rate, SampleRate)
	}

	for ch, mask := range p.fields {
		if err := p.writeAll([]byte{cmdConfig, byte(ch), byte(mask)}); err != nil {
			return err
		}
		if err := p.readAck(ctx); err != nil {
			return err
		}
	}
	p.logf("Number of fields is %d", p.decoder.numFields)
	return nil
}

// sync resets the probe and discards input until the magic run of 0xFF bytes.
func (p *EnergyProbe) sync(ctx context.Context) error {
	if err := p.writeAll(resetSequence); err != nil {
		return err
	}
	p.logf("Read the energy probe for the magic sequence")
	var b [1]byte
	for found := 0; found < syncRunLength; {
		if _, err := p.readAll(ctx, b[:]); err != nil {
			return err
		}
		if b[0] == 0xFF {
			found++
		} else {
			found = 0
		}
	}
	p.logf("Sync successful and magic detected on the energy probe")
	return nil
}

// Start implements Device.
func (p *EnergyProbe) Start() error {
	if p.state != probeInitialized {
		return fmt.Errorf("start called in state %d", p.state)
	}
	if err := p.command(context.Background(), cmdStart); err != nil {
		return err
	}
	p.state = probeRunning
	return nil
}

// Stop implements Device. The STOP command is written without waiting for an
// acknowledgement since it would be interleaved with sample data.
func (p *EnergyProbe) Stop() error {
	if p.port == nil || p.state == probeStopped {
		p.state = probeStopped
		return nil
	}
	p.state = probeStopped
	_, werr := p.port.Write([]byte{cmdStop})
	cerr := p.closePort()
	if werr != nil {
		return fmt.Errorf("write stop command: %w", werr)
	}
	return cerr
}

func (p *EnergyProbe) closePort() error {
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	return err
}

// ProcessBuffer implements Device.
func (p *EnergyProbe) ProcessBuffer(ctx context.Context) error {
	if p.state != probeRunning {
		return ErrNotStarted
	}
	n, err := p.readAll(ctx, p.chunk)
	if err != nil && ctx.Err() == nil {
		return err
	}
	return p.decoder.Decode(p.chunk[:n])
}

// readAll fills buf, checking ctx between reads. A read that times out with
// no data is retried. On cancellation it returns the bytes read so far
// together with ctx.Err().
func (p *EnergyProbe) readAll(ctx context.Context, buf []byte) (int, error) {
	read := 0
	for read < len(buf) {
		if err := ctx.Err(); err != nil {
			return read, err
		}
		n, err := p.port.Read(buf[read:])
		read += n
		if err != nil {
			return read, fmt.Errorf("error reading from the energy probe; data will be incomplete: %w", err)
		}
	}
	return read, nil
}

func (p *EnergyProbe) writeAll(b []byte) error {
	for len(b) > 0 {
		n, err := p.port.Write(b)
		if err != nil {
			return fmt.Errorf("write failure when communicating with the energy probe: %w", err)
		}
		b = b[n:]
	}
	return nil
}

// command sends a single command byte and waits for its acknowledgement.
func (p *EnergyProbe) command(ctx context.Context, c byte) error {
	if err := p.writeAll([]byte{c}); err != nil {
		return err
	}
	return p.readAck(ctx)
}

// readAck skips zero padding and fails on anything other than an ACK.
func (p *EnergyProbe) readAck(ctx context.Context) error {
	var b [1]byte
	for {
		if _, err := p.readAll(ctx, b[:]); err != nil {
			return err
		}
		switch b[0] {
		case 0:
			continue
		case respAck:
			return nil
		default:
			return fmt.Errorf("%w: expected an ack from device but received %02x", ErrUnexpectedAck, b[0])
		}
	}
}

func (p *EnergyProbe) readUint32(ctx context.Context) (uint32, error) {
	var b [4]byte
	if _, err := p.readAll(ctx, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// readString reads a NUL-terminated string of at most limit-1 bytes.
func (p *EnergyProbe) readString(ctx context.Context, limit int) (string, error) {
	var s bytes.Buffer
	var b [1]byte
	for s.Len() < limit-1 {
		if _, err := p.readAll(ctx, b[:]); err != nil {
			return "", err
		}
		if b[0] == 0 {
			break
		}
		s.WriteByte(b[0])
	}
	return s.String(), nil
}
