package main

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/banshee-data/caiman/internal/config"
)

// resistor is one -r ch:mOhm argument.
type resistor struct {
	channel   int
	milliohms int
}

// resistorFlag collects repeated -r arguments.
type resistorFlag []resistor

func (r *resistorFlag) String() string {
	parts := make([]string, len(*r))
	for i, v := range *r {
		parts[i] = fmt.Sprintf("%d:%d", v.channel, v.milliohms)
	}
	return strings.Join(parts, ",")
}

func (r *resistorFlag) Set(value string) error {
	ch, mohm, ok := strings.Cut(value, ":")
	if !ok {
		return fmt.Errorf("expected <channel>:<milliohms>, got %q", value)
	}
	channel, err := strconv.Atoi(strings.TrimSpace(ch))
	if err != nil {
		return fmt.Errorf("invalid channel %q: %w", ch, err)
	}
	milliohms, err := strconv.Atoi(strings.TrimSpace(mohm))
	if err != nil {
		return fmt.Errorf("invalid resistance %q: %w", mohm, err)
	}
	if milliohms <= 0 {
		return fmt.Errorf("shunt resistance must be positive, got %d", milliohms)
	}
	*r = append(*r, resistor{channel: channel, milliohms: milliohms})
	return nil
}

type options struct {
	configPath  string
	resistors   resistorFlag
	port        int
	local       bool
	device      string
	daq         bool
	noPrint     bool
	showVersion bool
	debugListen string
	outputPath  string

	// set records which flags appeared on the command line.
	set map[string]bool
}

func newFlagSet(o *options, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("caiman", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "JSON configuration file")
	fs.Var(&o.resistors, "r", "shunt resistance as <channel>:<milliohms>; repeat for each channel")
	fs.IntVar(&o.port, "p", config.DefaultPort, "TCP port to listen on for the host")
	fs.BoolVar(&o.local, "l", false, "capture locally to the output path without a host")
	fs.StringVar(&o.device, "d", "", "device path; auto-detected when empty")
	fs.BoolVar(&o.daq, "daq", false, "sample with a DAQ instead of the energy probe")
	fs.BoolVar(&o.noPrint, "no-print-messages", false, "only record informational messages in warnings.xml")
	fs.BoolVar(&o.showVersion, "v", false, "print version and exit")
	fs.BoolVar(&o.showVersion, "version", false, "print version and exit")
	fs.StringVar(&o.debugListen, "debug-listen", "", "address for the debug HTTP listener, e.g. localhost:8082")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: caiman [options] [output path]\n\n")
		fs.PrintDefaults()
	}
	return fs
}

// parseFlags parses args, which exclude the program name.
func parseFlags(args []string, stderr io.Writer) (*options, error) {
	o := &options{set: make(map[string]bool)}
	fs := newFlagSet(o, stderr)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })

	switch fs.NArg() {
	case 0:
	case 1:
		o.outputPath = fs.Arg(0)
		o.set["output"] = true
	default:
		fs.Usage()
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args()[1:], " "))
	}
	return o, nil
}

// bridgeConfig loads the configuration file, if any, and applies the flags
// given on the command line over it.
func (o *options) bridgeConfig() (*config.BridgeConfig, error) {
	cfg := &config.BridgeConfig{}
	if o.configPath != "" {
		loaded, err := config.LoadBridgeConfig(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if o.set["p"] {
		cfg.Port = &o.port
	}
	if o.set["l"] {
		cfg.Local = &o.local
	}
	if o.set["d"] {
		cfg.Device = &o.device
	}
	if o.set["daq"] {
		cfg.DAQ = &o.daq
	}
	if o.set["no-print-messages"] {
		printMessages := !o.noPrint
		cfg.PrintMessages = &printMessages
	}
	if o.set["debug-listen"] {
		cfg.DebugListen = &o.debugListen
	}
	if o.set["output"] {
		cfg.OutputPath = &o.outputPath
	}
	for _, r := range o.resistors {
		cfg.SetChannel(r.channel, r.milliohms)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
