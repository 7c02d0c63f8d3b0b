// Package session compiles the user's channel configuration into the
// immutable description of a capture: which (channel, field) pairs are
// sampled, the order the device emits them in, and the scale factor applied
// to each raw sample.
package session

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// MaxChannels bounds the channel index accepted from configuration.
const MaxChannels = 40

// Field is a measured quantity. Values are the probe's CONFIG bit positions.
type Field uint8

const (
	FieldPower   Field = 1
	FieldVoltage Field = 2
	FieldCurrent Field = 4

	// AllFields enables every field of a channel.
	AllFields = FieldPower | FieldVoltage | FieldCurrent
)

// OutputOrder is the order in which the device emits the fields of one
// channel.
var OutputOrder = [...]Field{FieldPower, FieldVoltage, FieldCurrent}

func (f Field) String() string {
	switch f {
	case FieldPower:
		return "Power"
	case FieldVoltage:
		return "Voltage"
	case FieldCurrent:
		return "Current"
	default:
		return fmt.Sprintf("Field(%d)", uint8(f))
	}
}

// ParseField maps a configuration name such as "power" to its Field.
func ParseField(name string) (Field, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "power", "p":
		return FieldPower, nil
	case "voltage", "v":
		return FieldVoltage, nil
	case "current", "i", "c":
		return FieldCurrent, nil
	}
	return 0, fmt.Errorf("unknown field %q: expected power, voltage or current", name)
}

// ErrNoChannels is returned when no channel has a positive shunt resistance.
var ErrNoChannels = errors.New("no channels enabled: specify at least one shunt resistance")

// ChannelSpec is the configuration of one probe channel.
type ChannelSpec struct {
	Channel int
	// ResistanceMilliohms is the shunt resistor value. A channel is enabled
	// iff it is positive.
	ResistanceMilliohms int
	// Fields restricts the sampled fields. Zero means all of them.
	Fields Field
	// DAQVoltage and DAQCurrent name the physical DAQ inputs; empty means the
	// default ai(2c) and ai(2c+1).
	DAQVoltage string
	DAQCurrent string
}

// Counter is one sampled (channel, field) pair.
type Counter struct {
	Source              int
	Channel             int
	Field               Field
	ResistanceMilliohms int
	Scale               float64
}

// Session is the compiled, read-only capture description.
type Session struct {
	channels []ChannelSpec
	counters []Counter
	masks    map[int]Field
}

// Compile validates specs and numbers the enabled fields in device output
// order: ascending channel, then power, voltage, current.
func Compile(specs []ChannelSpec) (*Session, error) {
	byChannel := make(map[int]ChannelSpec, len(specs))
	seen := make(map[int]bool, len(specs))
	for _, spec := range specs {
		if spec.Channel < 0 || spec.Channel >= MaxChannels {
			return nil, fmt.Errorf("channel %d out of range [0, %d)", spec.Channel, MaxChannels)
		}
		if spec.ResistanceMilliohms < 0 {
			return nil, fmt.Errorf("channel %d: negative resistance %d", spec.Channel, spec.ResistanceMilliohms)
		}
		if spec.Fields&^AllFields != 0 {
			return nil, fmt.Errorf("channel %d: invalid field mask %#x", spec.Channel, uint8(spec.Fields))
		}
		if seen[spec.Channel] {
			return nil, fmt.Errorf("channel %d configured twice", spec.Channel)
		}
		seen[spec.Channel] = true
		if spec.ResistanceMilliohms == 0 {
			continue
		}
		if spec.Fields == 0 {
			spec.Fields = AllFields
		}
		byChannel[spec.Channel] = spec
	}
	if len(byChannel) == 0 {
		return nil, ErrNoChannels
	}

	s := &Session{masks: make(map[int]Field, len(byChannel))}
	for _, spec := range byChannel {
		s.channels = append(s.channels, spec)
		s.masks[spec.Channel] = spec.Fields
	}
	sort.Slice(s.channels, func(i, j int) bool { return s.channels[i].Channel < s.channels[j].Channel })

	for _, spec := range s.channels {
		for _, field := range OutputOrder {
			if spec.Fields&field == 0 {
				continue
			}
			s.counters = append(s.counters, Counter{
				Source:              len(s.counters),
				Channel:             spec.Channel,
				Field:               field,
				ResistanceMilliohms: spec.ResistanceMilliohms,
				Scale:               ScaleFactor(field, spec.ResistanceMilliohms),
			})
		}
	}
	return s, nil
}

// ScaleFactor converts a raw probe sample of the given field to engineering
// units: 100/R for power and current, 1 for voltage.
func ScaleFactor(field Field, resistanceMilliohms int) float64 {
	if field == FieldVoltage || resistanceMilliohms <= 0 {
		return 1
	}
	return 100 / float64(resistanceMilliohms)
}

// Channels returns the enabled channels in ascending order.
func (s *Session) Channels() []ChannelSpec {
	out := make([]ChannelSpec, len(s.channels))
	copy(out, s.channels)
	return out
}

// Counters returns the sampled fields in source order.
func (s *Session) Counters() []Counter {
	out := make([]Counter, len(s.counters))
	copy(out, s.counters)
	return out
}

// NumFields is the number of values per sample frame.
func (s *Session) NumFields() int { return len(s.counters) }

// FieldMask returns the enabled fields of channel ch, or 0 if it is disabled.
func (s *Session) FieldMask(ch int) Field { return s.masks[ch] }

// MaxChannel returns the highest enabled channel index.
func (s *Session) MaxChannel() int { return s.channels[len(s.channels)-1].Channel }

// ScaleFactors returns the per-source scale factors in source order.
func (s *Session) ScaleFactors() []float64 {
	out := make([]float64, len(s.counters))
	for i, c := range s.counters {
		out[i] = c.Scale
	}
	return out
}
