package session

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_SingleChannel(t *testing.T) {
	s, err := Compile([]ChannelSpec{{Channel: 0, ResistanceMilliohms: 20}})
	require.NoError(t, err)

	want := []Counter{
		{Source: 0, Channel: 0, Field: FieldPower, ResistanceMilliohms: 20, Scale: 5},
		{Source: 1, Channel: 0, Field: FieldVoltage, ResistanceMilliohms: 20, Scale: 1},
		{Source: 2, Channel: 0, Field: FieldCurrent, ResistanceMilliohms: 20, Scale: 5},
	}
	if diff := cmp.Diff(want, s.Counters()); diff != "" {
		t.Errorf("counters mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 3, s.NumFields())
	assert.Equal(t, AllFields, s.FieldMask(0))
	assert.Equal(t, Field(0), s.FieldMask(1))
	assert.Equal(t, []float64{5, 1, 5}, s.ScaleFactors())
}

func TestCompile_SourceOrderAcrossChannels(t *testing.T) {
	s, err := Compile([]ChannelSpec{
		{Channel: 2, ResistanceMilliohms: 50, Fields: FieldCurrent | FieldPower},
		{Channel: 0, ResistanceMilliohms: 10, Fields: FieldVoltage},
		{Channel: 1, ResistanceMilliohms: 0},
	})
	require.NoError(t, err)

	var got []string
	for _, c := range s.Counters() {
		got = append(got, c.Field.String())
	}
	assert.Equal(t, []string{"Voltage", "Power", "Current"}, got)
	assert.Equal(t, 2, s.MaxChannel())
	assert.Len(t, s.Channels(), 2)
	assert.Equal(t, []float64{1, 2, 2}, s.ScaleFactors())
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name  string
		specs []ChannelSpec
	}{
		{"nothing", nil},
		{"all zero", []ChannelSpec{{Channel: 0}, {Channel: 1}}},
		{"negative channel", []ChannelSpec{{Channel: -1, ResistanceMilliohms: 20}}},
		{"channel too large", []ChannelSpec{{Channel: MaxChannels, ResistanceMilliohms: 20}}},
		{"negative resistance", []ChannelSpec{{Channel: 0, ResistanceMilliohms: -5}}},
		{"bad mask", []ChannelSpec{{Channel: 0, ResistanceMilliohms: 20, Fields: 8}}},
		{"duplicate", []ChannelSpec{{Channel: 0, ResistanceMilliohms: 20}, {Channel: 0, ResistanceMilliohms: 30}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.specs)
			assert.Error(t, err)
		})
	}

	_, err := Compile(nil)
	assert.ErrorIs(t, err, ErrNoChannels)
}

func TestScaleFactor(t *testing.T) {
	assert.Equal(t, 5.0, ScaleFactor(FieldPower, 20))
	assert.Equal(t, 5.0, ScaleFactor(FieldCurrent, 20))
	assert.Equal(t, 1.0, ScaleFactor(FieldVoltage, 20))
	assert.Equal(t, 100.0, ScaleFactor(FieldPower, 1))
}

func TestParseField(t *testing.T) {
	for name, want := range map[string]Field{
		"power":    FieldPower,
		" Voltage": FieldVoltage,
		"CURRENT":  FieldCurrent,
		"i":        FieldCurrent,
	} {
		got, err := ParseField(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := ParseField("watts")
	assert.Error(t, err)
}

func TestCapturedXML(t *testing.T) {
	s, err := Compile([]ChannelSpec{{Channel: 1, ResistanceMilliohms: 20, Fields: FieldPower | FieldCurrent}})
	require.NoError(t, err)

	got, err := s.CapturedXML(770, Target{Name: "ARM Streamline Energy Probe", SampleRate: 10000, DataSize: 4})
	require.NoError(t, err)

	want := `<?xml version="1.0" encoding="UTF-8"?>
<captured version="770">
  <target name="ARM Streamline Energy Probe" sample_rate="10000" sources="2" size="4"></target>
  <counters>
    <counter source="0" channel="1" type="Power" resistance="20"></counter>
    <counter source="1" channel="1" type="Current" resistance="20"></counter>
  </counters>
</captured>
`
	if diff := cmp.Diff(want, string(got)); diff != "" {
		t.Errorf("CapturedXML mismatch (-want +got):\n%s", diff)
	}
}
