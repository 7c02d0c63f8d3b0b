package session

import (
	"encoding/xml"
	"fmt"
)

// Target describes the sampling device in the capture description.
type Target struct {
	Name       string
	SampleRate int
	// DataSize is the encoded size of one value in bytes.
	DataSize int
}

type capturedXML struct {
	XMLName  xml.Name     `xml:"captured"`
	Version  int          `xml:"version,attr"`
	Target   targetXML    `xml:"target"`
	Counters []counterXML `xml:"counters>counter"`
}

type targetXML struct {
	Name       string `xml:"name,attr"`
	SampleRate int    `xml:"sample_rate,attr"`
	Sources    int    `xml:"sources,attr"`
	Size       int    `xml:"size,attr"`
}

type counterXML struct {
	Source     int    `xml:"source,attr"`
	Channel    int    `xml:"channel,attr"`
	Type       string `xml:"type,attr"`
	Resistance int    `xml:"resistance,attr"`
}

// CapturedXML renders the capture description sent in answer to REQUEST_XML
// and written to captured.xml in local mode.
func (s *Session) CapturedXML(version int, target Target) ([]byte, error) {
	doc := capturedXML{
		Version: version,
		Target: targetXML{
			Name:       target.Name,
			SampleRate: target.SampleRate,
			Sources:    len(s.counters),
			Size:       target.DataSize,
		},
	}
	for _, c := range s.counters {
		doc.Counters = append(doc.Counters, counterXML{
			Source:     c.Source,
			Channel:    c.Channel,
			Type:       c.Field.String(),
			Resistance: c.ResistanceMilliohms,
		})
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal captured xml: %w", err)
	}
	out := make([]byte, 0, len(xml.Header)+len(body)+1)
	out = append(out, xml.Header...)
	out = append(out, body...)
	out = append(out, '\n')
	return out, nil
}
