package serialport

import (
	"errors"
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
)

// ErrNotFound is returned when no energy probe is attached.
var ErrNotFound = errors.New("unable to locate energy probe; specify the device path explicitly")

// USBID is a USB vendor and product id pair as hex strings.
type USBID struct {
	VID string
	PID string
}

// ProbeIDs lists the release and prototype probe identifiers.
var ProbeIDs = []USBID{
	{VID: "0d28", PID: "0004"},
	{VID: "1fc9", PID: "0003"},
}

// PortLister returns the attached serial ports. It is a variable so tests can
// replace enumeration.
var PortLister = enumerator.GetDetailedPortsList

// DetectProbe returns the path of the first attached port whose USB ids match
// one of ids.
func DetectProbe(ids []USBID) (string, error) {
	ports, err := PortLister()
	if err != nil {
		return "", fmt.Errorf("enumerate serial ports: %w", err)
	}
	for _, p := range ports {
		if p == nil || !p.IsUSB {
			continue
		}
		for _, id := range ids {
			if strings.EqualFold(p.VID, id.VID) && strings.EqualFold(p.PID, id.PID) {
				return p.Name, nil
			}
		}
	}
	return "", ErrNotFound
}
