package bridge

import (
	"regexp"
	"sort"

	"go.bug.st/serial/enumerator"
)

// PortInfo describes a host serial device that could back a bridge.
type PortInfo struct {
	Name         string
	Product      string
	SerialNumber string
	VID          string
	PID          string
	IsUSB        bool
}

// Candidate reports whether the device is a USB CDC device, the only kind a bridge talks to.
func (p PortInfo) Candidate() bool { return p.IsUSB }

// Scan lists the host serial devices, sorted by name, skipping any whose name matches
// one of exclude.
func Scan(exclude ...string) ([]PortInfo, error) {
	var patterns []*regexp.Regexp
	for _, e := range exclude {
		re, err := regexp.Compile(e)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, re)
	}

	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	return filterPorts(ports, patterns), nil
}

func filterPorts(ports []*enumerator.PortDetails, exclude []*regexp.Regexp) []PortInfo {
	var result []PortInfo
next:
	for _, port := range ports {
		for _, re := range exclude {
			if re.MatchString(port.Name) {
				continue next
			}
		}
		result = append(result, PortInfo{
			Name:         port.Name,
			Product:      port.Product,
			SerialNumber: port.SerialNumber,
			VID:          port.VID,
			PID:          port.PID,
			IsUSB:        port.IsUSB,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}
