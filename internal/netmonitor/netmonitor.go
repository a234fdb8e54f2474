// Package netmonitor enumerates local network interfaces and classifies
// them so the engine can validate or suggest an Art-Net broadcast target at
// startup, instead of silently sending DMX frames into a dead interface.
package netmonitor

import (
	"fmt"
	"net"
	"strings"
)

// InterfaceType classifies a candidate broadcast interface.
type InterfaceType string

const (
	Ethernet  InterfaceType = "ethernet"
	WiFi      InterfaceType = "wifi"
	Other     InterfaceType = "other"
	Localhost InterfaceType = "localhost"
	Global    InterfaceType = "global"
)

// InterfaceOption is one candidate Art-Net broadcast target.
type InterfaceOption struct {
	Name          string
	Address       string
	Broadcast     string
	Description   string
	InterfaceType InterfaceType
}

func classify(ifaceName string) InterfaceType {
	name := strings.ToLower(ifaceName)
	switch {
	case name == "en0":
		return WiFi
	case strings.HasPrefix(name, "eth"), strings.HasPrefix(name, "en"), strings.HasPrefix(name, "enp"), strings.HasPrefix(name, "eno"):
		return Ethernet
	case strings.HasPrefix(name, "wlan"), strings.HasPrefix(name, "wl"), strings.Contains(name, "wifi"), strings.Contains(name, "wireless"):
		return WiFi
	default:
		return Other
	}
}

func calculateBroadcast(ip net.IP, mask net.IPMask) net.IP {
	ip4 := ip.To4()
	if ip4 == nil {
		return nil
	}
	if len(mask) == 16 {
		mask = mask[12:16]
	}
	if len(mask) != 4 {
		return nil
	}
	broadcast := make(net.IP, 4)
	for i := 0; i < 4; i++ {
		broadcast[i] = ip4[i] | ^mask[i]
	}
	return broadcast
}

func capitalize(s string) string {
	if len(s) == 0 {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// ListBroadcastTargets enumerates every up, non-loopback IPv4 interface with
// a usable (non point-to-point) broadcast address, ordered ethernet before
// wifi before everything else, then appends a localhost option (for
// single-machine testing) and the global broadcast address last.
func ListBroadcastTargets() ([]InterfaceOption, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("netmonitor: list interfaces: %w", err)
	}

	var ethernet, wifi, other []InterfaceOption
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			broadcast := calculateBroadcast(ip4, ipNet.Mask)
			if broadcast == nil || broadcast.String() == ip4.String() {
				continue
			}
			typ := classify(iface.Name)
			opt := InterfaceOption{
				Name:          iface.Name + "-broadcast",
				Address:       ip4.String(),
				Broadcast:     broadcast.String(),
				Description:   fmt.Sprintf("%s - %s broadcast (%s)", iface.Name, capitalize(string(typ)), broadcast.String()),
				InterfaceType: typ,
			}
			switch typ {
			case Ethernet:
				ethernet = append(ethernet, opt)
			case WiFi:
				wifi = append(wifi, opt)
			default:
				other = append(other, opt)
			}
		}
	}

	options := make([]InterfaceOption, 0, len(ethernet)+len(wifi)+len(other)+2)
	options = append(options, ethernet...)
	options = append(options, wifi...)
	options = append(options, other...)
	options = append(options, InterfaceOption{
		Name: "localhost", Address: "127.0.0.1", Broadcast: "127.0.0.1",
		Description: "Localhost (for testing only)", InterfaceType: Localhost,
	})
	options = append(options, InterfaceOption{
		Name: "global-broadcast", Address: "0.0.0.0", Broadcast: "255.255.255.255",
		Description: "Global broadcast (255.255.255.255)", InterfaceType: Global,
	})
	return options, nil
}

// ValidateTarget checks whether targetIP matches a broadcast address this
// machine can actually reach, returning a suggested alternative when it
// can't. It returns ("", nil) when targetIP matches a discovered broadcast
// address; otherwise it returns a non-nil error, with the first ethernet or
// wifi broadcast address as the suggestion when one exists.
func ValidateTarget(targetIP string, options []InterfaceOption) (suggestion string, err error) {
	for _, opt := range options {
		if opt.Broadcast == targetIP {
			return "", nil
		}
	}
	for _, opt := range options {
		if opt.InterfaceType == Ethernet || opt.InterfaceType == WiFi {
			return opt.Broadcast, fmt.Errorf("netmonitor: %q does not match any local broadcast address; consider %q (%s)", targetIP, opt.Broadcast, opt.Description)
		}
	}
	return "", fmt.Errorf("netmonitor: %q does not match any local broadcast address and no non-loopback interface was found", targetIP)
}
