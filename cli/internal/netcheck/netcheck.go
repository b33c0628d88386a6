// Package netcheck inspects local interfaces for networks where direct peer
// connections rarely work.
package netcheck

import (
	"net"
	"strings"
)

// cgnat covers carrier-grade NAT as well as WARP and Tailscale addresses.
var cgnat = mustCIDR("100.64.0.0/10")

var tunnelHints = []string{"tun", "tap", "wg", "ppp", "warp"}

// Interface is the part of a network interface the heuristic looks at.
type Interface struct {
	Name  string
	Up    bool
	Loop  bool
	Addrs []net.IP
}

// BehindRestrictiveNAT reports whether this host looks like it sits behind a
// VPN tunnel or CGNAT, where only relayed candidates tend to connect.
func BehindRestrictiveNAT() bool {
	ifaces, err := Interfaces()
	if err != nil {
		return false
	}
	return Restrictive(ifaces)
}

// Restrictive applies the heuristic to ifaces.
func Restrictive(ifaces []Interface) bool {
	for _, iface := range ifaces {
		if !iface.Up || iface.Loop {
			continue
		}
		name := strings.ToLower(iface.Name)
		for _, hint := range tunnelHints {
			if strings.Contains(name, hint) {
				return true
			}
		}
		for _, ip := range iface.Addrs {
			if cgnat.Contains(ip) {
				return true
			}
		}
	}
	return false
}

// Interfaces lists the host's interfaces.
func Interfaces() ([]Interface, error) {
	raw, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]Interface, 0, len(raw))
	for _, r := range raw {
		iface := Interface{
			Name: r.Name,
			Up:   r.Flags&net.FlagUp != 0,
			Loop: r.Flags&net.FlagLoopback != 0,
		}
		addrs, err := r.Addrs()
		if err == nil {
			for _, a := range addrs {
				switch v := a.(type) {
				case *net.IPNet:
					iface.Addrs = append(iface.Addrs, v.IP)
				case *net.IPAddr:
					iface.Addrs = append(iface.Addrs, v.IP)
				}
			}
		}
		out = append(out, iface)
	}
	return out, nil
}

func mustCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}
