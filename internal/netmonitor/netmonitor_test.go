package netmonitor

import (
	"net"
	"testing"
)

func TestCalculateBroadcast(t *testing.T) {
	ip := net.ParseIP("192.168.1.42")
	mask := net.CIDRMask(24, 32)
	got := calculateBroadcast(ip, mask)
	if got.String() != "192.168.1.255" {
		t.Errorf("calculateBroadcast = %v, want 192.168.1.255", got)
	}
}

func TestCalculateBroadcast_NilInputs(t *testing.T) {
	if got := calculateBroadcast(nil, net.CIDRMask(24, 32)); got != nil {
		t.Errorf("expected nil for nil ip, got %v", got)
	}
	if got := calculateBroadcast(net.ParseIP("10.0.0.1"), nil); got != nil {
		t.Errorf("expected nil for nil mask, got %v", got)
	}
}

func TestClassify(t *testing.T) {
	cases := map[string]InterfaceType{
		"eth0":  Ethernet,
		"en0":   WiFi,
		"enp3s0": Ethernet,
		"wlan0": WiFi,
		"wlp2s0": WiFi,
		"tun0":  Other,
	}
	for name, want := range cases {
		if got := classify(name); got != want {
			t.Errorf("classify(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestListBroadcastTargets_AlwaysIncludesLocalhostAndGlobal(t *testing.T) {
	options, err := ListBroadcastTargets()
	if err != nil {
		t.Fatalf("ListBroadcastTargets: %v", err)
	}
	if len(options) < 2 {
		t.Fatalf("expected at least localhost+global, got %d", len(options))
	}
	last := options[len(options)-1]
	secondLast := options[len(options)-2]
	if last.InterfaceType != Global {
		t.Errorf("last option type = %q, want global", last.InterfaceType)
	}
	if secondLast.InterfaceType != Localhost {
		t.Errorf("second-to-last option type = %q, want localhost", secondLast.InterfaceType)
	}
	if last.Broadcast != "255.255.255.255" {
		t.Errorf("global broadcast = %q, want 255.255.255.255", last.Broadcast)
	}
}

func TestValidateTarget_MatchFound(t *testing.T) {
	options := []InterfaceOption{{Broadcast: "192.168.1.255", InterfaceType: Ethernet}}
	suggestion, err := ValidateTarget("192.168.1.255", options)
	if err != nil {
		t.Errorf("expected no error for a matching target, got %v", err)
	}
	if suggestion != "" {
		t.Errorf("expected no suggestion for a matching target, got %q", suggestion)
	}
}

func TestValidateTarget_SuggestsAlternative(t *testing.T) {
	options := []InterfaceOption{
		{Broadcast: "10.0.0.255", InterfaceType: Ethernet, Description: "eth0"},
		{Broadcast: "255.255.255.255", InterfaceType: Global},
	}
	suggestion, err := ValidateTarget("192.168.99.255", options)
	if err == nil {
		t.Fatal("expected an error for an unreachable target")
	}
	if suggestion != "10.0.0.255" {
		t.Errorf("suggestion = %q, want 10.0.0.255", suggestion)
	}
}

func TestValidateTarget_NoInterfacesFound(t *testing.T) {
	_, err := ValidateTarget("192.168.1.255", nil)
	if err == nil {
		t.Error("expected an error when there are no candidate interfaces")
	}
}
