package wire

import "testing"

func TestAddressRoundTrip(t *testing.T) {
	cases := []string{
		"127.0.0.1:1025:2",
		"storage-3.example.com:7000:2",
		"::1:7000:10",
	}
	for _, s := range cases {
		addr, err := ParseAddress(s)
		if err != nil {
			t.Fatalf("ParseAddress(%q): %v", s, err)
		}
		if got := addr.String(); got != s {
			t.Errorf("round trip %q -> %+v -> %q", s, addr, got)
		}
	}
}

func TestParseAddressInvalid(t *testing.T) {
	cases := []string{"", "missing-port", "host:notaport:2", "host:1025:notafamily"}
	for _, s := range cases {
		if _, err := ParseAddress(s); err == nil {
			t.Errorf("ParseAddress(%q) should fail", s)
		}
	}
}

func TestListenAddress(t *testing.T) {
	a := ListenAddress(FamilyInet, 7000)
	if a.Host != "0.0.0.0" || a.Port != 7000 {
		t.Errorf("unexpected listen address: %+v", a)
	}
	a6 := ListenAddress(FamilyInet6, 7000)
	if a6.Host != "::" {
		t.Errorf("unexpected ipv6 listen address: %+v", a6)
	}
}
