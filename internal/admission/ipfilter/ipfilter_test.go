package ipfilter

import "testing"

func TestWhitelistDeniesUnknownAddress(t *testing.T) {
	f, err := New(ModeWhitelist, []string{"10.0.0.0/8"})
	if err != nil {
		t.Fatal(err)
	}
	if f.Allow("203.0.113.5") {
		t.Fatal("unknown address in whitelist mode must be denied")
	}
	if !f.Allow("10.1.2.3") {
		t.Fatal("expected address within the whitelisted range to be allowed")
	}
}

func TestBlacklistDeniesListedAddress(t *testing.T) {
	f, err := New(ModeBlacklist, []string{"198.51.100.0/24"})
	if err != nil {
		t.Fatal(err)
	}
	if f.Allow("198.51.100.7") {
		t.Fatal("expected blacklisted address to be denied")
	}
	if !f.Allow("8.8.8.8") {
		t.Fatal("expected address outside the blacklist to be allowed")
	}
}

func TestSingleIPWithoutCIDRSuffix(t *testing.T) {
	f, err := New(ModeWhitelist, []string{"192.0.2.1"})
	if err != nil {
		t.Fatal(err)
	}
	if !f.Allow("192.0.2.1") {
		t.Fatal("expected exact single-IP match to be allowed")
	}
	if f.Allow("192.0.2.2") {
		t.Fatal("expected a different address to be denied")
	}
}

func TestIPv6Range(t *testing.T) {
	f, err := New(ModeWhitelist, []string{"2001:db8::/32"})
	if err != nil {
		t.Fatal(err)
	}
	if !f.Allow("2001:db8::1") {
		t.Fatal("expected address within the IPv6 range to be allowed")
	}
	if f.Allow("2001:db9::1") {
		t.Fatal("expected address outside the IPv6 range to be denied")
	}
}

func TestInvalidAddressDenied(t *testing.T) {
	f, _ := New(ModeBlacklist, nil)
	if f.Allow("not-an-ip") {
		t.Fatal("unparseable address must be denied")
	}
}
