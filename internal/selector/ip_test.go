package selector

import (
	"reflect"
	"testing"
)

func TestIPSetMatchesCIDRHostOnly(t *testing.T) {
	set, err := ParseIPSet("192.168.1.0/30")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cases := map[string]bool{
		"192.168.1.0": false, // network address excluded
		"192.168.1.1": true,
		"192.168.1.2": true,
		"192.168.1.3": false, // broadcast address excluded
	}
	for addr, want := range cases {
		if got := set.Matches(addr); got != want {
			t.Errorf("Matches(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestIPSetExclusion(t *testing.T) {
	set, err := ParseIPSet("192.168.1.0/24 !192.168.1.100,192.168.1.101")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if set.Matches("192.168.1.100") {
		t.Error("expected .100 excluded")
	}
	if set.Matches("192.168.1.101") {
		t.Error("expected .101 excluded")
	}
	if !set.Matches("192.168.1.99") {
		t.Error("expected .99 included")
	}
	if set.Matches("192.168.1.0") {
		t.Error("expected network address excluded by host-only /24 semantics")
	}
}

func TestIPSetFieldEnumeration(t *testing.T) {
	set, err := ParseIPSet("192.[22:24].[1:3].1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	expanded := set.Expand(-1)
	if len(expanded) != 9 {
		t.Fatalf("expected 9 addresses, got %d: %v", len(expanded), expanded)
	}
	if !set.Matches("192.22.1.1") {
		t.Error("expected 192.22.1.1 to match")
	}
	if !set.Matches("192.24.3.1") {
		t.Error("expected 192.24.3.1 to match")
	}
	if set.Matches("192.25.1.1") {
		t.Error("expected 192.25.1.1 not to match")
	}
}

func TestIPSetRange(t *testing.T) {
	set, err := ParseIPSet("10.0.0.5-10.0.0.8")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []string{"10.0.0.5", "10.0.0.6", "10.0.0.7", "10.0.0.8"}
	got := set.Expand(-1)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expand = %v, want %v", got, want)
	}
}

func TestIPSetEmptyExpression(t *testing.T) {
	set, err := ParseIPSet("")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !set.Empty() {
		t.Error("expected Empty() for blank expression")
	}
	if set.Matches("10.0.0.1") {
		t.Error("empty set should match nothing directly")
	}
}

func TestIPSetExpandLimitZero(t *testing.T) {
	set, err := ParseIPSet("10.0.0.0/24")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := set.Expand(0); got != nil {
		t.Errorf("Expand(0) = %v, want nil", got)
	}
}

func TestIPSetInvalidExpression(t *testing.T) {
	_, err := ParseIPSet("not-an-ip")
	if err == nil {
		t.Fatal("expected parse error")
	}
	var perr *ParseError
	if !asParseError(err, &perr) {
		t.Fatalf("expected *ParseError, got %T", err)
	}
}

func asParseError(err error, target **ParseError) bool {
	pe, ok := err.(*ParseError)
	if ok {
		*target = pe
	}
	return ok
}
