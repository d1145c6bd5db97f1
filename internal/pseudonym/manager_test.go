package pseudonym

import (
	"regexp"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/josephrichard7/proxmox-mpc-sub010/internal/rules"
)

const testSalt = "test-salt"

func newTestManager() *Manager {
	return NewManager(testSalt, zap.NewNop())
}

// TestDeterminism tests that the same original always resolves to the same
// pseudonym, within one manager and across fresh managers with the same salt.
func TestDeterminism(t *testing.T) {
	m := newTestManager()

	first, err := m.Pseudonym("192.168.1.100", rules.TypeIPAddress, rules.CategoryNetwork)
	if err != nil {
		t.Fatalf("Pseudonym failed: %v", err)
	}
	second, err := m.Pseudonym("192.168.1.100", rules.TypeIPAddress, rules.CategoryNetwork)
	if err != nil {
		t.Fatalf("Pseudonym failed: %v", err)
	}
	if first != second {
		t.Errorf("same original produced %q then %q", first, second)
	}

	// A fresh manager with the same salt reproduces the value.
	other := newTestManager()
	replay, err := other.Pseudonym("192.168.1.100", rules.TypeIPAddress, rules.CategoryNetwork)
	if err != nil {
		t.Fatalf("Pseudonym failed: %v", err)
	}
	if replay != first {
		t.Errorf("fresh manager produced %q, want %q", replay, first)
	}
}

// TestSaltChangesOutput tests that a different salt yields a different table.
func TestSaltChangesOutput(t *testing.T) {
	a := NewManager("salt-a", zap.NewNop())
	b := NewManager("salt-b", zap.NewNop())

	va, _ := a.Pseudonym("pve1.lan.local", rules.TypeHostname, rules.CategoryInfrastructure)
	vb, _ := b.Pseudonym("pve1.lan.local", rules.TypeHostname, rules.CategoryInfrastructure)
	if va == vb {
		t.Errorf("different salts produced identical pseudonym %q", va)
	}
}

// TestNonIdentity tests that a pseudonym never equals its original.
func TestNonIdentity(t *testing.T) {
	m := newTestManager()

	originals := []string{
		"admin@company.com",
		"10.0.0.1",
		"pve-node-01",
		"550e8400-e29b-41d4-a716-446655440000",
		"aa:bb:cc:dd:ee:ff",
		"jsmith",
		"/home/jsmith",
		"some-opaque-value",
	}
	types := []rules.Type{
		rules.TypeEmail, rules.TypeIPAddress, rules.TypeHostname, rules.TypeUUID,
		rules.TypeMAC, rules.TypeUsername, rules.TypePath, rules.TypeCustom,
	}

	for i, original := range originals {
		value, err := m.Pseudonym(original, types[i], rules.CategorySystem)
		if err != nil {
			t.Fatalf("Pseudonym(%q) failed: %v", original, err)
		}
		if value == original {
			t.Errorf("pseudonym for %q equals its original", original)
		}
	}
}

// TestDistinctness tests that distinct originals get distinct pseudonyms.
func TestDistinctness(t *testing.T) {
	m := newTestManager()

	seen := make(map[string]string)
	inputs := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "172.20.1.5", "192.168.0.9"}
	for _, in := range inputs {
		value, err := m.Pseudonym(in, rules.TypeIPAddress, rules.CategoryNetwork)
		if err != nil {
			t.Fatalf("Pseudonym(%q) failed: %v", in, err)
		}
		if prev, dup := seen[value]; dup {
			t.Errorf("originals %q and %q collided on %q", prev, in, value)
		}
		seen[value] = in
	}
}

// TestFormatPreservation tests the per-type output formats.
func TestFormatPreservation(t *testing.T) {
	m := newTestManager()

	cases := []struct {
		name     string
		typ      rules.Type
		original string
		pattern  string
	}{
		{"email", rules.TypeEmail, "ops@company.com", `^user\d{5}@[a-z]{6}\.example$`},
		{"ip", rules.TypeIPAddress, "192.168.1.50", `^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`},
		{"hostname", rules.TypeHostname, "pve1.lan", `^host-[0-9a-f]{10}$`},
		{"uuid", rules.TypeUUID, "550e8400-e29b-41d4-a716-446655440000", `^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`},
		{"mac", rules.TypeMAC, "aa:bb:cc:dd:ee:ff", `^02(:[0-9a-f]{2}){5}$`},
		{"username", rules.TypeUsername, "jsmith", `^user-[0-9a-f]{8}$`},
		{"path", rules.TypePath, "/home/jsmith", `^/home/user-[0-9a-f]{8}$`},
		{"unknown type", rules.TypeCustom, "whatever-value", `^anon-[0-9a-f]{8,32}$`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			value, err := m.Pseudonym(tc.original, tc.typ, rules.CategorySystem)
			if err != nil {
				t.Fatalf("Pseudonym failed: %v", err)
			}
			if !regexp.MustCompile(tc.pattern).MatchString(value) {
				t.Errorf("pseudonym %q does not match %s", value, tc.pattern)
			}
		})
	}
}

// TestPseudonymWithSalt tests that a caller-supplied salt drives generation
// for fresh originals while recorded mappings stay stable.
func TestPseudonymWithSalt(t *testing.T) {
	t.Run("salt drives generation", func(t *testing.T) {
		a := newTestManager()
		b := newTestManager()
		va, err := a.PseudonymWithSalt("192.168.1.100", rules.TypeIPAddress, rules.CategoryNetwork, "call-salt-a")
		if err != nil {
			t.Fatalf("PseudonymWithSalt failed: %v", err)
		}
		vb, err := b.PseudonymWithSalt("192.168.1.100", rules.TypeIPAddress, rules.CategoryNetwork, "call-salt-b")
		if err != nil {
			t.Fatalf("PseudonymWithSalt failed: %v", err)
		}
		if va == vb {
			t.Errorf("different call salts produced identical pseudonym %q", va)
		}
	})

	t.Run("empty salt matches construction salt", func(t *testing.T) {
		a := newTestManager()
		b := newTestManager()
		va, _ := a.PseudonymWithSalt("pve1.lan.local", rules.TypeHostname, rules.CategoryInfrastructure, "")
		vb, _ := b.Pseudonym("pve1.lan.local", rules.TypeHostname, rules.CategoryInfrastructure)
		if va != vb {
			t.Errorf("empty call salt produced %q, construction salt produced %q", va, vb)
		}
	})

	t.Run("recorded mapping wins over a later salt", func(t *testing.T) {
		m := newTestManager()
		first, _ := m.PseudonymWithSalt("admin@company.com", rules.TypeEmail, rules.CategoryPersonal, "call-salt-a")
		second, _ := m.PseudonymWithSalt("admin@company.com", rules.TypeEmail, rules.CategoryPersonal, "call-salt-b")
		if first != second {
			t.Errorf("recorded original rederived under new salt: %q vs %q", first, second)
		}
	})
}

// TestExhaustedFallbackKeepsFormat tests that the value produced after the
// retry loop gives up is still shaped like its rule type.
func TestExhaustedFallbackKeepsFormat(t *testing.T) {
	m := newTestManager()

	cases := []struct {
		name     string
		typ      rules.Type
		original string
		pattern  string
	}{
		{"email", rules.TypeEmail, "ops@company.com", `^user\d{5}@[a-z]{6}\.example$`},
		{"ip", rules.TypeIPAddress, "192.168.1.50", `^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`},
		{"hostname", rules.TypeHostname, "pve1.lan", `^host-[0-9a-f]{10}$`},
		{"uuid", rules.TypeUUID, "550e8400-e29b-41d4-a716-446655440000", `^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`},
		{"mac", rules.TypeMAC, "aa:bb:cc:dd:ee:ff", `^02(:[0-9a-f]{2}){5}$`},
		{"username", rules.TypeUsername, "jsmith", `^user-[0-9a-f]{8}$`},
		{"path", rules.TypePath, "/home/jsmith", `^/home/user-[0-9a-f]{8}$`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			value := m.exhaustedFallback(tc.original, tc.typ, rules.CategorySystem, testSalt)
			if !regexp.MustCompile(tc.pattern).MatchString(value) {
				t.Errorf("fallback %q does not match %s", value, tc.pattern)
			}
			if value == tc.original {
				t.Errorf("fallback for %q equals its original", tc.original)
			}
		})
	}
}

// TestIPAvoidReservedRanges tests that derived IPs avoid loopback, private,
// link-local, multicast and zero-leading ranges.
func TestIPAvoidReservedRanges(t *testing.T) {
	m := newTestManager()

	inputs := []string{
		"10.1.2.3", "172.16.9.9", "192.168.44.2", "127.0.0.1", "8.8.8.8",
		"203.0.113.7", "198.51.100.23", "100.64.0.1", "45.33.32.156",
	}
	for _, in := range inputs {
		value, err := m.Pseudonym(in, rules.TypeIPAddress, rules.CategoryNetwork)
		if err != nil {
			t.Fatalf("Pseudonym(%q) failed: %v", in, err)
		}
		parts := strings.Split(value, ".")
		if len(parts) != 4 {
			t.Fatalf("pseudonym %q is not dotted quad", value)
		}
		switch {
		case strings.HasPrefix(value, "0."),
			strings.HasPrefix(value, "10."),
			strings.HasPrefix(value, "127."),
			strings.HasPrefix(value, "169.254."),
			strings.HasPrefix(value, "192.168."):
			t.Errorf("pseudonym %q for %q falls in a reserved range", value, in)
		}
	}
}

// TestEmptyInput tests the generation-side validation.
func TestEmptyInput(t *testing.T) {
	m := newTestManager()
	if _, err := m.Pseudonym("", rules.TypeEmail, rules.CategoryPersonal); err != ErrInvalidInput {
		t.Errorf("empty input returned %v, want ErrInvalidInput", err)
	}
}

// TestLookup tests forward and reverse lookups, including misses.
func TestLookup(t *testing.T) {
	m := newTestManager()

	value, _ := m.Pseudonym("admin@company.com", rules.TypeEmail, rules.CategoryPersonal)

	t.Run("forward hit", func(t *testing.T) {
		mapping, ok := m.Lookup("admin@company.com")
		if !ok {
			t.Fatal("lookup missed a recorded original")
		}
		if mapping.Pseudonym != value {
			t.Errorf("lookup returned %q, want %q", mapping.Pseudonym, value)
		}
	})

	t.Run("reverse hit", func(t *testing.T) {
		mapping, ok := m.LookupPseudonym(value)
		if !ok {
			t.Fatal("reverse lookup missed a recorded pseudonym")
		}
		if mapping.OriginalValue != "admin@company.com" {
			t.Errorf("reverse lookup returned %q", mapping.OriginalValue)
		}
	})

	t.Run("miss is not an error", func(t *testing.T) {
		if _, ok := m.Lookup("never-seen"); ok {
			t.Error("lookup hit an unrecorded original")
		}
		if _, ok := m.LookupPseudonym("never-seen"); ok {
			t.Error("reverse lookup hit an unrecorded pseudonym")
		}
	})
}

// TestImportIdempotence tests that importing the same export twice leaves
// the table unchanged.
func TestImportIdempotence(t *testing.T) {
	m := newTestManager()
	m.Pseudonym("10.0.0.1", rules.TypeIPAddress, rules.CategoryNetwork)
	m.Pseudonym("pve-node-01", rules.TypeHostname, rules.CategoryInfrastructure)

	exported := m.Export()
	if len(exported) != 2 {
		t.Fatalf("export returned %d mappings, want 2", len(exported))
	}

	target := newTestManager()
	if added := target.Import(exported); added != 2 {
		t.Errorf("first import added %d, want 2", added)
	}
	if added := target.Import(exported); added != 0 {
		t.Errorf("second import added %d, want 0", added)
	}
	if got := target.GetStats().TotalMappings; got != 2 {
		t.Errorf("table holds %d mappings, want 2", got)
	}
}

// TestClearImportRoundTrip tests that stability survives Clear via export
// and re-import.
func TestClearImportRoundTrip(t *testing.T) {
	m := newTestManager()
	before, _ := m.Pseudonym("admin@company.com", rules.TypeEmail, rules.CategoryPersonal)

	exported := m.Export()
	m.Clear()
	if m.GetStats().TotalMappings != 0 {
		t.Fatal("clear left mappings behind")
	}

	m.Import(exported)
	after, _ := m.Pseudonym("admin@company.com", rules.TypeEmail, rules.CategoryPersonal)
	if after != before {
		t.Errorf("round-trip changed pseudonym from %q to %q", before, after)
	}
}

// TestImportSkipsInvalid tests that blank records are dropped.
func TestImportSkipsInvalid(t *testing.T) {
	m := newTestManager()
	added := m.Import([]Mapping{
		{OriginalValue: "", Pseudonym: "x"},
		{OriginalValue: "y", Pseudonym: ""},
		{OriginalValue: "10.0.0.1", Pseudonym: "55.66.77.88", Type: rules.TypeIPAddress},
	})
	if added != 1 {
		t.Errorf("import added %d, want 1", added)
	}
}

// TestStats tests per-type and per-category counts.
func TestStats(t *testing.T) {
	m := newTestManager()
	m.Pseudonym("10.0.0.1", rules.TypeIPAddress, rules.CategoryNetwork)
	m.Pseudonym("10.0.0.2", rules.TypeIPAddress, rules.CategoryNetwork)
	m.Pseudonym("admin@company.com", rules.TypeEmail, rules.CategoryPersonal)

	stats := m.GetStats()
	if stats.TotalMappings != 3 {
		t.Errorf("total %d, want 3", stats.TotalMappings)
	}
	if stats.MappingsByType[rules.TypeIPAddress] != 2 {
		t.Errorf("ip count %d, want 2", stats.MappingsByType[rules.TypeIPAddress])
	}
	if stats.MappingsByCategory[rules.CategoryPersonal] != 1 {
		t.Errorf("personal count %d, want 1", stats.MappingsByCategory[rules.CategoryPersonal])
	}
}

// TestConcurrentConvergence tests that concurrent first sights of the same
// original converge on one pseudonym.
func TestConcurrentConvergence(t *testing.T) {
	m := newTestManager()

	const goroutines = 32
	results := make([]string, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			value, err := m.Pseudonym("shared-host.local", rules.TypeHostname, rules.CategoryInfrastructure)
			if err != nil {
				t.Errorf("Pseudonym failed: %v", err)
				return
			}
			results[i] = value
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		if results[i] != results[0] {
			t.Fatalf("goroutine %d saw %q, goroutine 0 saw %q", i, results[i], results[0])
		}
	}
	if m.GetStats().TotalMappings != 1 {
		t.Errorf("table holds %d mappings, want 1", m.GetStats().TotalMappings)
	}
}
