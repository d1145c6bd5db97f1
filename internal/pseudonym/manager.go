package pseudonym

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/josephrichard7/proxmox-mpc-sub010/internal/rules"
)

// ErrInvalidInput is returned when an empty original value is handed to the
// manager. Lookups never return it; only generation validates its input.
var ErrInvalidInput = errors.New("pseudonym: original value must not be empty")

// maxAttempts bounds the salted retry loop when a derived pseudonym collides
// with its own original or with a pseudonym already held by a different
// original. Retries stay deterministic because the attempt counter is part
// of the hashed input.
const maxAttempts = 16

// Manager owns the original<->pseudonym mapping table and the type-aware
// generators. A given original value resolves to the same pseudonym for the
// lifetime of the table, including after a Clear+Import round-trip of an
// exported table. Safe for concurrent use.
type Manager struct {
	mu          sync.RWMutex
	salt        string
	byOriginal  map[string]*Mapping
	byPseudonym map[string]*Mapping
	logger      *zap.Logger
}

// NewManager creates a manager seeded with the given hash salt. Re-runs with
// the same salt reproduce identical pseudonyms without external state.
func NewManager(salt string, logger *zap.Logger) *Manager {
	return &Manager{
		salt:        salt,
		byOriginal:  make(map[string]*Mapping),
		byPseudonym: make(map[string]*Mapping),
		logger:      logger,
	}
}

// Pseudonym returns the stable pseudonym for original, generating and
// recording one on first sight. Generation is a deterministic hash of
// (original, type, category, salt), format-preserving per type. Unknown
// types fall back to a generic opaque token and never fail.
func (m *Manager) Pseudonym(original string, typ rules.Type, cat rules.Category) (string, error) {
	return m.PseudonymWithSalt(original, typ, cat, "")
}

// PseudonymWithSalt is Pseudonym with a caller-supplied salt for values
// first seen in this call; empty salt falls back to the manager's
// construction salt. Originals already in the table keep their recorded
// pseudonym regardless of the salt supplied.
func (m *Manager) PseudonymWithSalt(original string, typ rules.Type, cat rules.Category, salt string) (string, error) {
	if original == "" {
		return "", ErrInvalidInput
	}
	if salt == "" {
		salt = m.salt
	}

	m.mu.RLock()
	if mapping, ok := m.byOriginal[original]; ok {
		m.mu.RUnlock()
		return mapping.Pseudonym, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// A concurrent caller may have inserted the same key between the read
	// and write locks; the first insert wins so both converge on one value.
	if mapping, ok := m.byOriginal[original]; ok {
		return mapping.Pseudonym, nil
	}

	value := m.generate(original, typ, cat, salt)
	mapping := &Mapping{
		OriginalValue: original,
		Pseudonym:     value,
		Type:          typ,
		Category:      cat,
		CreatedAt:     time.Now().UTC(),
	}
	m.byOriginal[original] = mapping
	m.byPseudonym[value] = mapping

	m.logger.Debug("Pseudonym generated",
		zap.String("type", string(typ)),
		zap.String("category", string(cat)),
	)

	return value, nil
}

// generate derives a format-valid pseudonym, retrying with a salted attempt
// counter on self- or cross-collision. Caller holds the write lock.
func (m *Manager) generate(original string, typ rules.Type, cat rules.Category, salt string) string {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		digest := m.digest(original, typ, cat, salt, attempt)
		value := deriveForType(typ, digest, len(original))

		if value == original {
			continue
		}
		if existing, taken := m.byPseudonym[value]; taken && existing.OriginalValue != original {
			continue
		}
		if typ == rules.TypeIPAddress && isReservedIPv4(digest) {
			continue
		}
		return value
	}
	return m.exhaustedFallback(original, typ, cat, salt)
}

// exhaustedFallback derives the pseudonym used when every salted attempt
// collided. An extra hash round keeps the value type-shaped instead of
// appending a suffix that would break per-type format validity.
func (m *Manager) exhaustedFallback(original string, typ rules.Type, cat rules.Category, salt string) string {
	digest := m.digest(original, typ, cat, salt, maxAttempts)
	return deriveForType(typ, sha256.Sum256(digest[:]), len(original))
}

func (m *Manager) digest(original string, typ rules.Type, cat rules.Category, salt string, attempt int) [32]byte {
	return sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%d", original, typ, cat, salt, attempt)))
}

// Lookup returns the mapping for an original value, if present.
func (m *Manager) Lookup(original string) (Mapping, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if mapping, ok := m.byOriginal[original]; ok {
		return *mapping, true
	}
	return Mapping{}, false
}

// LookupPseudonym returns the mapping that produced a pseudonym, if present.
func (m *Manager) LookupPseudonym(value string) (Mapping, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if mapping, ok := m.byPseudonym[value]; ok {
		return *mapping, true
	}
	return Mapping{}, false
}

// AllMappings returns a snapshot of the table.
func (m *Manager) AllMappings() []Mapping {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Mapping, 0, len(m.byOriginal))
	for _, mapping := range m.byOriginal {
		out = append(out, *mapping)
	}
	return out
}

// Export returns the table in the durable exchange format.
func (m *Manager) Export() []Mapping {
	return m.AllMappings()
}

// Import loads mappings produced by Export. It is idempotent: records whose
// original value is already present are skipped, so importing the same list
// twice leaves the table unchanged. Returns the number of records added.
func (m *Manager) Import(mappings []Mapping) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	added := 0
	for _, record := range mappings {
		if record.OriginalValue == "" || record.Pseudonym == "" {
			continue
		}
		if _, exists := m.byOriginal[record.OriginalValue]; exists {
			continue
		}
		mapping := record
		m.byOriginal[mapping.OriginalValue] = &mapping
		m.byPseudonym[mapping.Pseudonym] = &mapping
		added++
	}

	if added > 0 {
		m.logger.Info("Mappings imported",
			zap.Int("added", added),
			zap.Int("skipped", len(mappings)-added),
		)
	}
	return added
}

// Clear wipes the table. Used between independent anonymization sessions;
// stability across a Clear requires re-importing a prior export.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byOriginal = make(map[string]*Mapping)
	m.byPseudonym = make(map[string]*Mapping)
}

// GetStats returns mapping counts, total and per type/category.
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		TotalMappings:      len(m.byOriginal),
		MappingsByType:     make(map[rules.Type]int),
		MappingsByCategory: make(map[rules.Category]int),
	}
	for _, mapping := range m.byOriginal {
		stats.MappingsByType[mapping.Type]++
		stats.MappingsByCategory[mapping.Category]++
	}
	return stats
}

// deriveForType renders a digest as a syntactically valid value of the
// rule type. originalLen sizes the generic fallback token.
func deriveForType(typ rules.Type, digest [32]byte, originalLen int) string {
	hexDigest := hex.EncodeToString(digest[:])

	switch typ {
	case rules.TypeEmail:
		n := binary.BigEndian.Uint32(digest[0:4]) % 100000
		return fmt.Sprintf("user%05d@%s.example", n, lowerToken(digest, 4, 6))
	case rules.TypeIPAddress:
		return fmt.Sprintf("%d.%d.%d.%d", digest[0], digest[1], digest[2], digest[3])
	case rules.TypeHostname:
		return "host-" + hexDigest[:10]
	case rules.TypeUUID:
		return fmt.Sprintf("%s-%s-%s-%s-%s",
			hexDigest[0:8], hexDigest[8:12], hexDigest[12:16], hexDigest[16:20], hexDigest[20:32])
	case rules.TypeMAC:
		// Locally administered unicast prefix.
		return fmt.Sprintf("02:%02x:%02x:%02x:%02x:%02x",
			digest[1], digest[2], digest[3], digest[4], digest[5])
	case rules.TypeUsername:
		return "user-" + hexDigest[:8]
	case rules.TypePath:
		return "/home/user-" + hexDigest[:8]
	default:
		// Unknown types get an opaque token sized like the original.
		size := originalLen
		if size < 8 {
			size = 8
		}
		if size > 32 {
			size = 32
		}
		return "anon-" + hexDigest[:size]
	}
}

// lowerToken derives n lowercase letters starting at digest offset.
func lowerToken(digest [32]byte, offset, n int) string {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = 'a' + digest[(offset+i)%len(digest)]%26
	}
	return string(out)
}

// isReservedIPv4 reports whether the first four digest bytes would render a
// loopback, private, link-local, multicast or zero address.
func isReservedIPv4(digest [32]byte) bool {
	a, b := digest[0], digest[1]
	switch {
	case a == 0 || a == 10 || a == 127:
		return true
	case a == 169 && b == 254:
		return true
	case a == 172 && b >= 16 && b <= 31:
		return true
	case a == 192 && b == 168:
		return true
	case a >= 224:
		return true
	}
	return false
}
