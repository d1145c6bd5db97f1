package rules

import (
	"regexp"
	"sort"
)

// Type identifies the kind of PII a rule detects.
type Type string

const (
	TypeEmail     Type = "email"
	TypeIPAddress Type = "ip_address"
	TypeHostname  Type = "hostname"
	TypeUUID      Type = "uuid"
	TypePassword  Type = "password"
	TypeToken     Type = "token"
	TypeUsername  Type = "username"
	TypePath      Type = "path"
	TypeMAC       Type = "mac"
	TypeCustom    Type = "custom"
)

// Category groups rules into logical namespaces. Pseudonym lookups and
// statistics are scoped per category.
type Category string

const (
	CategoryPersonal       Category = "personal_data"
	CategoryNetwork        Category = "network_data"
	CategoryCredentials    Category = "credentials"
	CategoryInfrastructure Category = "infrastructure_data"
	CategoryFilesystem     Category = "filesystem_data"
	CategorySystem         Category = "system_data"
)

// Replacement selects what a matched value becomes.
type Replacement string

const (
	// ReplacePseudonym substitutes a deterministic, format-valid pseudonym.
	ReplacePseudonym Replacement = "pseudonym"
	// ReplaceRedact substitutes the fixed redaction marker and discards the value.
	ReplaceRedact Replacement = "redact"
)

// Rule is a single immutable detection rule. Rules are evaluated in
// descending Priority order; a byte range consumed by a higher-priority
// match is never re-scanned within the same pass.
type Rule struct {
	Type           Type
	Pattern        *regexp.Regexp
	Replacement    Replacement
	Category       Category
	PreserveFormat bool
	Priority       int
}

var builtin = []Rule{
	{
		// key=value / key: value credential pairs are always redacted,
		// never pseudonymized. The whole pair is consumed so the token
		// heuristic below cannot re-match the value.
		Type:        TypePassword,
		Pattern:     regexp.MustCompile(`(?i)\b(?:password|passwd|pwd|secret|token|api[_-]?key|access[_-]?key|private[_-]?key)\b\s*[=:]\s*\S+`),
		Replacement: ReplaceRedact,
		Category:    CategoryCredentials,
		Priority:    100,
	},
	{
		Type:           TypeEmail,
		Pattern:        regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`),
		Replacement:    ReplacePseudonym,
		Category:       CategoryPersonal,
		PreserveFormat: true,
		Priority:       90,
	},
	{
		Type:           TypeUUID,
		Pattern:        regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`),
		Replacement:    ReplacePseudonym,
		Category:       CategorySystem,
		PreserveFormat: true,
		Priority:       85,
	},
	{
		Type:           TypeMAC,
		Pattern:        regexp.MustCompile(`\b(?:[0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2}\b`),
		Replacement:    ReplacePseudonym,
		Category:       CategoryNetwork,
		PreserveFormat: true,
		Priority:       80,
	},
	{
		Type:           TypeIPAddress,
		Pattern:        regexp.MustCompile(`\b(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)(?:\.(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)){3}\b`),
		Replacement:    ReplacePseudonym,
		Category:       CategoryNetwork,
		PreserveFormat: true,
		Priority:       75,
	},
	{
		// Long opaque alphanumeric strings are treated as API tokens.
		// Must run after the UUID rule so canonical UUIDs keep their format.
		Type:        TypeToken,
		Pattern:     regexp.MustCompile(`\b[A-Za-z0-9_\-]{20,}\b`),
		Replacement: ReplaceRedact,
		Category:    CategoryCredentials,
		Priority:    70,
	},
	{
		Type:           TypeUsername,
		Pattern:        regexp.MustCompile(`(?i)\buser(?:name)?\s*[:=]\s*([A-Za-z0-9._\-]+)`),
		Replacement:    ReplacePseudonym,
		Category:       CategoryPersonal,
		PreserveFormat: true,
		Priority:       65,
	},
	{
		Type:           TypePath,
		Pattern:        regexp.MustCompile(`(?:/home/[A-Za-z0-9._\-]+|/root|/Users/[A-Za-z0-9._\-]+)(?:/[A-Za-z0-9._\-]+)*`),
		Replacement:    ReplacePseudonym,
		Category:       CategoryFilesystem,
		PreserveFormat: true,
		Priority:       60,
	},
	{
		// Fully-qualified hostnames. The TLD list keeps this from matching
		// arbitrary dotted tokens such as file names or versions.
		Type:           TypeHostname,
		Pattern:        regexp.MustCompile(`\b(?:[a-zA-Z0-9](?:[a-zA-Z0-9\-]*[a-zA-Z0-9])?\.)+(?:com|net|org|io|dev|cloud|local|lan|internal|corp|home|example)\b`),
		Replacement:    ReplacePseudonym,
		Category:       CategoryInfrastructure,
		PreserveFormat: true,
		Priority:       55,
	},
	{
		// Bare server/vm style hostnames by keyword heuristic.
		Type:           TypeHostname,
		Pattern:        regexp.MustCompile(`(?i)\b(?:pve|proxmox|node|srv|server|host|storage|backup|cluster|vm|ct)[-_][a-zA-Z0-9][a-zA-Z0-9\-]*\b`),
		Replacement:    ReplacePseudonym,
		Category:       CategoryInfrastructure,
		PreserveFormat: true,
		Priority:       50,
	},
}

// Registry holds the static, priority-ordered rule set.
type Registry struct {
	rules []Rule
}

// NewRegistry returns a registry over the built-in rules, ordered by
// descending priority.
func NewRegistry() *Registry {
	rs := make([]Rule, len(builtin))
	copy(rs, builtin)
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].Priority > rs[j].Priority })
	return &Registry{rules: rs}
}

// All returns every rule in evaluation order.
func (r *Registry) All() []Rule {
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// ByCategory returns rules belonging to the given category.
func (r *Registry) ByCategory(cat Category) []Rule {
	var out []Rule
	for _, rule := range r.rules {
		if rule.Category == cat {
			out = append(out, rule)
		}
	}
	return out
}

// ByType returns rules of the given type.
func (r *Registry) ByType(typ Type) []Rule {
	var out []Rule
	for _, rule := range r.rules {
		if rule.Type == typ {
			out = append(out, rule)
		}
	}
	return out
}

// HighPriority returns rules with priority >= min, in evaluation order.
func (r *Registry) HighPriority(min int) []Rule {
	var out []Rule
	for _, rule := range r.rules {
		if rule.Priority >= min {
			out = append(out, rule)
		}
	}
	return out
}
