package pseudonym

import (
	"time"

	"github.com/josephrichard7/proxmox-mpc-sub010/internal/rules"
)

// Mapping records one original value and the pseudonym it resolves to.
// This is the durable exchange format: Export returns a slice of these and
// Import consumes the same shape.
type Mapping struct {
	OriginalValue string         `json:"originalValue" db:"original_value"`
	Pseudonym     string         `json:"pseudonym" db:"pseudonym"`
	Type          rules.Type     `json:"type" db:"type"`
	Category      rules.Category `json:"category" db:"category"`
	CreatedAt     time.Time      `json:"createdAt" db:"created_at"`
}

// Stats summarizes the mapping table.
type Stats struct {
	TotalMappings      int                    `json:"totalMappings"`
	MappingsByType     map[rules.Type]int     `json:"mappingsByType"`
	MappingsByCategory map[rules.Category]int `json:"mappingsByCategory"`
}
