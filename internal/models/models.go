package models

import (
	"encoding/json"
	"time"
)

// PolicyRecord is the stored form of one policy. Spec holds the canonical
// PolicySpec JSON; Name/Enabled/Priority are denormalized for listing and
// filtering without decoding the blob.
type PolicyRecord struct {
	ID            string     `gorm:"primaryKey;size:36" json:"id"`
	Name          string     `gorm:"not null;index" json:"name"`
	Enabled       bool       `gorm:"default:false;index" json:"enabled"`
	Priority      int        `gorm:"default:128" json:"priority"`
	Status        string     `gorm:"size:20;default:valid" json:"status"` // valid, invalid
	Hash          string     `gorm:"size:64" json:"hash,omitempty"`
	Spec          string     `gorm:"type:text;not null" json:"-"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	LastRunStatus string     `gorm:"size:20" json:"last_run_status,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// PolicyRun is an audit record for dry runs and test evaluations.
type PolicyRun struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	PolicyID     string    `gorm:"index;size:36" json:"policy_id"`
	Kind         string    `gorm:"size:20" json:"kind"` // dry_run, test
	Status       string    `gorm:"index;size:20" json:"status"`
	Severity     string    `gorm:"size:10" json:"severity"`
	TranscriptID string    `gorm:"size:36" json:"transcript_id"`
	Message      string    `gorm:"type:text" json:"message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Host is one managed machine (hypervisor node, NAS, bare metal box).
type Host struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Name      string    `gorm:"unique;not null" json:"name"`
	Address   string    `json:"address"`
	OS        string    `gorm:"size:40" json:"os,omitempty"`
	Reachable bool      `gorm:"default:true" json:"reachable"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InventoryItem is one targetable object discovered on a host. ExternalID is
// the id selectors match against (VMID, container id, service name).
type InventoryItem struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	HostID      string    `gorm:"index;size:36" json:"host_id"`
	ExternalID  string    `gorm:"index;not null" json:"external_id"`
	Type        string    `gorm:"size:20;index" json:"type"` // vm, container, service
	Name        string    `json:"name"`
	State       string    `gorm:"size:20" json:"state"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// Capability is one integration-advertised operation and its invokable verbs.
type Capability struct {
	Capability string   `json:"capability"`
	Verbs      []string `json:"verbs"`
}

// IntegrationType describes a driver and the capabilities it advertises.
// Capabilities is a JSON array of Capability, same storage approach as the
// policy spec blob.
type IntegrationType struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Name         string    `gorm:"unique;not null" json:"name"`
	Driver       string    `gorm:"not null" json:"driver"`
	Capabilities string    `gorm:"type:text" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CapabilityList decodes the stored capability JSON. Invalid JSON yields an
// empty list; compile validation reports the unresolvable capability instead.
func (t *IntegrationType) CapabilityList() []Capability {
	var caps []Capability
	if t.Capabilities == "" {
		return caps
	}
	if err := json.Unmarshal([]byte(t.Capabilities), &caps); err != nil {
		return nil
	}
	return caps
}

// IntegrationInstance is one configured instance of an integration type,
// scoped to a host.
type IntegrationInstance struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	TypeName  string    `gorm:"index;not null" json:"type"`
	Name      string    `gorm:"not null" json:"name"`
	HostID    string    `gorm:"index;size:36" json:"host_id"`
	Active    bool      `gorm:"default:true" json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
