package client

import (
	"time"
)

// Config carries the client connection settings.
type Config struct {
	BaseURL    string        `yaml:"base_url"`
	Token      string        `yaml:"token"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

func DefaultConfig() *Config {
	return &Config{
		BaseURL:    "http://localhost:8080",
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		RetryDelay: 1 * time.Second,
	}
}

// Policy is the list/detail view of a stored policy record.
type Policy struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Enabled       bool       `json:"enabled"`
	Priority      int        `json:"priority"`
	Status        string     `json:"status"`
	Hash          string     `json:"hash,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Run is one audit entry for a policy.
type Run struct {
	ID           uint      `json:"id"`
	PolicyID     string    `json:"policy_id"`
	Kind         string    `json:"kind"`
	Status       string    `json:"status"`
	Severity     string    `json:"severity"`
	TranscriptID string    `json:"transcript_id"`
	Message      string    `json:"message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Host is one managed machine.
type Host struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Address   string `json:"address"`
	OS        string `json:"os,omitempty"`
	Reachable bool   `json:"reachable"`
}

// InventoryItem is one targetable object on a host.
type InventoryItem struct {
	HostID      string    `json:"host_id"`
	ExternalID  string    `json:"external_id"`
	Type        string    `json:"type"`
	Name        string    `json:"name"`
	State       string    `json:"state"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// Capability is one operation an integration advertises, with its verbs.
type Capability struct {
	Capability string   `json:"capability"`
	Verbs      []string `json:"verbs"`
}

// IntegrationType is one catalog entry.
type IntegrationType struct {
	Name         string       `json:"name"`
	Driver       string       `json:"driver"`
	Capabilities []Capability `json:"capabilities"`
}

// IntegrationInstance is one configured integration on a host.
type IntegrationInstance struct {
	ID       string `json:"id"`
	TypeName string `json:"type"`
	Name     string `json:"name"`
	HostID   string `json:"host_id"`
	Active   bool   `json:"active"`
}

// HealthResponse is the health endpoint payload.
type HealthResponse struct {
	Status string `json:"status"`
}
