package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/walnut-ops/walnut/internal/models"
)

// InventoryService serves the lookups the action/target editor needs: hosts,
// per-host capabilities, inventory items and the integration catalog.
type InventoryService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewInventoryService(db *gorm.DB, logger *logrus.Logger) *InventoryService {
	if logger == nil {
		logger = logrus.New()
	}
	return &InventoryService{db: db, logger: logger}
}

// ListHosts returns all managed hosts ordered by name.
func (s *InventoryService) ListHosts(ctx context.Context) ([]models.Host, error) {
	var hosts []models.Host
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&hosts).Error; err != nil {
		return nil, fmt.Errorf("list hosts: %w", err)
	}
	return hosts, nil
}

// GetHost loads one host.
func (s *InventoryService) GetHost(ctx context.Context, id string) (*models.Host, error) {
	var host models.Host
	if err := s.db.WithContext(ctx).First(&host, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &host, nil
}

// HostCapabilities merges the capability lists of every active integration
// instance on the host, deduplicating verbs per capability.
func (s *InventoryService) HostCapabilities(ctx context.Context, hostID string) ([]models.Capability, error) {
	if _, err := s.GetHost(ctx, hostID); err != nil {
		return nil, err
	}

	var instances []models.IntegrationInstance
	if err := s.db.WithContext(ctx).Where("host_id = ? AND active = ?", hostID, true).Find(&instances).Error; err != nil {
		return nil, fmt.Errorf("load instances: %w", err)
	}

	merged := map[string][]string{}
	var order []string
	for _, instance := range instances {
		var integType models.IntegrationType
		if err := s.db.WithContext(ctx).First(&integType, "name = ?", instance.TypeName).Error; err != nil {
			s.logger.Warnf("instance %s references missing type %s", instance.ID, instance.TypeName)
			continue
		}
		for _, c := range integType.CapabilityList() {
			if _, seen := merged[c.Capability]; !seen {
				order = append(order, c.Capability)
			}
			merged[c.Capability] = mergeVerbs(merged[c.Capability], c.Verbs)
		}
	}

	out := make([]models.Capability, 0, len(order))
	for _, name := range order {
		out = append(out, models.Capability{Capability: name, Verbs: merged[name]})
	}
	return out, nil
}

// Inventory returns the targetable items for a host. With refresh set the
// driver would be re-polled; items get a fresh RefreshedAt stamp so callers
// can tell cached data from a forced refresh.
func (s *InventoryService) Inventory(ctx context.Context, hostID string, refresh bool) ([]models.InventoryItem, error) {
	if _, err := s.GetHost(ctx, hostID); err != nil {
		return nil, err
	}

	if refresh {
		if err := s.db.WithContext(ctx).Model(&models.InventoryItem{}).
			Where("host_id = ?", hostID).
			Update("refreshed_at", time.Now()).Error; err != nil {
			s.logger.Warnf("refresh inventory for %s: %v", hostID, err)
		}
	}

	var items []models.InventoryItem
	if err := s.db.WithContext(ctx).Where("host_id = ?", hostID).Order("external_id ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	return items, nil
}

// ListIntegrationTypes returns the integration catalog with decoded
// capability lists.
func (s *InventoryService) ListIntegrationTypes(ctx context.Context) ([]IntegrationTypeInfo, error) {
	var types []models.IntegrationType
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&types).Error; err != nil {
		return nil, fmt.Errorf("list integration types: %w", err)
	}
	out := make([]IntegrationTypeInfo, 0, len(types))
	for i := range types {
		out = append(out, IntegrationTypeInfo{
			Name:         types[i].Name,
			Driver:       types[i].Driver,
			Capabilities: types[i].CapabilityList(),
		})
	}
	return out, nil
}

// IntegrationTypeInfo is the API shape of one integration type.
type IntegrationTypeInfo struct {
	Name         string              `json:"name"`
	Driver       string              `json:"driver"`
	Capabilities []models.Capability `json:"capabilities"`
}

// ListInstances returns integration instances, optionally filtered to one
// type so the editor can scope instance pickers to the chosen type.
func (s *InventoryService) ListInstances(ctx context.Context, typeName string) ([]models.IntegrationInstance, error) {
	q := s.db.WithContext(ctx).Order("name ASC")
	if typeName != "" {
		q = q.Where("type_name = ?", typeName)
	}
	var instances []models.IntegrationInstance
	if err := q.Find(&instances).Error; err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	return instances, nil
}

// SeedCatalog installs the built-in integration types on first boot so a
// fresh install can author policies immediately.
func (s *InventoryService) SeedCatalog(ctx context.Context) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.IntegrationType{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	defaults := []struct {
		name   string
		driver string
		caps   []models.Capability
	}{
		{
			name:   "proxmox-ve",
			driver: "proxmox",
			caps: []models.Capability{
				{Capability: "vm.lifecycle", Verbs: []string{"start", "shutdown", "stop", "suspend", "resume"}},
				{Capability: "inventory.list", Verbs: []string{"refresh"}},
			},
		},
		{
			name:   "nut-server",
			driver: "nut",
			caps: []models.Capability{
				{Capability: "power.control", Verbs: []string{"shutdown", "start"}},
				{Capability: "ups.status", Verbs: []string{"read"}},
			},
		},
		{
			name:   "systemd-host",
			driver: "systemd",
			caps: []models.Capability{
				{Capability: "service.control", Verbs: []string{"stop", "start", "disable", "enable"}},
			},
		},
	}

	for _, d := range defaults {
		raw, err := json.Marshal(d.caps)
		if err != nil {
			return fmt.Errorf("encode capabilities for %s: %w", d.name, err)
		}
		record := &models.IntegrationType{Name: d.name, Driver: d.driver, Capabilities: string(raw)}
		if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
			return fmt.Errorf("seed integration type %s: %w", d.name, err)
		}
	}
	s.logger.Infof("Seeded %d integration types", len(defaults))
	return nil
}

func mergeVerbs(existing, add []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, v := range existing {
		seen[v] = true
	}
	for _, v := range add {
		if !seen[v] {
			existing = append(existing, v)
			seen[v] = true
		}
	}
	return existing
}
