package resourcestore

import (
	"context"
	"sync"
	"time"

	"github.com/bhaijames252-sketch/billbillbill/internal/models"
)

// MemoryStore is an in-memory Store used by package tests throughout
// this module — no MongoDB mocking library exists in the example
// corpus, so this narrow hand-written fake stands in for it.
type MemoryStore struct {
	mu         sync.Mutex
	computes   map[string]*models.ComputeResource
	disks      map[string]*models.DiskResource
	floatingIP map[string]*models.FloatingIPResource
	seq        int
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		computes:   map[string]*models.ComputeResource{},
		disks:      map[string]*models.DiskResource{},
		floatingIP: map[string]*models.FloatingIPResource{},
	}
}

func (m *MemoryStore) nextEventID(prefix string) string {
	m.seq++
	return prefix + "-" + time.Now().UTC().Format("150405") + "-" + itoa(m.seq)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func cloneCompute(r *models.ComputeResource) *models.ComputeResource {
	c := *r
	c.Events = append([]models.EventEntry(nil), r.Events...)
	return &c
}

func cloneDisk(r *models.DiskResource) *models.DiskResource {
	c := *r
	c.Events = append([]models.EventEntry(nil), r.Events...)
	return &c
}

func cloneFloatingIP(r *models.FloatingIPResource) *models.FloatingIPResource {
	c := *r
	c.Events = append([]models.EventEntry(nil), r.Events...)
	return &c
}

// CreateCompute implements Store.
func (m *MemoryStore) CreateCompute(ctx context.Context, resourceID, userID, flavor string) (*models.ComputeResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.computes[resourceID]; exists {
		return nil, ErrConflict
	}
	now := time.Now().UTC()
	r := &models.ComputeResource{
		ResourceID:      resourceID,
		UserID:          userID,
		State:           models.ComputeStateRunning,
		CurrentFlavor:   flavor,
		CreatedAt:       now,
		LastBilledUntil: now,
		Events: []models.EventEntry{
			{EventID: m.nextEventID("evt"), Time: now, Type: string(models.EventCreate), Meta: map[string]any{"flavor": flavor}},
		},
	}
	m.computes[resourceID] = r
	return cloneCompute(r), nil
}

// GetCompute implements Store.
func (m *MemoryStore) GetCompute(ctx context.Context, resourceID string) (*models.ComputeResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.computes[resourceID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneCompute(r), nil
}

// GetUserComputes implements Store.
func (m *MemoryStore) GetUserComputes(ctx context.Context, userID string, includeDeleted bool) ([]*models.ComputeResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ComputeResource
	for _, r := range m.computes {
		if r.UserID != userID {
			continue
		}
		if !includeDeleted && r.DeletedAt != nil {
			continue
		}
		out = append(out, cloneCompute(r))
	}
	return out, nil
}

// UpdateCompute implements Store.
func (m *MemoryStore) UpdateCompute(ctx context.Context, resourceID string, state, flavor *string) (*models.ComputeResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.computes[resourceID]
	if !ok {
		return nil, ErrNotFound
	}

	now := time.Now().UTC()
	event := models.EventEntry{EventID: m.nextEventID("evt"), Time: now}
	changed := false

	if state != nil && *state != "" {
		r.State = *state
		event.Type = *state
		if *state == models.ComputeStateDeleted && r.DeletedAt == nil {
			r.DeletedAt = &now
		}
		changed = true
	}
	if flavor != nil && *flavor != "" {
		r.CurrentFlavor = *flavor
		event.Type = string(models.EventResize)
		event.Meta = map[string]any{"flavor": *flavor}
		changed = true
	}
	if changed {
		r.Events = append(r.Events, event)
	}
	return cloneCompute(r), nil
}

// DeleteCompute implements Store.
func (m *MemoryStore) DeleteCompute(ctx context.Context, resourceID string) (*models.ComputeResource, error) {
	m.mu.Lock()
	r, ok := m.computes[resourceID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	if r.DeletedAt != nil {
		return cloneCompute(r), nil
	}
	deleted := models.ComputeStateDeleted
	return m.UpdateCompute(ctx, resourceID, &deleted, nil)
}

// UpdateComputeLastBilled implements Store.
func (m *MemoryStore) UpdateComputeLastBilled(ctx context.Context, resourceID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.computes[resourceID]
	if !ok {
		return ErrNotFound
	}
	r.LastBilledUntil = until
	return nil
}

// CreateDisk implements Store.
func (m *MemoryStore) CreateDisk(ctx context.Context, resourceID, userID string, sizeGB int) (*models.DiskResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.disks[resourceID]; exists {
		return nil, ErrConflict
	}
	now := time.Now().UTC()
	r := &models.DiskResource{
		ResourceID:      resourceID,
		UserID:          userID,
		SizeGB:          sizeGB,
		State:           models.DiskStateDetached,
		CreatedAt:       now,
		LastBilledUntil: now,
		Events: []models.EventEntry{
			{EventID: m.nextEventID("evt-d"), Time: now, Type: string(models.EventCreate), Meta: map[string]any{"size_gb": sizeGB}},
		},
	}
	m.disks[resourceID] = r
	return cloneDisk(r), nil
}

// GetDisk implements Store.
func (m *MemoryStore) GetDisk(ctx context.Context, resourceID string) (*models.DiskResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.disks[resourceID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDisk(r), nil
}

// GetUserDisks implements Store.
func (m *MemoryStore) GetUserDisks(ctx context.Context, userID string, includeDeleted bool) ([]*models.DiskResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.DiskResource
	for _, r := range m.disks {
		if r.UserID != userID {
			continue
		}
		if !includeDeleted && r.DeletedAt != nil {
			continue
		}
		out = append(out, cloneDisk(r))
	}
	return out, nil
}

// UpdateDisk implements Store.
func (m *MemoryStore) UpdateDisk(ctx context.Context, resourceID string, state *string, sizeGB *int) (*models.DiskResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.disks[resourceID]
	if !ok {
		return nil, ErrNotFound
	}

	now := time.Now().UTC()
	event := models.EventEntry{EventID: m.nextEventID("evt-d"), Time: now}
	changed := false

	if state != nil && *state == models.DiskStateDeleted && r.DeletedAt == nil {
		r.State = models.DiskStateDeleted
		r.DeletedAt = &now
		event.Type = "deleted"
		changed = true
	} else if state != nil && *state != "" {
		r.State = *state
		event.Type = *state
		changed = true
	}
	if sizeGB != nil && *sizeGB != r.SizeGB {
		r.SizeGB = *sizeGB
		event.Type = string(models.EventResize)
		event.Meta = map[string]any{"size_gb": *sizeGB}
		changed = true
	}
	if changed {
		r.Events = append(r.Events, event)
	}
	return cloneDisk(r), nil
}

// DeleteDisk implements Store.
func (m *MemoryStore) DeleteDisk(ctx context.Context, resourceID string) (*models.DiskResource, error) {
	m.mu.Lock()
	r, ok := m.disks[resourceID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	if r.DeletedAt != nil {
		return cloneDisk(r), nil
	}
	deleted := models.DiskStateDeleted
	return m.UpdateDisk(ctx, resourceID, &deleted, nil)
}

// UpdateDiskLastBilled implements Store.
func (m *MemoryStore) UpdateDiskLastBilled(ctx context.Context, resourceID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.disks[resourceID]
	if !ok {
		return ErrNotFound
	}
	r.LastBilledUntil = until
	return nil
}

// CreateFloatingIP implements Store.
func (m *MemoryStore) CreateFloatingIP(ctx context.Context, resourceID, userID, ipAddress string) (*models.FloatingIPResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.floatingIP[resourceID]; exists {
		return nil, ErrConflict
	}
	now := time.Now().UTC()
	r := &models.FloatingIPResource{
		ResourceID:      resourceID,
		UserID:          userID,
		IPAddress:       ipAddress,
		CreatedAt:       now,
		LastBilledUntil: now,
		Events: []models.EventEntry{
			{EventID: m.nextEventID("evt-ip"), Time: now, Type: string(models.EventAllocate)},
		},
	}
	m.floatingIP[resourceID] = r
	return cloneFloatingIP(r), nil
}

// GetFloatingIP implements Store.
func (m *MemoryStore) GetFloatingIP(ctx context.Context, resourceID string) (*models.FloatingIPResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.floatingIP[resourceID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneFloatingIP(r), nil
}

// GetUserFloatingIPs implements Store.
func (m *MemoryStore) GetUserFloatingIPs(ctx context.Context, userID string, includeReleased bool) ([]*models.FloatingIPResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.FloatingIPResource
	for _, r := range m.floatingIP {
		if r.UserID != userID {
			continue
		}
		if !includeReleased && r.ReleasedAt != nil {
			continue
		}
		out = append(out, cloneFloatingIP(r))
	}
	return out, nil
}

// ReleaseFloatingIP implements Store.
func (m *MemoryStore) ReleaseFloatingIP(ctx context.Context, resourceID string) (*models.FloatingIPResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.floatingIP[resourceID]
	if !ok {
		return nil, ErrNotFound
	}
	if r.ReleasedAt != nil {
		return cloneFloatingIP(r), nil
	}
	now := time.Now().UTC()
	r.ReleasedAt = &now
	r.Events = append(r.Events, models.EventEntry{EventID: m.nextEventID("evt-ip"), Time: now, Type: string(models.EventRelease)})
	return cloneFloatingIP(r), nil
}

// UpdateFloatingIPLastBilled implements Store.
func (m *MemoryStore) UpdateFloatingIPLastBilled(ctx context.Context, resourceID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.floatingIP[resourceID]
	if !ok {
		return ErrNotFound
	}
	r.LastBilledUntil = until
	return nil
}

// PutCompute seeds a fully-formed compute resource directly, bypassing
// the now-stamped Create/Update path. Tests use this to construct
// resources with specific historical timestamps.
func (m *MemoryStore) PutCompute(r *models.ComputeResource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.computes[r.ResourceID] = cloneCompute(r)
}

// PutDisk seeds a fully-formed disk resource directly.
func (m *MemoryStore) PutDisk(r *models.DiskResource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disks[r.ResourceID] = cloneDisk(r)
}

// PutFloatingIP seeds a fully-formed floating IP resource directly.
func (m *MemoryStore) PutFloatingIP(r *models.FloatingIPResource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.floatingIP[r.ResourceID] = cloneFloatingIP(r)
}

var _ Store = (*MemoryStore)(nil)
