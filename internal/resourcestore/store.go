// Package resourcestore is the durable, event-sourced record of every
// compute instance, disk, and floating IP a user owns. Every mutation
// appends an event to the resource's log atomically with the projection
// update; billing always rebuilds charges from the event log, never from
// the projection alone.
package resourcestore

import (
	"context"
	"errors"
	"time"

	"github.com/bhaijames252-sketch/billbillbill/internal/models"
)

// ErrNotFound is returned when a resource_id has no matching document.
var ErrNotFound = errors.New("resource not found")

// ErrConflict is returned by Create when the resource_id already exists.
// Callers processing at-least-once queue deliveries should treat this as a
// successful, idempotent no-op rather than an error.
var ErrConflict = errors.New("resource already exists")

// Store is the authoritative projection + event log for every resource
// type. The consumer is its sole writer; the billing engine is its sole
// reader of historical state.
type Store interface {
	CreateCompute(ctx context.Context, resourceID, userID, flavor string) (*models.ComputeResource, error)
	GetCompute(ctx context.Context, resourceID string) (*models.ComputeResource, error)
	GetUserComputes(ctx context.Context, userID string, includeDeleted bool) ([]*models.ComputeResource, error)
	UpdateCompute(ctx context.Context, resourceID string, state, flavor *string) (*models.ComputeResource, error)
	DeleteCompute(ctx context.Context, resourceID string) (*models.ComputeResource, error)
	UpdateComputeLastBilled(ctx context.Context, resourceID string, until time.Time) error

	CreateDisk(ctx context.Context, resourceID, userID string, sizeGB int) (*models.DiskResource, error)
	GetDisk(ctx context.Context, resourceID string) (*models.DiskResource, error)
	GetUserDisks(ctx context.Context, userID string, includeDeleted bool) ([]*models.DiskResource, error)
	UpdateDisk(ctx context.Context, resourceID string, state *string, sizeGB *int) (*models.DiskResource, error)
	DeleteDisk(ctx context.Context, resourceID string) (*models.DiskResource, error)
	UpdateDiskLastBilled(ctx context.Context, resourceID string, until time.Time) error

	CreateFloatingIP(ctx context.Context, resourceID, userID, ipAddress string) (*models.FloatingIPResource, error)
	GetFloatingIP(ctx context.Context, resourceID string) (*models.FloatingIPResource, error)
	GetUserFloatingIPs(ctx context.Context, userID string, includeReleased bool) ([]*models.FloatingIPResource, error)
	ReleaseFloatingIP(ctx context.Context, resourceID string) (*models.FloatingIPResource, error)
	UpdateFloatingIPLastBilled(ctx context.Context, resourceID string, until time.Time) error
}
