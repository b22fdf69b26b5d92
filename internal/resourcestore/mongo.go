package resourcestore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/bhaijames252-sketch/billbillbill/internal/models"
)

const (
	computeCollection    = "compute_resources"
	diskCollection       = "disk_resources"
	floatingIPCollection = "floating_ip_resources"
)

// MongoStore is the production Store backed by MongoDB. Each resource type
// is its own collection; the event log lives inline on the resource
// document so a single point read returns both the projection and history.
type MongoStore struct {
	db *mongo.Database
}

// NewMongoStore wraps an already-connected database handle.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{db: db}
}

func (s *MongoStore) computes() *mongo.Collection    { return s.db.Collection(computeCollection) }
func (s *MongoStore) disks() *mongo.Collection       { return s.db.Collection(diskCollection) }
func (s *MongoStore) floatingIPs() *mongo.Collection { return s.db.Collection(floatingIPCollection) }

func newEventID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString()[:8])
}

// CreateCompute inserts a new compute resource with its initial "create"
// event. It returns ErrConflict, without mutating state, if resource_id is
// already in use — at-least-once queue replay is then safe to treat as
// success.
func (s *MongoStore) CreateCompute(ctx context.Context, resourceID, userID, flavor string) (*models.ComputeResource, error) {
	now := time.Now().UTC()
	resource := &models.ComputeResource{
		ResourceID:      resourceID,
		UserID:          userID,
		State:           models.ComputeStateRunning,
		CurrentFlavor:   flavor,
		CreatedAt:       now,
		LastBilledUntil: now,
		Events: []models.EventEntry{
			{EventID: newEventID("evt"), Time: now, Type: string(models.EventCreate), Meta: map[string]any{"flavor": flavor}},
		},
	}

	_, err := s.computes().InsertOne(ctx, resource)
	if mongo.IsDuplicateKeyError(err) {
		return nil, ErrConflict
	}
	if err != nil {
		existing, getErr := s.GetCompute(ctx, resourceID)
		if getErr == nil && existing != nil {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("insert compute resource: %w", err)
	}
	return resource, nil
}

// GetCompute fetches a compute resource by id.
func (s *MongoStore) GetCompute(ctx context.Context, resourceID string) (*models.ComputeResource, error) {
	var resource models.ComputeResource
	err := s.computes().FindOne(ctx, bson.M{"resource_id": resourceID}).Decode(&resource)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &resource, nil
}

// GetUserComputes lists a user's compute resources, including deleted ones
// when includeDeleted is set — billing needs the full history to compute
// partial-period charges for recently deleted resources.
func (s *MongoStore) GetUserComputes(ctx context.Context, userID string, includeDeleted bool) ([]*models.ComputeResource, error) {
	filter := bson.M{"user_id": userID}
	if !includeDeleted {
		filter["deleted_at"] = nil
	}
	cur, err := s.computes().Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*models.ComputeResource
	for cur.Next(ctx) {
		var r models.ComputeResource
		if err := cur.Decode(&r); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, cur.Err()
}

// UpdateCompute applies a state and/or flavor change, appending the
// corresponding event. A state of "deleted" stamps deleted_at and is
// monotonic: once set it is never cleared by a later update.
func (s *MongoStore) UpdateCompute(ctx context.Context, resourceID string, state, flavor *string) (*models.ComputeResource, error) {
	existing, err := s.GetCompute(ctx, resourceID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	set := bson.M{}
	event := models.EventEntry{EventID: newEventID("evt"), Time: now}

	if state != nil && *state != "" {
		set["state"] = *state
		event.Type = *state
		if *state == models.ComputeStateDeleted && existing.DeletedAt == nil {
			set["deleted_at"] = now
		}
	}

	if flavor != nil && *flavor != "" {
		set["current_flavor"] = *flavor
		event.Type = string(models.EventResize)
		event.Meta = map[string]any{"flavor": *flavor}
	}

	if len(set) == 0 {
		return existing, nil
	}

	_, err = s.computes().UpdateOne(ctx,
		bson.M{"resource_id": resourceID},
		bson.M{"$set": set, "$push": bson.M{"events": event}},
	)
	if err != nil {
		return nil, fmt.Errorf("update compute resource: %w", err)
	}
	return s.GetCompute(ctx, resourceID)
}

// DeleteCompute marks a compute resource deleted. Idempotent: deleting an
// already-deleted resource is a no-op success.
func (s *MongoStore) DeleteCompute(ctx context.Context, resourceID string) (*models.ComputeResource, error) {
	existing, err := s.GetCompute(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if existing.DeletedAt != nil {
		return existing, nil
	}
	deleted := models.ComputeStateDeleted
	return s.UpdateCompute(ctx, resourceID, &deleted, nil)
}

// UpdateComputeLastBilled advances the billing cursor. Callers (the billing
// engine) must never move this backward.
func (s *MongoStore) UpdateComputeLastBilled(ctx context.Context, resourceID string, until time.Time) error {
	_, err := s.computes().UpdateOne(ctx,
		bson.M{"resource_id": resourceID},
		bson.M{"$set": bson.M{"last_billed_until": until}},
	)
	return err
}

// CreateDisk inserts a new disk resource with its initial "create" event.
func (s *MongoStore) CreateDisk(ctx context.Context, resourceID, userID string, sizeGB int) (*models.DiskResource, error) {
	now := time.Now().UTC()
	resource := &models.DiskResource{
		ResourceID:      resourceID,
		UserID:          userID,
		SizeGB:          sizeGB,
		State:           models.DiskStateDetached,
		CreatedAt:       now,
		LastBilledUntil: now,
		Events: []models.EventEntry{
			{EventID: newEventID("evt_d"), Time: now, Type: string(models.EventCreate), Meta: map[string]any{"size_gb": sizeGB}},
		},
	}
	_, err := s.disks().InsertOne(ctx, resource)
	if mongo.IsDuplicateKeyError(err) {
		return nil, ErrConflict
	}
	if err != nil {
		existing, getErr := s.GetDisk(ctx, resourceID)
		if getErr == nil && existing != nil {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("insert disk resource: %w", err)
	}
	return resource, nil
}

// GetDisk fetches a disk resource by id.
func (s *MongoStore) GetDisk(ctx context.Context, resourceID string) (*models.DiskResource, error) {
	var resource models.DiskResource
	err := s.disks().FindOne(ctx, bson.M{"resource_id": resourceID}).Decode(&resource)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &resource, nil
}

// GetUserDisks lists a user's disk resources.
func (s *MongoStore) GetUserDisks(ctx context.Context, userID string, includeDeleted bool) ([]*models.DiskResource, error) {
	filter := bson.M{"user_id": userID}
	if !includeDeleted {
		filter["deleted_at"] = nil
	}
	cur, err := s.disks().Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*models.DiskResource
	for cur.Next(ctx) {
		var r models.DiskResource
		if err := cur.Decode(&r); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, cur.Err()
}

// UpdateDisk applies a state and/or size change. Attach/detach events are
// recorded for operational visibility but never affect billing, which
// charges by size x duration only.
func (s *MongoStore) UpdateDisk(ctx context.Context, resourceID string, state *string, sizeGB *int) (*models.DiskResource, error) {
	existing, err := s.GetDisk(ctx, resourceID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	set := bson.M{}
	event := models.EventEntry{EventID: newEventID("evt_d"), Time: now}

	if state != nil && *state == models.DiskStateDeleted && existing.DeletedAt == nil {
		set["state"] = models.DiskStateDeleted
		set["deleted_at"] = now
		event.Type = "deleted"
	} else if state != nil && *state != "" {
		set["state"] = *state
		event.Type = *state
	}

	if sizeGB != nil && *sizeGB != existing.SizeGB {
		set["size_gb"] = *sizeGB
		event.Type = string(models.EventResize)
		event.Meta = map[string]any{"size_gb": *sizeGB}
	}

	if len(set) == 0 {
		return existing, nil
	}

	_, err = s.disks().UpdateOne(ctx,
		bson.M{"resource_id": resourceID},
		bson.M{"$set": set, "$push": bson.M{"events": event}},
	)
	if err != nil {
		return nil, fmt.Errorf("update disk resource: %w", err)
	}
	return s.GetDisk(ctx, resourceID)
}

// DeleteDisk marks a disk deleted. Idempotent.
func (s *MongoStore) DeleteDisk(ctx context.Context, resourceID string) (*models.DiskResource, error) {
	existing, err := s.GetDisk(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if existing.DeletedAt != nil {
		return existing, nil
	}
	deleted := models.DiskStateDeleted
	return s.UpdateDisk(ctx, resourceID, &deleted, nil)
}

// UpdateDiskLastBilled advances the billing cursor.
func (s *MongoStore) UpdateDiskLastBilled(ctx context.Context, resourceID string, until time.Time) error {
	_, err := s.disks().UpdateOne(ctx,
		bson.M{"resource_id": resourceID},
		bson.M{"$set": bson.M{"last_billed_until": until}},
	)
	return err
}

// CreateFloatingIP inserts a new floating IP resource with an "allocate" event.
func (s *MongoStore) CreateFloatingIP(ctx context.Context, resourceID, userID, ipAddress string) (*models.FloatingIPResource, error) {
	now := time.Now().UTC()
	resource := &models.FloatingIPResource{
		ResourceID:      resourceID,
		UserID:          userID,
		IPAddress:       ipAddress,
		CreatedAt:       now,
		LastBilledUntil: now,
		Events: []models.EventEntry{
			{EventID: newEventID("evt_ip"), Time: now, Type: string(models.EventAllocate)},
		},
	}
	_, err := s.floatingIPs().InsertOne(ctx, resource)
	if mongo.IsDuplicateKeyError(err) {
		return nil, ErrConflict
	}
	if err != nil {
		existing, getErr := s.GetFloatingIP(ctx, resourceID)
		if getErr == nil && existing != nil {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("insert floating ip resource: %w", err)
	}
	return resource, nil
}

// GetFloatingIP fetches a floating IP resource by id.
func (s *MongoStore) GetFloatingIP(ctx context.Context, resourceID string) (*models.FloatingIPResource, error) {
	var resource models.FloatingIPResource
	err := s.floatingIPs().FindOne(ctx, bson.M{"resource_id": resourceID}).Decode(&resource)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &resource, nil
}

// GetUserFloatingIPs lists a user's floating IPs.
func (s *MongoStore) GetUserFloatingIPs(ctx context.Context, userID string, includeReleased bool) ([]*models.FloatingIPResource, error) {
	filter := bson.M{"user_id": userID}
	if !includeReleased {
		filter["released_at"] = nil
	}
	cur, err := s.floatingIPs().Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*models.FloatingIPResource
	for cur.Next(ctx) {
		var r models.FloatingIPResource
		if err := cur.Decode(&r); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, cur.Err()
}

// ReleaseFloatingIP marks a floating IP released. Idempotent.
func (s *MongoStore) ReleaseFloatingIP(ctx context.Context, resourceID string) (*models.FloatingIPResource, error) {
	existing, err := s.GetFloatingIP(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if existing.ReleasedAt != nil {
		return existing, nil
	}

	now := time.Now().UTC()
	event := models.EventEntry{EventID: newEventID("evt_ip"), Time: now, Type: string(models.EventRelease)}
	_, err = s.floatingIPs().UpdateOne(ctx,
		bson.M{"resource_id": resourceID},
		bson.M{"$set": bson.M{"released_at": now}, "$push": bson.M{"events": event}},
	)
	if err != nil {
		return nil, fmt.Errorf("release floating ip: %w", err)
	}
	return s.GetFloatingIP(ctx, resourceID)
}

// UpdateFloatingIPLastBilled advances the billing cursor.
func (s *MongoStore) UpdateFloatingIPLastBilled(ctx context.Context, resourceID string, until time.Time) error {
	_, err := s.floatingIPs().UpdateOne(ctx,
		bson.M{"resource_id": resourceID},
		bson.M{"$set": bson.M{"last_billed_until": until}},
	)
	return err
}

// EnsureIndexes creates the unique resource_id indexes relied on by Create's
// conflict detection and the per-user lookup indexes.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	specs := []struct {
		collection string
		keys       bson.D
		unique     bool
	}{
		{computeCollection, bson.D{{Key: "resource_id", Value: 1}}, true},
		{computeCollection, bson.D{{Key: "user_id", Value: 1}}, false},
		{diskCollection, bson.D{{Key: "resource_id", Value: 1}}, true},
		{diskCollection, bson.D{{Key: "user_id", Value: 1}}, false},
		{floatingIPCollection, bson.D{{Key: "resource_id", Value: 1}}, true},
		{floatingIPCollection, bson.D{{Key: "user_id", Value: 1}}, false},
	}

	for _, spec := range specs {
		idx := mongo.IndexModel{Keys: spec.keys}
		if spec.unique {
			idx.Options = options.Index().SetUnique(true)
		}
		if _, err := db.Collection(spec.collection).Indexes().CreateOne(ctx, idx); err != nil {
			return fmt.Errorf("create index on %s: %w", spec.collection, err)
		}
	}
	return nil
}
