package billing

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/bhaijames252-sketch/billbillbill/internal/models"
)

// ErrBillNotFound is returned when no bill matches the given bill_id.
var ErrBillNotFound = errors.New("bill not found")

const billingCyclesCollection = "billing_cycles"

// BillStore persists bills across the two-phase settlement in Step 7:
// insert pending, then flip to success/paid or failed.
type BillStore interface {
	InsertBill(ctx context.Context, bill *models.Bill) error
	UpdateBillStatus(ctx context.Context, billID string, status models.BillStatus, paid bool) error
	GetBill(ctx context.Context, billID string) (*models.Bill, error)
	GetUserBills(ctx context.Context, userID string) ([]*models.Bill, error)
}

// MongoBillStore is the production BillStore, backed by the
// billing_cycles collection.
type MongoBillStore struct {
	collection *mongo.Collection
}

// NewMongoBillStore wraps an already-connected database handle.
func NewMongoBillStore(db *mongo.Database) *MongoBillStore {
	return &MongoBillStore{collection: db.Collection(billingCyclesCollection)}
}

// InsertBill persists a new bill document.
func (s *MongoBillStore) InsertBill(ctx context.Context, bill *models.Bill) error {
	_, err := s.collection.InsertOne(ctx, bill)
	if err != nil {
		return fmt.Errorf("insert bill: %w", err)
	}
	return nil
}

// UpdateBillStatus flips a bill's status and paid flag.
func (s *MongoBillStore) UpdateBillStatus(ctx context.Context, billID string, status models.BillStatus, paid bool) error {
	_, err := s.collection.UpdateOne(ctx,
		bson.M{"bill_id": billID},
		bson.M{"$set": bson.M{"status": status, "paid": paid}},
	)
	if err != nil {
		return fmt.Errorf("update bill status: %w", err)
	}
	return nil
}

// GetBill fetches a bill by bill_id.
func (s *MongoBillStore) GetBill(ctx context.Context, billID string) (*models.Bill, error) {
	var bill models.Bill
	err := s.collection.FindOne(ctx, bson.M{"bill_id": billID}).Decode(&bill)
	if err == mongo.ErrNoDocuments {
		return nil, ErrBillNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch bill: %w", err)
	}
	return &bill, nil
}

// GetUserBills lists every bill for a user, most recent first.
func (s *MongoBillStore) GetUserBills(ctx context.Context, userID string) ([]*models.Bill, error) {
	cur, err := s.collection.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("list bills: %w", err)
	}
	defer cur.Close(ctx)

	var out []*models.Bill
	for cur.Next(ctx) {
		var b models.Bill
		if err := cur.Decode(&b); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, cur.Err()
}
