package service_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/atinyakov/podsync/internal/models"
	"github.com/atinyakov/podsync/internal/service"
)

func tsPtrT(v models.Timestamp) *models.Timestamp { return &v }

func TestSubscriptionChanges_Partition(t *testing.T) {
	store := &mockStore{
		SubscriptionsFunc: func(ctx context.Context, username, device string, since models.Timestamp) ([]models.Subscription, error) {
			if since != 150 {
				t.Errorf("since = %d; want 150", since)
			}
			return []models.Subscription{
				{URL: "http://example.com/a.xml", Created: 200},
				{URL: "http://example.com/b.xml", Created: 100, Deleted: tsPtrT(180)},
				{URL: "http://example.com/c.xml", Created: 300},
			}, nil
		},
	}
	svc := service.NewSubscriptionService(store, zap.NewNop())

	changes, err := svc.Changes(context.Background(), "bob", "phone", 150)
	if err != nil {
		t.Fatalf("Changes returned error: %v", err)
	}
	if want := []string{"http://example.com/a.xml", "http://example.com/c.xml"}; !reflect.DeepEqual(changes.Add, want) {
		t.Errorf("Add = %v; want %v", changes.Add, want)
	}
	if want := []string{"http://example.com/b.xml"}; !reflect.DeepEqual(changes.Remove, want) {
		t.Errorf("Remove = %v; want %v", changes.Remove, want)
	}
	if changes.Timestamp != 300 {
		t.Errorf("Timestamp = %d; want 300", changes.Timestamp)
	}
}

func TestSubscriptionChanges_RemovalSupersedesAdd(t *testing.T) {
	// A row created and tombstoned after the cursor shows up only as removed.
	store := &mockStore{
		SubscriptionsFunc: func(ctx context.Context, username, device string, since models.Timestamp) ([]models.Subscription, error) {
			return []models.Subscription{
				{URL: "http://example.com/a.xml", Created: 200, Deleted: tsPtrT(250)},
			}, nil
		},
	}
	svc := service.NewSubscriptionService(store, zap.NewNop())

	changes, err := svc.Changes(context.Background(), "bob", "phone", 100)
	if err != nil {
		t.Fatalf("Changes returned error: %v", err)
	}
	if len(changes.Add) != 0 {
		t.Errorf("Add = %v; want empty", changes.Add)
	}
	if want := []string{"http://example.com/a.xml"}; !reflect.DeepEqual(changes.Remove, want) {
		t.Errorf("Remove = %v; want %v", changes.Remove, want)
	}
}

func TestSubscriptionChanges_EmptyAdvancesCursor(t *testing.T) {
	store := &mockStore{
		SubscriptionsFunc: func(ctx context.Context, username, device string, since models.Timestamp) ([]models.Subscription, error) {
			return nil, nil
		},
	}
	svc := service.NewSubscriptionService(store, zap.NewNop())

	before := models.Now()
	changes, err := svc.Changes(context.Background(), "bob", "phone", 9999)
	if err != nil {
		t.Fatalf("Changes returned error: %v", err)
	}
	if changes.Timestamp < before {
		t.Errorf("Timestamp = %d; want current time >= %d", changes.Timestamp, before)
	}
	if changes.Add == nil || changes.Remove == nil {
		t.Error("Add and Remove should be empty slices, not nil, for JSON clients")
	}
}

func TestSubscriptionApply(t *testing.T) {
	var gotAdd, gotRemove []string
	var gotNow models.Timestamp
	store := &mockStore{
		ApplySubscriptionChangesFunc: func(ctx context.Context, username, device string, add, remove []string, now models.Timestamp) error {
			gotAdd, gotRemove, gotNow = add, remove, now
			return nil
		},
	}
	svc := service.NewSubscriptionService(store, zap.NewNop())

	applied, err := svc.Apply(context.Background(), "bob", "phone",
		[]string{"http://example.com/a.xml", "http://example.com/b.xml"},
		[]string{"http://example.com/c.xml"}, 500)
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if !reflect.DeepEqual(gotAdd, []string{"http://example.com/a.xml", "http://example.com/b.xml"}) {
		t.Errorf("store received add = %v", gotAdd)
	}
	if !reflect.DeepEqual(gotRemove, []string{"http://example.com/c.xml"}) {
		t.Errorf("store received remove = %v", gotRemove)
	}
	if gotNow != 500 {
		t.Errorf("store received now = %d; want 500", gotNow)
	}
	if applied.Timestamp != 500 {
		t.Errorf("Timestamp = %d; want 500", applied.Timestamp)
	}
	want := [][2]string{
		{"http://example.com/a.xml", "http://example.com/a.xml"},
		{"http://example.com/b.xml", "http://example.com/b.xml"},
	}
	if !reflect.DeepEqual(applied.UpdateURLs, want) {
		t.Errorf("UpdateURLs = %v; want %v", applied.UpdateURLs, want)
	}
}

func TestSubscriptionApply_EmptyURL(t *testing.T) {
	store := &mockStore{
		ApplySubscriptionChangesFunc: func(ctx context.Context, username, device string, add, remove []string, now models.Timestamp) error {
			t.Fatal("store must not be touched for invalid input")
			return nil
		},
	}
	svc := service.NewSubscriptionService(store, zap.NewNop())

	if _, err := svc.Apply(context.Background(), "bob", "phone", []string{""}, nil, 500); !errors.Is(err, service.ErrBadRequest) {
		t.Errorf("empty add url error = %v; want ErrBadRequest", err)
	}
	if _, err := svc.Apply(context.Background(), "bob", "phone", nil, []string{""}, 500); !errors.Is(err, service.ErrBadRequest) {
		t.Errorf("empty remove url error = %v; want ErrBadRequest", err)
	}
}

func TestSubscriptionApply_StoreFailure(t *testing.T) {
	store := &mockStore{
		ApplySubscriptionChangesFunc: func(ctx context.Context, username, device string, add, remove []string, now models.Timestamp) error {
			return errors.New("deadlock detected")
		},
	}
	svc := service.NewSubscriptionService(store, zap.NewNop())

	if _, err := svc.Apply(context.Background(), "bob", "phone", []string{"http://example.com/a.xml"}, nil, 500); !errors.Is(err, service.ErrInternal) {
		t.Errorf("error = %v; want ErrInternal", err)
	}
}
