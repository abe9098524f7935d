package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sakif/propability/internal/apperror"
	"github.com/sakif/propability/internal/model"
)

func newTestCuttingDB(t *testing.T) (*CuttingDB, *model.User) {
	t.Helper()
	db := newTestDB(t)
	owner := createTestUser(t, db.Users(), "owner@example.com")
	return db.Cuttings(), owner
}

func createTestCutting(t *testing.T, c *CuttingDB, ownerID, nickname string, createdAt time.Time) *model.Cutting {
	t.Helper()
	cutting := &model.Cutting{
		OwnerID:      ownerID,
		Nickname:     nickname,
		ImageURL:     "https://blobs.example.com/" + ownerID + "/photo.jpg",
		SuccessRate:  72,
		HealthStatus: "Healthy",
		Species:      "Pothos",
		Feedback:     "Visible root nodes.",
		CreatedAt:    createdAt,
	}
	if err := c.Create(context.Background(), cutting); err != nil {
		t.Fatalf("failed to create test cutting: %v", err)
	}
	return cutting
}

// =========================================================================
// CREATE TESTS
// =========================================================================

func TestCuttingCreate(t *testing.T) {
	c, owner := newTestCuttingDB(t)

	cutting := &model.Cutting{
		OwnerID:      owner.ID,
		Nickname:     "Experiment #12",
		ImageURL:     "https://blobs.example.com/a.jpg",
		SuccessRate:  85,
		HealthStatus: "Healthy",
	}
	if err := c.Create(context.Background(), cutting); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if cutting.ID == "" {
		t.Error("Create() did not set ID")
	}
	if cutting.CreatedAt.IsZero() {
		t.Error("Create() did not set CreatedAt")
	}
	if cutting.Species != model.DefaultSpecies {
		t.Errorf("Species = %q, want %q", cutting.Species, model.DefaultSpecies)
	}
}

func TestCuttingCreate_RejectsOutOfRangeRate(t *testing.T) {
	c, owner := newTestCuttingDB(t)

	err := c.Create(context.Background(), &model.Cutting{
		OwnerID:     owner.ID,
		Nickname:    "bad",
		ImageURL:    "https://blobs.example.com/b.jpg",
		SuccessRate: 140,
	})
	if err == nil {
		t.Fatal("Create() should reject a success rate above 100")
	}
}

func TestCuttingCreate_UnknownOwner(t *testing.T) {
	c, _ := newTestCuttingDB(t)

	err := c.Create(context.Background(), &model.Cutting{
		OwnerID:  "no-such-user",
		Nickname: "orphan",
		ImageURL: "https://blobs.example.com/c.jpg",
	})
	if err == nil {
		t.Fatal("Create() should fail the foreign key check for an unknown owner")
	}
}

// =========================================================================
// GET / LIST TESTS
// =========================================================================

func TestCuttingGetByID(t *testing.T) {
	c, owner := newTestCuttingDB(t)
	created := createTestCutting(t, c, owner.ID, "Experiment #1", time.Time{})

	found, err := c.GetByID(context.Background(), owner.ID, created.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}

	if found.Nickname != "Experiment #1" {
		t.Errorf("Nickname = %q, want %q", found.Nickname, "Experiment #1")
	}
	if found.SuccessRate != 72 {
		t.Errorf("SuccessRate = %d, want 72", found.SuccessRate)
	}
	if found.Feedback != "Visible root nodes." {
		t.Errorf("Feedback = %q", found.Feedback)
	}
	if !found.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", found.CreatedAt, created.CreatedAt)
	}
}

func TestCuttingGetByID_OtherOwnerIsNotFound(t *testing.T) {
	db := newTestDB(t)
	alice := createTestUser(t, db.Users(), "alice@example.com")
	bob := createTestUser(t, db.Users(), "bob@example.com")
	c := db.Cuttings()
	created := createTestCutting(t, c, alice.ID, "mine", time.Time{})

	_, err := c.GetByID(context.Background(), bob.ID, created.ID)

	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
}

func TestCuttingListByOwner_NewestFirst(t *testing.T) {
	c, owner := newTestCuttingDB(t)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	createTestCutting(t, c, owner.ID, "oldest", base)
	createTestCutting(t, c, owner.ID, "newest", base.Add(48*time.Hour))
	createTestCutting(t, c, owner.ID, "middle", base.Add(24*time.Hour+500*time.Millisecond))

	list, err := c.ListByOwner(context.Background(), owner.ID)
	if err != nil {
		t.Fatalf("ListByOwner() error = %v", err)
	}

	want := []string{"newest", "middle", "oldest"}
	if len(list) != len(want) {
		t.Fatalf("ListByOwner() returned %d rows, want %d", len(list), len(want))
	}
	for i, name := range want {
		if list[i].Nickname != name {
			t.Errorf("list[%d].Nickname = %q, want %q", i, list[i].Nickname, name)
		}
	}
}

func TestCuttingListByOwner_ScopedToOwner(t *testing.T) {
	db := newTestDB(t)
	alice := createTestUser(t, db.Users(), "alice@example.com")
	bob := createTestUser(t, db.Users(), "bob@example.com")
	c := db.Cuttings()
	createTestCutting(t, c, alice.ID, "alice-1", time.Time{})
	createTestCutting(t, c, bob.ID, "bob-1", time.Time{})

	list, err := c.ListByOwner(context.Background(), alice.ID)
	if err != nil {
		t.Fatalf("ListByOwner() error = %v", err)
	}
	if len(list) != 1 || list[0].OwnerID != alice.ID {
		t.Errorf("ListByOwner() = %+v, want only alice's cutting", list)
	}
}

func TestCuttingListByOwner_Empty(t *testing.T) {
	c, owner := newTestCuttingDB(t)

	list, err := c.ListByOwner(context.Background(), owner.ID)
	if err != nil {
		t.Fatalf("ListByOwner() error = %v", err)
	}
	if list == nil {
		t.Error("ListByOwner() returned nil, want an empty slice")
	}
}

// =========================================================================
// UPDATE / DELETE TESTS
// =========================================================================

func TestCuttingUpdateNickname(t *testing.T) {
	c, owner := newTestCuttingDB(t)
	created := createTestCutting(t, c, owner.ID, "Experiment #5", time.Time{})

	updated, err := c.UpdateNickname(context.Background(), owner.ID, created.ID, "Kitchen Pothos")
	if err != nil {
		t.Fatalf("UpdateNickname() error = %v", err)
	}

	if updated.Nickname != "Kitchen Pothos" {
		t.Errorf("Nickname = %q, want %q", updated.Nickname, "Kitchen Pothos")
	}
	if updated.SuccessRate != created.SuccessRate {
		t.Errorf("SuccessRate changed to %d", updated.SuccessRate)
	}
}

func TestCuttingUpdateNickname_NotFound(t *testing.T) {
	c, owner := newTestCuttingDB(t)

	_, err := c.UpdateNickname(context.Background(), owner.ID, "missing", "x")

	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("UpdateNickname() error = %v, want ErrNotFound", err)
	}
}

func TestCuttingDelete(t *testing.T) {
	c, owner := newTestCuttingDB(t)
	created := createTestCutting(t, c, owner.ID, "to delete", time.Time{})

	if err := c.Delete(context.Background(), owner.ID, created.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	_, err := c.GetByID(context.Background(), owner.ID, created.ID)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByID() after Delete error = %v, want ErrNotFound", err)
	}
}

func TestCuttingDelete_NotFound(t *testing.T) {
	c, owner := newTestCuttingDB(t)

	err := c.Delete(context.Background(), owner.ID, "missing")

	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Delete() error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// MIGRATION TESTS
// =========================================================================

func TestMigrateUp_Idempotent(t *testing.T) {
	db := newTestDB(t)

	if err := db.MigrateUp(); err != nil {
		t.Errorf("second MigrateUp() error = %v, want nil", err)
	}
}
