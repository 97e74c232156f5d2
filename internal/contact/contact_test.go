package contact

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validContact(userID string) *EmergencyContact {
	return &EmergencyContact{
		UserID:       userID,
		Name:         "Asha Patel",
		Phone:        "+91 9876543210",
		Relationship: RelationshipFamily,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*EmergencyContact)
		wantErr string
	}{
		{name: "valid", mutate: func(*EmergencyContact) {}},
		{
			name:    "empty name",
			mutate:  func(c *EmergencyContact) { c.Name = "   " },
			wantErr: "name is required",
		},
		{
			name:    "phone too short",
			mutate:  func(c *EmergencyContact) { c.Phone = "12345" },
			wantErr: "phone",
		},
		{
			name:    "phone with letters",
			mutate:  func(c *EmergencyContact) { c.Phone = "98765abc10" },
			wantErr: "phone",
		},
		{
			name:    "country code too long",
			mutate:  func(c *EmergencyContact) { c.Phone = "+12345 9876543210" },
			wantErr: "phone",
		},
		{
			name:    "unknown relationship",
			mutate:  func(c *EmergencyContact) { c.Relationship = "colleague" },
			wantErr: "relationship",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validContact("user-1")
			tt.mutate(c)
			errs := c.Validate()
			if tt.wantErr == "" {
				assert.Empty(t, errs)
				return
			}
			require.NotEmpty(t, errs)
			assert.Contains(t, errs[0].Error(), tt.wantErr)
		})
	}
}

func TestPhoneFormats(t *testing.T) {
	valid := []string{
		"9876543210",
		"+919876543210",
		"+91 9876543210",
		"+91-9876543210",
		"1-9876543210",
	}
	for _, phone := range valid {
		c := validContact("user-1")
		c.Phone = phone
		assert.Empty(t, c.Validate(), "expected %q to be accepted", phone)
	}

	invalid := []string{
		"",
		"987654321",    // nine digits
		"98765432100",  // eleven digits
		"++9876543210", // double plus
	}
	for _, phone := range invalid {
		c := validContact("user-1")
		c.Phone = phone
		assert.NotEmpty(t, c.Validate(), "expected %q to be rejected", phone)
	}
}

func TestFirstContactBecomesPrimary(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	first := validContact("user-1")
	_, err := store.Create(ctx, first)
	require.NoError(t, err)
	assert.True(t, first.Primary)

	second := validContact("user-1")
	second.Name = "Ravi Patel"
	_, err = store.Create(ctx, second)
	require.NoError(t, err)
	assert.False(t, second.Primary)

	// A different user's first contact is independently primary.
	other := validContact("user-2")
	_, err = store.Create(ctx, other)
	require.NoError(t, err)
	assert.True(t, other.Primary)
}

func TestPrimaryLookup(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	_, err := store.Primary(ctx, "user-1")
	assert.ErrorIs(t, err, ErrNoPrimary)

	c := validContact("user-1")
	id, err := store.Create(ctx, c)
	require.NoError(t, err)

	got, err := store.Primary(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "+91 9876543210", got.Phone)
}

func TestSetPrimaryDemotesPrevious(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	a := validContact("user-1")
	_, err := store.Create(ctx, a)
	require.NoError(t, err)
	b := validContact("user-1")
	bID, err := store.Create(ctx, b)
	require.NoError(t, err)

	require.NoError(t, store.SetPrimary(ctx, "user-1", bID))

	got, err := store.Primary(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, bID, got.ID)

	contacts, err := store.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	primaries := 0
	for _, c := range contacts {
		if c.Primary {
			primaries++
		}
	}
	assert.Equal(t, 1, primaries, "exactly one primary per user")

	assert.ErrorIs(t, store.SetPrimary(ctx, "user-1", "missing"), ErrNotFound)
	assert.ErrorIs(t, store.SetPrimary(ctx, "other-user", bID), ErrNotFound)
}

func TestDeletePromotesOldest(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.SetNowFunc(func() time.Time {
		now = now.Add(time.Minute)
		return now
	})

	a := validContact("user-1")
	aID, err := store.Create(ctx, a)
	require.NoError(t, err)
	b := validContact("user-1")
	bID, err := store.Create(ctx, b)
	require.NoError(t, err)
	c := validContact("user-1")
	_, err = store.Create(ctx, c)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "user-1", aID))

	got, err := store.Primary(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, bID, got.ID, "oldest remaining contact becomes primary")

	assert.ErrorIs(t, store.Delete(ctx, "user-1", aID), ErrNotFound)
}

func TestListOrdering(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.SetNowFunc(func() time.Time {
		now = now.Add(time.Minute)
		return now
	})

	var ids []string
	for i := 0; i < 3; i++ {
		c := validContact("user-1")
		id, err := store.Create(ctx, c)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, store.SetPrimary(ctx, "user-1", ids[2]))

	contacts, err := store.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, contacts, 3)
	assert.Equal(t, ids[2], contacts[0].ID, "primary first")
	assert.Equal(t, ids[0], contacts[1].ID)
	assert.Equal(t, ids[1], contacts[2].ID)
}

func TestStoreReturnsCopies(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	c := validContact("user-1")
	_, err := store.Create(ctx, c)
	require.NoError(t, err)

	got, err := store.Primary(ctx, "user-1")
	require.NoError(t, err)
	got.Phone = "0000000000"

	again, err := store.Primary(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "+91 9876543210", again.Phone)
}
