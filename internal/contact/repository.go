package contact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store defines the interface for emergency contact persistence.
type Store interface {
	// Create persists a new contact and returns its generated ID. The first
	// contact a user creates becomes primary automatically.
	Create(ctx context.Context, c *EmergencyContact) (string, error)

	// ListByUser returns the user's contacts, primary first, then by
	// creation time.
	ListByUser(ctx context.Context, userID string) ([]*EmergencyContact, error)

	// Primary returns the user's primary contact, or ErrNoPrimary.
	Primary(ctx context.Context, userID string) (*EmergencyContact, error)

	// SetPrimary marks the contact as primary and demotes any other.
	SetPrimary(ctx context.Context, userID, contactID string) error

	// Delete removes a contact. Deleting the primary promotes the oldest
	// remaining contact.
	Delete(ctx context.Context, userID, contactID string) error
}

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a contact store on db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create persists a new contact, making it primary when the user has none.
func (s *PostgresStore) Create(ctx context.Context, c *EmergencyContact) (string, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}

	query := `
		INSERT INTO emergency_contacts (id, user_id, name, phone, relationship, is_primary)
		VALUES ($1, $2, $3, $4, $5,
			NOT EXISTS (SELECT 1 FROM emergency_contacts WHERE user_id = $2))
		RETURNING is_primary, created_at, updated_at`

	err := s.db.QueryRowContext(ctx, query,
		c.ID, c.UserID, c.Name, c.Phone, string(c.Relationship),
	).Scan(&c.Primary, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return "", fmt.Errorf("create emergency contact: %w", err)
	}
	return c.ID, nil
}

// ListByUser returns the user's contacts, primary first.
func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]*EmergencyContact, error) {
	query := `
		SELECT id, user_id, name, phone, relationship, is_primary, created_at, updated_at
		FROM emergency_contacts
		WHERE user_id = $1
		ORDER BY is_primary DESC, created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list emergency contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*EmergencyContact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan emergency contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// Primary returns the user's primary contact.
func (s *PostgresStore) Primary(ctx context.Context, userID string) (*EmergencyContact, error) {
	query := `
		SELECT id, user_id, name, phone, relationship, is_primary, created_at, updated_at
		FROM emergency_contacts
		WHERE user_id = $1 AND is_primary
		LIMIT 1`

	row := s.db.QueryRowContext(ctx, query, userID)
	c, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoPrimary
	}
	if err != nil {
		return nil, fmt.Errorf("get primary emergency contact: %w", err)
	}
	return c, nil
}

// SetPrimary marks contactID primary, demoting any other in one transaction.
func (s *PostgresStore) SetPrimary(ctx context.Context, userID, contactID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("set primary contact: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE emergency_contacts SET is_primary = FALSE, updated_at = NOW() WHERE user_id = $1 AND is_primary`,
		userID,
	); err != nil {
		return fmt.Errorf("demote primary contact: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE emergency_contacts SET is_primary = TRUE, updated_at = NOW() WHERE id = $1 AND user_id = $2`,
		contactID, userID,
	)
	if err != nil {
		return fmt.Errorf("promote primary contact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("promote primary contact: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// Delete removes the contact, promoting the oldest remaining one to primary
// when the deleted contact was primary.
func (s *PostgresStore) Delete(ctx context.Context, userID, contactID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete emergency contact: %w", err)
	}
	defer tx.Rollback()

	var wasPrimary bool
	err = tx.QueryRowContext(ctx,
		`DELETE FROM emergency_contacts WHERE id = $1 AND user_id = $2 RETURNING is_primary`,
		contactID, userID,
	).Scan(&wasPrimary)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete emergency contact: %w", err)
	}

	if wasPrimary {
		if _, err := tx.ExecContext(ctx, `
			UPDATE emergency_contacts SET is_primary = TRUE, updated_at = NOW()
			WHERE id = (
				SELECT id FROM emergency_contacts
				WHERE user_id = $1
				ORDER BY created_at ASC
				LIMIT 1
			)`, userID,
		); err != nil {
			return fmt.Errorf("promote replacement primary contact: %w", err)
		}
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (*EmergencyContact, error) {
	var c EmergencyContact
	var rel string
	if err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Phone, &rel, &c.Primary, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Relationship = Relationship(rel)
	return &c, nil
}

// InMemoryStore is an in-memory implementation of Store. Thread-safe via
// RWMutex.
type InMemoryStore struct {
	mu       sync.RWMutex
	contacts map[string]*EmergencyContact
	nowFunc  func() time.Time
}

// NewInMemoryStore creates an empty in-memory contact store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		contacts: make(map[string]*EmergencyContact),
		nowFunc:  time.Now,
	}
}

// SetNowFunc overrides the clock. Test hook.
func (s *InMemoryStore) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFunc = fn
}

// Create persists a new contact, making it primary when the user has none.
func (s *InMemoryStore) Create(_ context.Context, c *EmergencyContact) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := s.nowFunc()
	c.CreatedAt = now
	c.UpdatedAt = now

	c.Primary = true
	for _, existing := range s.contacts {
		if existing.UserID == c.UserID {
			c.Primary = false
			break
		}
	}

	cp := *c
	s.contacts[c.ID] = &cp
	return c.ID, nil
}

// ListByUser returns the user's contacts, primary first, then oldest first.
func (s *InMemoryStore) ListByUser(_ context.Context, userID string) ([]*EmergencyContact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var contacts []*EmergencyContact
	for _, c := range s.contacts {
		if c.UserID == userID {
			cp := *c
			contacts = append(contacts, &cp)
		}
	}
	sort.SliceStable(contacts, func(i, j int) bool {
		if contacts[i].Primary != contacts[j].Primary {
			return contacts[i].Primary
		}
		return contacts[i].CreatedAt.Before(contacts[j].CreatedAt)
	})
	return contacts, nil
}

// Primary returns the user's primary contact.
func (s *InMemoryStore) Primary(_ context.Context, userID string) (*EmergencyContact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.contacts {
		if c.UserID == userID && c.Primary {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNoPrimary
}

// SetPrimary marks contactID primary, demoting any other.
func (s *InMemoryStore) SetPrimary(_ context.Context, userID, contactID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.contacts[contactID]
	if !ok || target.UserID != userID {
		return ErrNotFound
	}

	now := s.nowFunc()
	for _, c := range s.contacts {
		if c.UserID == userID && c.Primary {
			c.Primary = false
			c.UpdatedAt = now
		}
	}
	target.Primary = true
	target.UpdatedAt = now
	return nil
}

// Delete removes the contact, promoting the oldest remaining one when the
// deleted contact was primary.
func (s *InMemoryStore) Delete(_ context.Context, userID, contactID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.contacts[contactID]
	if !ok || target.UserID != userID {
		return ErrNotFound
	}
	delete(s.contacts, contactID)

	if !target.Primary {
		return nil
	}
	var oldest *EmergencyContact
	for _, c := range s.contacts {
		if c.UserID != userID {
			continue
		}
		if oldest == nil || c.CreatedAt.Before(oldest.CreatedAt) {
			oldest = c
		}
	}
	if oldest != nil {
		oldest.Primary = true
		oldest.UpdatedAt = s.nowFunc()
	}
	return nil
}
