// Package seed ensures reference data and the bootstrap administrator exist.
// Every operation inserts only when the natural key is absent and never overwrites.
package seed

import (
	"context"
	"errors"
	"fmt"

	"github.com/platforma-dev/clinicdb/accounting"
	"github.com/platforma-dev/clinicdb/auth"
	"github.com/platforma-dev/clinicdb/log"
)

var (
	// ErrPlaintextCredential is returned when a user would be stored without a hashed password.
	ErrPlaintextCredential = errors.New("refusing to store a credential that is not a bcrypt hash")
	// ErrMissingAdmin is returned when the bootstrap administrator has no username or password.
	ErrMissingAdmin = errors.New("admin username and password are required")
)

// AdminRole is the role granted to the bootstrap administrator.
const AdminRole = "Admin"

// Record is one row identified by a unique natural key.
type Record struct {
	Table     string
	KeyColumn string
	KeyValue  any
	Payload   map[string]any
}

type store interface {
	InsertIfAbsent(ctx context.Context, table, keyColumn string, keyValue any, payload map[string]any) (bool, error)
	LookupID(ctx context.Context, table, keyColumn string, value any) (int64, error)
}

// Bootstrapper seeds rows through the connection pool. It must run after the
// migrations creating its tables have committed.
type Bootstrapper struct {
	store  store
	hasher auth.Hasher
}

// New returns a bootstrapper hashing passwords with hasher.
func New(store store, hasher auth.Hasher) *Bootstrapper {
	return &Bootstrapper{store: store, hasher: hasher}
}

// Ensure inserts the record unless a row with the same key exists.
func (b *Bootstrapper) Ensure(ctx context.Context, r Record) (bool, error) {
	created, err := b.store.InsertIfAbsent(ctx, r.Table, r.KeyColumn, r.KeyValue, r.Payload)
	if err != nil {
		return false, err
	}

	if created {
		log.InfoContext(ctx, "seed record created", "table", r.Table, r.KeyColumn, r.KeyValue)
	} else {
		log.DebugContext(ctx, "seed record present", "table", r.Table, r.KeyColumn, r.KeyValue)
	}
	return created, nil
}

func (b *Bootstrapper) ensureID(ctx context.Context, r Record) (int64, error) {
	if _, err := b.Ensure(ctx, r); err != nil {
		return 0, err
	}
	return b.store.LookupID(ctx, r.Table, r.KeyColumn, r.KeyValue)
}

// EnsureRole returns the id of the role, creating it if needed.
func (b *Bootstrapper) EnsureRole(ctx context.Context, name string) (int64, error) {
	return b.ensureRole(ctx, Role{Name: name})
}

func (b *Bootstrapper) ensureRole(ctx context.Context, role Role) (int64, error) {
	if role.Name == "" {
		return 0, errors.New("role name is empty")
	}

	id, err := b.ensureID(ctx, Record{
		Table:     "roles",
		KeyColumn: "name",
		KeyValue:  role.Name,
		Payload:   map[string]any{"description": role.Description},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to ensure role %q: %w", role.Name, err)
	}
	return id, nil
}

// EnsureAccount returns the id of the account with the given code, creating it if needed.
func (b *Bootstrapper) EnsureAccount(ctx context.Context, code, name, accountType string) (int64, error) {
	t, err := accounting.ParseAccountType(accountType)
	if err != nil {
		return 0, fmt.Errorf("failed to ensure account %s: %w", code, err)
	}

	id, err := b.ensureID(ctx, Record{
		Table:     "accounts",
		KeyColumn: "code",
		KeyValue:  code,
		Payload:   map[string]any{"name": name, "type": string(t)},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to ensure account %s: %w", code, err)
	}
	return id, nil
}

// EnsureUser returns the id of the user, creating it if needed. hashedPassword
// must be a bcrypt hash; an existing user keeps its current password.
func (b *Bootstrapper) EnsureUser(ctx context.Context, username, hashedPassword, fullName string, roleID int64) (int64, error) {
	if !auth.IsHash(hashedPassword) {
		return 0, fmt.Errorf("failed to ensure user %q: %w", username, ErrPlaintextCredential)
	}

	id, err := b.ensureID(ctx, Record{
		Table:     "users",
		KeyColumn: "username",
		KeyValue:  username,
		Payload:   map[string]any{"password": hashedPassword, "full_name": fullName, "role_id": roleID},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to ensure user %q: %w", username, err)
	}
	return id, nil
}

// Admin describes the bootstrap administrator. Password is plaintext and only
// ever reaches storage as a hash.
type Admin struct {
	Username string
	Password string
	FullName string
}

// Bootstrap seeds roles, the chart of accounts and the administrator. Each ensure
// runs on its own; failures are collected and earlier rows stay in place.
func (b *Bootstrapper) Bootstrap(ctx context.Context, defaults Defaults, admin Admin) error {
	var errs []error

	for _, role := range defaults.Roles {
		if _, err := b.ensureRole(ctx, role); err != nil {
			errs = append(errs, err)
		}
	}

	for _, account := range defaults.Accounts {
		if _, err := b.EnsureAccount(ctx, account.Code, account.Name, account.Type); err != nil {
			errs = append(errs, err)
		}
	}

	if err := b.bootstrapAdmin(ctx, admin); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (b *Bootstrapper) bootstrapAdmin(ctx context.Context, admin Admin) error {
	if admin.Username == "" || admin.Password == "" {
		return ErrMissingAdmin
	}

	roleID, err := b.EnsureRole(ctx, AdminRole)
	if err != nil {
		return err
	}

	hash, err := b.hasher.Hash(admin.Password)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	_, err = b.EnsureUser(ctx, admin.Username, hash, admin.FullName, roleID)
	return err
}
