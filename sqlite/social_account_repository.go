package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"go.pilab.hu/sociallink/domain"
)

// Constraint names from the schema.
const (
	ConstraintProviderIdentity = "social_accounts_table_provider_provider_uid_key"
	ConstraintOwnerProvider    = "social_accounts_table_foreign_id_provider_key"
)

const selectColumns = `id, "table", foreign_id, provider, provider_uid, provider_username, user_profile, created_at, updated_at`

// SocialAccountRepository stores links in the social_accounts table.
type SocialAccountRepository struct {
	db *sql.DB
}

// NewSocialAccountRepository creates a repository over db.
func NewSocialAccountRepository(db *sql.DB) *SocialAccountRepository {
	return &SocialAccountRepository{db: db}
}

func (r *SocialAccountRepository) FindByOwnerAndProvider(ctx context.Context, ownerType, ownerID, provider string) (*domain.SocialAccount, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM social_accounts WHERE "table" = ? AND foreign_id = ? AND provider = ?`,
		ownerType, ownerID, provider,
	)
	return scanOne(row)
}

func (r *SocialAccountRepository) FindByProviderIdentity(ctx context.Context, ownerType, provider, providerUID string) (*domain.SocialAccount, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM social_accounts WHERE "table" = ? AND provider = ? AND provider_uid = ?`,
		ownerType, provider, providerUID,
	)
	return scanOne(row)
}

func (r *SocialAccountRepository) ListByOwner(ctx context.Context, ownerType, ownerID string) ([]*domain.SocialAccount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM social_accounts WHERE "table" = ? AND foreign_id = ? ORDER BY id`,
		ownerType, ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.SocialAccount
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

func (r *SocialAccountRepository) Insert(ctx context.Context, account *domain.SocialAccount) error {
	rec := account.Record()
	profile, err := encodeProfile(rec.Profile)
	if err != nil {
		return &domain.PersistenceError{Op: "insert", Err: err}
	}

	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO social_accounts ("table", foreign_id, provider, provider_uid, provider_username, user_profile, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.OwnerType, rec.OwnerID, rec.Provider, rec.ProviderUID,
		nullString(rec.ProviderUsername), profile, formatTime(now), formatTime(now),
	)
	if err != nil {
		return mapError("insert", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return &domain.PersistenceError{Op: "insert", Err: err}
	}
	return account.MarkPersisted(id, now, now)
}

func (r *SocialAccountRepository) Update(ctx context.Context, account *domain.SocialAccount) error {
	rec := account.Record()
	profile, err := encodeProfile(rec.Profile)
	if err != nil {
		return &domain.PersistenceError{Op: "update", Err: err}
	}

	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE social_accounts
		SET provider_uid = ?, provider_username = ?, user_profile = ?, updated_at = ?
		WHERE id = ?`,
		rec.ProviderUID, nullString(rec.ProviderUsername), profile, formatTime(now), rec.ID,
	)
	if err != nil {
		return mapError("update", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &domain.PersistenceError{Op: "update", Err: domain.ErrNotLinked}
	}
	return account.MarkPersisted(rec.ID, rec.CreatedAt, now)
}

func (r *SocialAccountRepository) Delete(ctx context.Context, account *domain.SocialAccount) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM social_accounts WHERE id = ?`, account.ID())
	if err != nil {
		return mapError("delete", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &domain.PersistenceError{Op: "delete", Err: domain.ErrNotLinked}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOne(row scanner) (*domain.SocialAccount, error) {
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return acc, err
}

func scanAccount(row scanner) (*domain.SocialAccount, error) {
	var (
		rec       domain.SocialAccountRecord
		username  sql.NullString
		profile   sql.NullString
		createdAt string
		updatedAt sql.NullString
	)
	if err := row.Scan(
		&rec.ID, &rec.OwnerType, &rec.OwnerID, &rec.Provider, &rec.ProviderUID,
		&username, &profile, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	rec.ProviderUsername = username.String

	var err error
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if updatedAt.Valid {
		if rec.UpdatedAt, err = parseTime(updatedAt.String); err != nil {
			return nil, err
		}
	}
	if rec.Profile, err = domain.DecodeProfile([]byte(profile.String)); err != nil {
		return nil, err
	}
	return domain.RestoreSocialAccount(rec), nil
}

func mapError(op string, err error) error {
	if isUniqueViolation(err) {
		return domain.NewConflictError(op, constraintName(err), err)
	}
	return &domain.PersistenceError{Op: op, Err: err}
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// SQLite reports the violated columns rather than the constraint name.
func constraintName(err error) string {
	if strings.Contains(err.Error(), "provider_uid") {
		return ConstraintProviderIdentity
	}
	return ConstraintOwnerProvider
}

func encodeProfile(p *domain.Profile) (any, error) {
	raw, err := domain.EncodeProfile(p)
	if err != nil || raw == nil {
		return nil, err
	}
	return string(raw), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

var _ domain.SocialAccountRepository = (*SocialAccountRepository)(nil)
