package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"go.pilab.hu/sociallink/domain"
)

const uniqueViolation = "23505"

const selectColumns = `id, "table", foreign_id, provider, provider_uid, provider_username, user_profile, created_at, updated_at`

// SocialAccountRepository stores links in the social_accounts table.
type SocialAccountRepository struct {
	pool *pgxpool.Pool
}

// NewSocialAccountRepository creates a repository over pool.
func NewSocialAccountRepository(pool *pgxpool.Pool) *SocialAccountRepository {
	return &SocialAccountRepository{pool: pool}
}

func (r *SocialAccountRepository) FindByOwnerAndProvider(ctx context.Context, ownerType, ownerID, provider string) (*domain.SocialAccount, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM social_accounts WHERE "table" = $1 AND foreign_id = $2 AND provider = $3`,
		ownerType, ownerID, provider,
	)
	return scanOne(row)
}

func (r *SocialAccountRepository) FindByProviderIdentity(ctx context.Context, ownerType, provider, providerUID string) (*domain.SocialAccount, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM social_accounts WHERE "table" = $1 AND provider = $2 AND provider_uid = $3`,
		ownerType, provider, providerUID,
	)
	return scanOne(row)
}

func (r *SocialAccountRepository) ListByOwner(ctx context.Context, ownerType, ownerID string) ([]*domain.SocialAccount, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+selectColumns+` FROM social_accounts WHERE "table" = $1 AND foreign_id = $2 ORDER BY id`,
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
	profile, err := domain.EncodeProfile(rec.Profile)
	if err != nil {
		return &domain.PersistenceError{Op: "insert", Err: err}
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	var id int64
	err = r.pool.QueryRow(ctx, `
		INSERT INTO social_accounts ("table", foreign_id, provider, provider_uid, provider_username, user_profile, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING id`,
		rec.OwnerType, rec.OwnerID, rec.Provider, rec.ProviderUID, nullIfEmpty(rec.ProviderUsername), profile, now,
	).Scan(&id)
	if err != nil {
		return mapError("insert", err)
	}
	return account.MarkPersisted(id, now, now)
}

func (r *SocialAccountRepository) Update(ctx context.Context, account *domain.SocialAccount) error {
	rec := account.Record()
	profile, err := domain.EncodeProfile(rec.Profile)
	if err != nil {
		return &domain.PersistenceError{Op: "update", Err: err}
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	var createdAt time.Time
	err = r.pool.QueryRow(ctx, `
		UPDATE social_accounts
		SET provider_uid = $2, provider_username = $3, user_profile = $4, updated_at = $5
		WHERE id = $1
		RETURNING created_at`,
		rec.ID, rec.ProviderUID, nullIfEmpty(rec.ProviderUsername), profile, now,
	).Scan(&createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &domain.PersistenceError{Op: "update", Err: domain.ErrNotLinked}
	}
	if err != nil {
		return mapError("update", err)
	}
	return account.MarkPersisted(rec.ID, createdAt, now)
}

func (r *SocialAccountRepository) Delete(ctx context.Context, account *domain.SocialAccount) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM social_accounts WHERE id = $1`, account.ID())
	if err != nil {
		return mapError("delete", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.PersistenceError{Op: "delete", Err: domain.ErrNotLinked}
	}
	return nil
}

func scanOne(row pgx.Row) (*domain.SocialAccount, error) {
	acc, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return acc, err
}

func scanAccount(row pgx.Row) (*domain.SocialAccount, error) {
	var (
		rec       domain.SocialAccountRecord
		username  *string
		profile   []byte
		updatedAt *time.Time
	)
	if err := row.Scan(
		&rec.ID, &rec.OwnerType, &rec.OwnerID, &rec.Provider, &rec.ProviderUID,
		&username, &profile, &rec.CreatedAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	if username != nil {
		rec.ProviderUsername = *username
	}
	if updatedAt != nil {
		rec.UpdatedAt = *updatedAt
	}
	p, err := domain.DecodeProfile(profile)
	if err != nil {
		return nil, err
	}
	rec.Profile = p
	return domain.RestoreSocialAccount(rec), nil
}

func mapError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.NewConflictError(op, pgErr.ConstraintName, err)
	}
	return &domain.PersistenceError{Op: op, Err: err}
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ domain.SocialAccountRepository = (*SocialAccountRepository)(nil)
