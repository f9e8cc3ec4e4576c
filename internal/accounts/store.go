package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of pgxpool.Pool used by Store.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists accounts in the meta_accounts table.
type Store struct {
	db DBTX
}

// NewStore creates a store over db (typically a *pgxpool.Pool).
func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

const accountColumns = `id, name, meta_business_account_id, phone_number_id, meta_phone_number,
	phone_numbers, system_user_access_token, webhook_verification_token, owner_id,
	token_expires_at, created_at, updated_at`

const (
	getByIDSQL = `SELECT ` + accountColumns + ` FROM meta_accounts WHERE id = $1`

	getByBusinessAccountIDSQL = `SELECT ` + accountColumns + `
FROM meta_accounts
WHERE meta_business_account_id = $1
LIMIT 1`

	// Stored numbers are digits only (see writeArgs), so both predicates use
	// the meta_phone_number btree and the phone_numbers GIN index. Primary
	// number wins over membership in phone_numbers.
	getByPhoneNumberSQL = `SELECT ` + accountColumns + `
FROM meta_accounts
WHERE meta_phone_number = $1::text
   OR phone_numbers @> jsonb_build_array($1::text)
ORDER BY (meta_phone_number = $1::text) DESC, id
LIMIT 1`

	listByOwnerSQL = `SELECT ` + accountColumns + ` FROM meta_accounts WHERE owner_id = $1 ORDER BY id`

	listSQL = `SELECT ` + accountColumns + ` FROM meta_accounts ORDER BY id`

	createSQL = `INSERT INTO meta_accounts (
	name, meta_business_account_id, phone_number_id, meta_phone_number, phone_numbers,
	system_user_access_token, webhook_verification_token, owner_id, token_expires_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + accountColumns

	updateSQL = `UPDATE meta_accounts SET
	name = $2,
	phone_number_id = $3,
	meta_phone_number = $4,
	phone_numbers = $5,
	system_user_access_token = $6,
	webhook_verification_token = $7,
	owner_id = $8,
	token_expires_at = $9,
	updated_at = CURRENT_TIMESTAMP
WHERE id = $1
RETURNING ` + accountColumns

	upsertSQL = `INSERT INTO meta_accounts (
	name, meta_business_account_id, phone_number_id, meta_phone_number, phone_numbers,
	system_user_access_token, webhook_verification_token, owner_id, token_expires_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (meta_business_account_id) DO UPDATE SET
	phone_number_id = EXCLUDED.phone_number_id,
	meta_phone_number = EXCLUDED.meta_phone_number,
	phone_numbers = EXCLUDED.phone_numbers,
	system_user_access_token = EXCLUDED.system_user_access_token,
	webhook_verification_token = EXCLUDED.webhook_verification_token,
	owner_id = EXCLUDED.owner_id,
	token_expires_at = EXCLUDED.token_expires_at,
	updated_at = CURRENT_TIMESTAMP
RETURNING ` + accountColumns

	deleteSQL = `DELETE FROM meta_accounts WHERE id = $1`
)

func (s *Store) GetByID(ctx context.Context, id int64) (Account, error) {
	return s.getOne(ctx, getByIDSQL, id)
}

func (s *Store) GetByBusinessAccountID(ctx context.Context, businessAccountID string) (Account, error) {
	id := strings.TrimSpace(businessAccountID)
	if id == "" {
		return Account{}, ErrAccountNotFound
	}
	return s.getOne(ctx, getByBusinessAccountIDSQL, id)
}

func (s *Store) GetByPhoneNumber(ctx context.Context, phoneNumber string) (Account, error) {
	number := NormalizePhone(phoneNumber)
	if number == "" {
		return Account{}, ErrAccountNotFound
	}
	return s.getOne(ctx, getByPhoneNumberSQL, number)
}

func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]Account, error) {
	return s.list(ctx, listByOwnerSQL, strings.TrimSpace(ownerID))
}

func (s *Store) List(ctx context.Context) ([]Account, error) {
	return s.list(ctx, listSQL)
}

func (s *Store) Create(ctx context.Context, a Account) (Account, error) {
	args, err := writeArgs(a)
	if err != nil {
		return Account{}, err
	}
	out, err := scanAccount(s.db.QueryRow(ctx, createSQL, args...))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Account{}, fmt.Errorf("%w: %s", ErrDuplicateBusinessAccount, a.BusinessAccountID)
		}
		return Account{}, fmt.Errorf("create account: %w", err)
	}
	return out, nil
}

func (s *Store) Update(ctx context.Context, a Account) (Account, error) {
	if a.ID == 0 {
		return Account{}, fmt.Errorf("update account: id is required")
	}
	args, err := writeArgs(a)
	if err != nil {
		return Account{}, err
	}
	// name, business account id (immutable), then the rest
	updateArgs := append([]any{a.ID, args[0]}, args[2:]...)
	out, err := scanAccount(s.db.QueryRow(ctx, updateSQL, updateArgs...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("update account: %w", err)
	}
	return out, nil
}

func (s *Store) UpsertByBusinessAccountID(ctx context.Context, a Account) (Account, error) {
	args, err := writeArgs(a)
	if err != nil {
		return Account{}, err
	}
	out, err := scanAccount(s.db.QueryRow(ctx, upsertSQL, args...))
	if err != nil {
		return Account{}, fmt.Errorf("upsert account: %w", err)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, deleteSQL, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (s *Store) getOne(ctx context.Context, sql string, args ...any) (Account, error) {
	a, err := scanAccount(s.db.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func (s *Store) list(ctx context.Context, sql string, args ...any) ([]Account, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		a         Account
		phonesRaw []byte
		expiresAt *time.Time
	)
	err := row.Scan(
		&a.ID,
		&a.Name,
		&a.BusinessAccountID,
		&a.PhoneNumberID,
		&a.PhoneNumber,
		&phonesRaw,
		&a.AccessToken,
		&a.WebhookVerificationToken,
		&a.OwnerID,
		&expiresAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return Account{}, err
	}
	if len(phonesRaw) > 0 {
		if err := json.Unmarshal(phonesRaw, &a.PhoneNumbers); err != nil {
			return Account{}, fmt.Errorf("decode phone_numbers: %w", err)
		}
	}
	if a.PhoneNumbers == nil {
		a.PhoneNumbers = []string{}
	}
	if expiresAt != nil {
		a.TokenExpiresAt = expiresAt.UTC()
	}
	return a, nil
}

// writeArgs returns the positional arguments shared by insert and upsert.
func writeArgs(a Account) ([]any, error) {
	phones, err := json.Marshal(normalizePhones(a.PhoneNumbers))
	if err != nil {
		return nil, fmt.Errorf("encode phone_numbers: %w", err)
	}
	var expiresAt *time.Time
	if !a.TokenExpiresAt.IsZero() {
		t := a.TokenExpiresAt.UTC()
		expiresAt = &t
	}
	return []any{
		strings.TrimSpace(a.Name),
		strings.TrimSpace(a.BusinessAccountID),
		strings.TrimSpace(a.PhoneNumberID),
		NormalizePhone(a.PhoneNumber),
		phones,
		a.AccessToken,
		a.WebhookVerificationToken,
		strings.TrimSpace(a.OwnerID),
		expiresAt,
	}, nil
}
