package accounts

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type fakeRow struct {
	scanFunc func(dest ...any) error
}

func (r *fakeRow) Scan(dest ...any) error {
	return r.scanFunc(dest...)
}

type fakeDBTX struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	lastSQL      string
	lastArgs     []any
}

func (d *fakeDBTX) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	d.lastSQL, d.lastArgs = sql, args
	if d.execFunc != nil {
		return d.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

func (d *fakeDBTX) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, pgx.ErrNoRows
}

func (d *fakeDBTX) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	d.lastSQL, d.lastArgs = sql, args
	if d.queryRowFunc != nil {
		return d.queryRowFunc(ctx, sql, args...)
	}
	return &fakeRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
}

func makeAccountRow(id int64, biz, phone, owner string, phones []string, expires *time.Time) *fakeRow {
	return &fakeRow{scanFunc: func(dest ...any) error {
		raw, _ := json.Marshal(phones)
		*dest[0].(*int64) = id
		*dest[1].(*string) = "acc"
		*dest[2].(*string) = biz
		*dest[3].(*string) = "PNID-" + biz
		*dest[4].(*string) = phone
		*dest[5].(*[]byte) = raw
		*dest[6].(*string) = "token"
		*dest[7].(*string) = "verify"
		*dest[8].(*string) = owner
		*dest[9].(**time.Time) = expires
		*dest[10].(*time.Time) = time.Unix(0, 0)
		*dest[11].(*time.Time) = time.Unix(0, 0)
		return nil
	}}
}

func TestStoreGetByPhoneNumberNormalizesArgument(t *testing.T) {
	t.Parallel()

	db := &fakeDBTX{queryRowFunc: func(_ context.Context, _ string, args ...any) pgx.Row {
		return makeAccountRow(7, "WABA-7", "5511991490733", "owner-7", []string{"5511991490733"}, nil)
	}}
	store := NewStore(db)
	acc, err := store.GetByPhoneNumber(context.Background(), "+55 (11) 99149-0733")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if acc.OwnerID != "owner-7" {
		t.Fatalf("unexpected owner %q", acc.OwnerID)
	}
	if got := db.lastArgs[0]; got != "5511991490733" {
		t.Fatalf("expected normalized argument, got %v", got)
	}
	if !strings.Contains(db.lastSQL, "phone_numbers @> jsonb_build_array($1::text)") {
		t.Fatal("expected phone_numbers containment in query")
	}
	if !strings.Contains(db.lastSQL, "meta_phone_number = $1::text") {
		t.Fatal("expected direct comparison on meta_phone_number")
	}
	if strings.Contains(db.lastSQL, "regexp_replace") {
		t.Fatal("lookup must not rewrite indexed columns")
	}
	if !acc.TokenExpiresAt.IsZero() {
		t.Fatal("expected zero expiry for null token_expires_at")
	}
}

func TestStoreNotFoundMapsToSentinel(t *testing.T) {
	t.Parallel()

	store := NewStore(&fakeDBTX{})
	ctx := context.Background()

	if _, err := store.GetByBusinessAccountID(ctx, "WABA-404"); err != ErrAccountNotFound {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if _, err := store.GetByPhoneNumber(ctx, "1555"); err != ErrAccountNotFound {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if _, err := store.GetByID(ctx, 1); err != ErrAccountNotFound {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestStoreEmptyLookupsSkipDatabase(t *testing.T) {
	t.Parallel()

	db := &fakeDBTX{queryRowFunc: func(context.Context, string, ...any) pgx.Row {
		t.Fatal("database must not be queried")
		return nil
	}}
	store := NewStore(db)
	if _, err := store.GetByPhoneNumber(context.Background(), "+ ( ) -"); err != ErrAccountNotFound {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if _, err := store.GetByBusinessAccountID(context.Background(), "  "); err != ErrAccountNotFound {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestStoreScansExpiry(t *testing.T) {
	t.Parallel()

	expires := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	db := &fakeDBTX{queryRowFunc: func(context.Context, string, ...any) pgx.Row {
		return makeAccountRow(1, "WABA-1", "1", "owner-1", nil, &expires)
	}}
	acc, err := NewStore(db).GetByBusinessAccountID(context.Background(), "WABA-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !acc.TokenExpiresAt.Equal(expires) {
		t.Fatalf("unexpected expiry %v", acc.TokenExpiresAt)
	}
	if acc.PhoneNumbers == nil {
		t.Fatal("expected empty, non-nil phone numbers")
	}
}

func TestStoreUpsertNormalizesNumbers(t *testing.T) {
	t.Parallel()

	db := &fakeDBTX{queryRowFunc: func(context.Context, string, ...any) pgx.Row {
		return makeAccountRow(1, "WABA-1", "15550000001", "owner-1", []string{"15550000001"}, nil)
	}}
	_, err := NewStore(db).UpsertByBusinessAccountID(context.Background(), Account{
		BusinessAccountID: " WABA-1 ",
		PhoneNumber:       "+1 555 000 0001",
		PhoneNumbers:      []string{"+1 555 000 0001", "15550000001", ""},
		OwnerID:           "owner-1",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !strings.Contains(db.lastSQL, "ON CONFLICT (meta_business_account_id)") {
		t.Fatal("expected conflict clause")
	}
	if db.lastArgs[1] != "WABA-1" || db.lastArgs[3] != "15550000001" {
		t.Fatalf("unexpected args %v", db.lastArgs)
	}
	if string(db.lastArgs[4].([]byte)) != `["15550000001"]` {
		t.Fatalf("unexpected phone_numbers %s", db.lastArgs[4])
	}
	if db.lastArgs[8].(*time.Time) != nil {
		t.Fatal("expected null expiry")
	}
}

func TestStoreDeleteMissingRow(t *testing.T) {
	t.Parallel()

	db := &fakeDBTX{execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
		return pgconn.NewCommandTag("DELETE 0"), nil
	}}
	if err := NewStore(db).Delete(context.Background(), 9); err != ErrAccountNotFound {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("skip integration test: TEST_POSTGRES_DSN is not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("skip integration test: cannot connect to database: %v", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		t.Skipf("skip integration test: database ping failed: %v", err)
	}

	store := NewStore(pool)
	biz := "WABA-IT-" + time.Now().Format("150405.000000")
	created, err := store.UpsertByBusinessAccountID(ctx, Account{
		Name:                     "integration",
		BusinessAccountID:        biz,
		PhoneNumberID:            "PNID-IT",
		PhoneNumber:              "+1 555 123 4567",
		PhoneNumbers:             []string{"15551234567", "15557654321"},
		AccessToken:              "token",
		WebhookVerificationToken: "verify",
		OwnerID:                  "owner-it",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	defer func() { _ = store.Delete(ctx, created.ID) }()

	byPhone, err := store.GetByPhoneNumber(ctx, "15557654321")
	if err != nil {
		t.Fatalf("get by secondary phone: %v", err)
	}
	if byPhone.ID != created.ID {
		t.Fatalf("expected account %d, got %d", created.ID, byPhone.ID)
	}
	byBiz, err := store.GetByBusinessAccountID(ctx, biz)
	if err != nil {
		t.Fatalf("get by business account: %v", err)
	}
	if byBiz.PhoneNumber != "15551234567" {
		t.Fatalf("expected normalized primary number, got %q", byBiz.PhoneNumber)
	}
}
