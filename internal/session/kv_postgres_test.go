package session

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockPostgresKV(t *testing.T) (*PostgresKV, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS console_storage").WillReturnResult(sqlmock.NewResult(0, 0))
	kv, err := NewPostgresKV(db)
	if err != nil {
		t.Fatalf("NewPostgresKV() error: %v", err)
	}
	return kv, mock
}

func TestNewPostgresKV(t *testing.T) {
	_, mock := newMockPostgresKV(t)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestNewPostgresKVRequiresDB(t *testing.T) {
	if _, err := NewPostgresKV(nil); err == nil {
		t.Fatalf("expected error for nil db")
	}
}

func TestPostgresKVGetSetDelete(t *testing.T) {
	ctx := context.Background()
	kv, mock := newMockPostgresKV(t)

	mock.ExpectExec("INSERT INTO console_storage").
		WithArgs(TokenKey, "tok-1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	if err := kv.Set(ctx, TokenKey, "tok-1"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM console_storage WHERE key = $1")).
		WithArgs(TokenKey).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("tok-1"))
	got, ok, err := kv.Get(ctx, TokenKey)
	if err != nil || !ok || got != "tok-1" {
		t.Fatalf("Get() = %q, %v, %v", got, ok, err)
	}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM console_storage WHERE key = $1")).
		WithArgs(LegacyKey).
		WillReturnRows(sqlmock.NewRows([]string{"value"}))
	_, ok, err = kv.Get(ctx, LegacyKey)
	if err != nil || ok {
		t.Fatalf("expected missing legacy key, got ok=%v err=%v", ok, err)
	}

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM console_storage WHERE key = ANY($1)")).
		WillReturnResult(sqlmock.NewResult(0, 2))
	if err := kv.Delete(ctx, TokenKey, ProfileKey); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}
