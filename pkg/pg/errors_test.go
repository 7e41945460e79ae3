package pg_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/makinacorpus/apubsub-sub000/pkg/pg"
)

func TestErrorClassification(t *testing.T) {
	wrap := func(code string) error {
		return fmt.Errorf("query: %w", &pgconn.PgError{Code: code})
	}

	tests := []struct {
		name   string
		err    error
		check  func(error) bool
		expect bool
	}{
		{"duplicate key", wrap("23505"), pg.IsDuplicateKeyError, true},
		{"other constraint", wrap("23503"), pg.IsDuplicateKeyError, false},
		{"foreign key", wrap("23503"), pg.IsForeignKeyViolationError, true},
		{"serialization failure", wrap("40001"), pg.IsSerializationError, true},
		{"deadlock", wrap("40P01"), pg.IsSerializationError, true},
		{"syntax error is not retryable", wrap("42601"), pg.IsSerializationError, false},
		{"no rows", fmt.Errorf("get: %w", pgx.ErrNoRows), pg.IsNotFoundError, true},
		{"nil", nil, pg.IsNotFoundError, false},
		{"plain error", errors.New("boom"), pg.IsDuplicateKeyError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, tt.check(tt.err))
		})
	}
}

func TestConnectRejectsEmptyConnectionString(t *testing.T) {
	_, err := pg.Connect(context.Background(), pg.Config{})
	assert.ErrorIs(t, err, pg.ErrEmptyConnectionString)
}

func TestConnectRejectsInvalidConnectionString(t *testing.T) {
	_, err := pg.Connect(context.Background(), pg.Config{ConnectionString: "postgres://%zz"})
	assert.ErrorIs(t, err, pg.ErrFailedToParseDBConfig)
}
