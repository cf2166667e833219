package database

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/config"
	"github.com/stretchr/testify/assert"
)

func TestIsSerializationFailure(t *testing.T) {
	assert.True(t, IsSerializationFailure(&pgconn.PgError{Code: "40001"}))
	assert.True(t, IsSerializationFailure(fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40P01"})))
	assert.True(t, IsSerializationFailure(ErrSerialization))
	assert.False(t, IsSerializationFailure(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsSerializationFailure(errors.New("plain")))
}

func TestClassify(t *testing.T) {
	err := classify(&pgconn.PgError{Code: "40001"})
	assert.True(t, errors.Is(err, ErrSerialization))

	plain := errors.New("plain")
	assert.Same(t, plain, classify(plain))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "22P02"}))
	assert.True(t, IsInvalidInput(&pgconn.PgError{Code: "22P02"}))
}

func TestTxFromContext_Empty(t *testing.T) {
	assert.Nil(t, TxFromContext(context.Background()))
}

func TestFromConfig_KeepsDefaultsForZeroValues(t *testing.T) {
	pc := FromConfig(&config.DatabaseConfig{Host: "db", Port: 5433, DBName: "engine", SSLMode: "disable"})
	assert.Equal(t, int32(25), pc.MaxConns)
	assert.Equal(t, DefaultPostgresConfig().MaxConnLifetime, pc.MaxConnLifetime)
	assert.Contains(t, pc.DSN(), "host=db port=5433")
	assert.Contains(t, pc.DSN(), "dbname=engine")
}
