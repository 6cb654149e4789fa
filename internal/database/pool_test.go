package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/rajashekarcs2023/weather-marketplace/config"
)

// =============================================================================
// 🧪 PoolManager tests
// =============================================================================

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *gorm.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)
	return mockDB, mock, gormDB
}

func testPoolConfig() PoolConfig {
	return PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5}
}

func TestNewPoolManager(t *testing.T) {
	mockDB, _, gormDB := setupTestDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, testPoolConfig(), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, gormDB, manager.DB())
	assert.Equal(t, 10, manager.Stats().MaxOpenConnections)
}

func TestNewPoolManager_NilDB(t *testing.T) {
	_, err := NewPoolManager(nil, testPoolConfig(), nil)
	assert.Error(t, err)
}

func TestPoolManager_Ping(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, testPoolConfig(), zap.NewNop())
	require.NoError(t, err)

	mock.ExpectPing()
	assert.NoError(t, manager.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	assert.Error(t, manager.Ping(context.Background()))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransaction(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, testPoolConfig(), zap.NewNop())
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectCommit()
	err = manager.WithTransaction(context.Background(), func(tx *gorm.DB) error { return nil })
	assert.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectRollback()
	err = manager.WithTransaction(context.Background(), func(tx *gorm.DB) error { return assert.AnError })
	assert.ErrorIs(t, err, assert.AnError)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransactionRetry(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, testPoolConfig(), zap.NewNop())
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	attempts := 0
	err = manager.WithTransactionRetry(context.Background(), 3, func(tx *gorm.DB) error {
		attempts++
		if attempts == 1 {
			return errors.New("deadlock detected")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransactionRetry_Permanent(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, testPoolConfig(), zap.NewNop())
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectRollback()

	attempts := 0
	err = manager.WithTransactionRetry(context.Background(), 3, func(tx *gorm.DB) error {
		attempts++
		return errors.New("unique constraint violated")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestPoolManager_Close(t *testing.T) {
	_, mock, gormDB := setupTestDB(t)

	manager, err := NewPoolManager(gormDB, testPoolConfig(), zap.NewNop())
	require.NoError(t, err)

	mock.ExpectClose()
	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.Error(t, manager.Ping(context.Background()))
	assert.Error(t, manager.WithTransaction(context.Background(), func(*gorm.DB) error { return nil }))
}

func TestPoolConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  PoolConfig
		wantErr bool
	}{
		{"valid", PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5, ConnMaxLifetime: time.Hour}, false},
		{"invalid max open conns", PoolConfig{MaxOpenConns: 0, MaxIdleConns: 5}, true},
		{"invalid max idle conns", PoolConfig{MaxOpenConns: 10, MaxIdleConns: 0}, true},
		{"idle > open", PoolConfig{MaxOpenConns: 5, MaxIdleConns: 10}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDialector(t *testing.T) {
	tests := []struct {
		driver  string
		name    string
		wantErr bool
	}{
		{"", "sqlite", false},
		{"sqlite", "sqlite", false},
		{"postgres", "postgres", false},
		{"mysql", "mysql", false},
		{"oracle", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			d, err := Dialector(config.DatabaseConfig{Driver: tt.driver, Name: "x.db"})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.name, d.Name())
		})
	}
}

func TestOpen_SQLite(t *testing.T) {
	cfg := config.DefaultDatabaseConfig()
	cfg.Name = filepath.Join(t.TempDir(), "directory.db")
	cfg.MaxOpenConns = 2
	cfg.MaxIdleConns = 4

	manager, err := Open(cfg, zap.NewNop())
	require.NoError(t, err)
	defer manager.Close()

	assert.NoError(t, manager.Ping(context.Background()))
	assert.Equal(t, 2, manager.Stats().MaxOpenConnections)
}
