package testutil

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"friends-go/internal/storage"
)

// SetupTestDB opens a private in-memory sqlite database and runs AutoMigrate.
// Each call gets its own database, so tests may run in parallel.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_") + "_" + uuid.NewString()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err, "SetupTestDB: Open")

	sqlDB, err := db.DB()
	require.NoError(t, err, "SetupTestDB: DB")
	// sqlite serialises writers; one connection keeps the shared memory db alive and avoids SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, storage.AutoMigrateTables(db, zap.NewNop()), "SetupTestDB: AutoMigrate")
	return db
}

// SetupTestRepository wraps SetupTestDB in the gorm relationship repository.
func SetupTestRepository(t *testing.T) storage.RelationshipRepository {
	t.Helper()
	return storage.NewGormRelationshipRepository(SetupTestDB(t))
}
