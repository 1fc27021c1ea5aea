package db

import (
	"fmt"
	"sync/atomic"

	"ebbsync/internal/model"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func Init(dbPath string) error {
	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}

	if err := DB.AutoMigrate(
		&model.SyncRoot{},
		&model.NodeRow{},
		&model.SyncNodeRow{},
		&model.NodeErrorRow{},
		&model.History{},
	); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}

	return nil
}

// InitMemory opens a fresh in-memory database, used by tests. The shared
// cache keeps every pooled connection on the same database; the counter
// isolates consecutive calls from each other.
func InitMemory() error {
	n := atomic.AddUint64(&memSeq, 1)
	return Init(fmt.Sprintf("file:ebbsync-mem-%d?mode=memory&cache=shared", n))
}

var memSeq uint64
