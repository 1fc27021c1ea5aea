package repository

import (
	"time"

	"ebbsync/internal/db"
	"ebbsync/internal/model"
)

type HistoryRepository struct{}

func NewHistoryRepository() *HistoryRepository {
	return &HistoryRepository{}
}

func (r *HistoryRepository) Record(rootID uint, kind model.OpKind, side model.ReplicaSide, path string, opErr error) error {
	h := model.History{
		SyncRootID: rootID,
		OpKind:     kind,
		TargetSide: side,
		Path:       path,
		Outcome:    model.PassSuccess,
		SyncedAt:   time.Now(),
	}
	if opErr != nil {
		h.Outcome = model.PassFailed
		h.ErrMsg = opErr.Error()
	}

	return db.DB.Create(&h).Error
}

func (r *HistoryRepository) GetRecent(n int) ([]model.History, error) {
	var histories []model.History
	return histories, db.DB.
		Order("synced_at DESC").
		Limit(n).
		Find(&histories).Error
}
