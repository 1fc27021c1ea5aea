package repository

import (
	"ebbsync/internal/db"
	"ebbsync/internal/model"
)

type RootRepository struct{}

func NewRootRepository() *RootRepository {
	return &RootRepository{}
}

func (r *RootRepository) Add(root model.SyncRoot) (model.SyncRoot, error) {
	return root, db.DB.Create(&root).Error
}

func (r *RootRepository) GetAll() ([]model.SyncRoot, error) {
	var roots []model.SyncRoot
	return roots, db.DB.Find(&roots).Error
}

func (r *RootRepository) GetByID(id uint) (model.SyncRoot, error) {
	var root model.SyncRoot
	return root, db.DB.First(&root, id).Error
}

func (r *RootRepository) UpdateStatus(id uint, status model.RootStatus) error {
	return db.DB.Model(&model.SyncRoot{}).
		Where("id = ?", id).
		Update("status", status).Error
}

func (r *RootRepository) Delete(id uint) error {
	return db.DB.Delete(&model.SyncRoot{}, id).Error
}
