package repository

import (
	"context"
	"errors"

	"github.com/playgroundx/settlement/internal/fee/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// InsertSnapshot stores a snapshot unless its version already exists. It reports
// whether a row was written.
func (r *repo) InsertSnapshot(ctx context.Context, db *gorm.DB, snapshot *domain.ScheduleSnapshot) (bool, error) {
	if snapshot == nil {
		return false, nil
	}
	result := db.WithContext(ctx).Exec(
		`INSERT INTO fee_schedules (version, checksum, rules, loaded_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (version) DO NOTHING`,
		snapshot.Version,
		snapshot.Checksum,
		snapshot.Rules,
		snapshot.LoadedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) GetSnapshot(ctx context.Context, db *gorm.DB, version string) (*domain.ScheduleSnapshot, error) {
	var snapshot domain.ScheduleSnapshot
	err := db.WithContext(ctx).Where("version = ?", version).First(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (r *repo) ListSnapshots(ctx context.Context, db *gorm.DB) ([]domain.ScheduleSnapshot, error) {
	var snapshots []domain.ScheduleSnapshot
	err := db.WithContext(ctx).Order("loaded_at desc").Find(&snapshots).Error
	return snapshots, err
}
