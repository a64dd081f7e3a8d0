package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"waifuapi/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&UserModel{}, &TurnModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// EnsureUser inserts the user row unless it already exists.
func (s *GormStore) EnsureUser(ctx context.Context, owner, userID string) error {
	model := UserModel{Owner: owner, UserID: userID, LastModified: time.Now().UTC()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(&model).Error
}

// HasUser checks if the user exists.
func (s *GormStore) HasUser(ctx context.Context, owner, userID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&UserModel{}).
		Where("owner = ? AND user_id = ?", owner, userID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUser returns the user record.
func (s *GormStore) GetUser(ctx context.Context, owner, userID string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "owner = ? AND user_id = ?", owner, userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// DeleteUser removes the user and its turns. Deleting an absent user is a no-op.
func (s *GormStore) DeleteUser(ctx context.Context, owner, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&TurnModel{}, "owner = ? AND user_id = ?", owner, userID).Error; err != nil {
			return err
		}
		return tx.Delete(&UserModel{}, "owner = ? AND user_id = ?", owner, userID).Error
	})
}

// CountUsers returns the number of users for the owner.
func (s *GormStore) CountUsers(ctx context.Context, owner string) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&UserModel{}).
		Where("owner = ?", owner).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// ListUserIDs returns user ids in insertion (primary key) order.
func (s *GormStore) ListUserIDs(ctx context.Context, owner string, offset, limit int) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&UserModel{}).
		Where("owner = ?", owner).
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Pluck("user_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// ListTurns returns the dialog in index order.
func (s *GormStore) ListTurns(ctx context.Context, owner, userID string) ([]domain.Turn, error) {
	var models []TurnModel
	if err := s.db.WithContext(ctx).
		Where("owner = ? AND user_id = ?", owner, userID).
		Order("idx ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	turns := make([]domain.Turn, 0, len(models))
	for _, m := range models {
		turns = append(turns, turnFromModel(m))
	}
	return turns, nil
}

// ReplaceTurns swaps the whole dialog inside one transaction.
func (s *GormStore) ReplaceTurns(ctx context.Context, owner, userID string, turns []domain.Turn) (bool, error) {
	found := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user UserModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&user, "owner = ? AND user_id = ?", owner, userID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}
		found = true
		if err := tx.Delete(&TurnModel{}, "owner = ? AND user_id = ?", owner, userID).Error; err != nil {
			return err
		}
		if len(turns) > 0 {
			models := make([]TurnModel, 0, len(turns))
			for _, t := range turns {
				models = append(models, turnToModel(owner, userID, t))
			}
			if err := tx.Create(&models).Error; err != nil {
				return err
			}
		}
		return tx.Model(&UserModel{}).
			Where("id = ?", user.ID).
			Update("last_modified", time.Now().UTC()).Error
	})
	return found, err
}

// AppendTurns appends after the current highest index, creating the user
// row if absent. The row lock serializes concurrent appends per user.
func (s *GormStore) AppendTurns(ctx context.Context, owner, userID string, turns []domain.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user := UserModel{Owner: owner, UserID: userID, LastModified: time.Now().UTC()}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner"}, {Name: "user_id"}},
			DoNothing: true,
		}).Create(&user).Error; err != nil {
			return err
		}
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&user, "owner = ? AND user_id = ?", owner, userID).Error; err != nil {
			return err
		}
		var next int
		row := tx.Model(&TurnModel{}).
			Where("owner = ? AND user_id = ?", owner, userID).
			Select("COALESCE(MAX(idx), -1)").
			Row()
		if err := row.Scan(&next); err != nil {
			return err
		}
		next++
		models := make([]TurnModel, 0, len(turns))
		for i, t := range turns {
			t.Index = next + i
			models = append(models, turnToModel(owner, userID, t))
		}
		if err := tx.Create(&models).Error; err != nil {
			return err
		}
		return tx.Model(&UserModel{}).
			Where("id = ?", user.ID).
			Update("last_modified", time.Now().UTC()).Error
	})
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		Owner:        m.Owner,
		UserID:       m.UserID,
		LastModified: m.LastModified,
	}
}

func turnToModel(owner, userID string, t domain.Turn) TurnModel {
	return TurnModel{
		Owner:   owner,
		UserID:  userID,
		Idx:     t.Index,
		Name:    t.Name,
		Message: t.Message,
	}
}

func turnFromModel(m TurnModel) domain.Turn {
	return domain.Turn{
		Index:   m.Idx,
		Name:    m.Name,
		Message: m.Message,
	}
}
