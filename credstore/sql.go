package credstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Persistent [Storage] in a SQL database (sqlite or postgres, via gorm). Suitable for multiple server processes sharing login state.
type SQLStorage struct {
	db *gorm.DB
}

var _ Storage = (*SQLStorage)(nil)

type CredentialRecord struct {
	Key       string `gorm:"column:cred_key;primaryKey"`
	Value     string
	UpdatedAt time.Time
}

func (CredentialRecord) TableName() string {
	return "uauth_credentials"
}

// Wraps an existing database handle, creating the table if needed.
func NewSQLStorage(db *gorm.DB) (*SQLStorage, error) {
	if err := db.AutoMigrate(&CredentialRecord{}); err != nil {
		return nil, err
	}
	return &SQLStorage{db: db}, nil
}

func (s *SQLStorage) Get(ctx context.Context, key string) (string, error) {
	var rec CredentialRecord
	err := s.db.WithContext(ctx).Where("cred_key = ?", key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return rec.Value, nil
}

func (s *SQLStorage) Set(ctx context.Context, key, val string) error {
	rec := CredentialRecord{
		Key:   key,
		Value: val,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
}

func (s *SQLStorage) Delete(ctx context.Context, key string) (bool, error) {
	res := s.db.WithContext(ctx).Where("cred_key = ?", key).Delete(&CredentialRecord{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *SQLStorage) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&CredentialRecord{}).Error
}

func (s *SQLStorage) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	if err := s.db.WithContext(ctx).Model(&CredentialRecord{}).Pluck("cred_key", &keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}
