// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the FAQ store: the priority-ordered
// active candidate query used on the chat path, plus CRUD and paged listing.
//
// Deletes are soft (gorm.DeletedAt); deleted rows never appear in queries.
package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-support-backend/internal/domain"
)

// FAQFilter narrows ListFAQsPage and CountFAQs.
type FAQFilter struct {
	// Category matches exactly when non-empty.
	Category string
	// Query is a case-insensitive substring of the question or answer.
	Query string
	// ActiveOnly hides inactive entries.
	ActiveOnly bool
}

func (f FAQFilter) apply(q *gorm.DB) *gorm.DB {
	if c := strings.TrimSpace(f.Category); c != "" {
		q = q.Where("category = ?", c)
	}
	if s := strings.TrimSpace(f.Query); s != "" {
		like := "%" + escapeLike(strings.ToLower(s)) + "%"
		q = q.Where(`(LOWER(question) LIKE ? ESCAPE '\' OR LOWER(answer) LIKE ? ESCAPE '\')`, like, like)
	}
	if f.ActiveOnly {
		q = q.Where("is_active = ?", true)
	}
	return q
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

// FindActiveFAQs returns up to limit active entries, highest priority first.
// Ties keep insertion order so matching is deterministic.
func FindActiveFAQs(ctx context.Context, db *gorm.DB, limit int) ([]domain.FAQ, error) {
	var out []domain.FAQ
	err := db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("priority DESC, created_at ASC, id ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CreateFAQ inserts f, assigning an ID when empty.
func CreateFAQ(ctx context.Context, db *gorm.DB, f *domain.FAQ) error {
	prepareFAQ(f, time.Now().UTC())
	return db.WithContext(ctx).Create(f).Error
}

// CreateFAQs inserts all entries in one transaction. Timestamps advance by
// a microsecond per entry so ingestion order is preserved by created_at.
func CreateFAQs(ctx context.Context, db *gorm.DB, faqs []domain.FAQ) error {
	if len(faqs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range faqs {
		prepareFAQ(&faqs[i], now.Add(time.Duration(i)*time.Microsecond))
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(faqs, 100).Error
	})
}

func prepareFAQ(f *domain.FAQ, at time.Time) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = at
	}
	f.UpdatedAt = f.CreatedAt
	if f.Keywords == nil {
		f.Keywords = []string{}
	}
}

// GetFAQ fetches a non-deleted entry by ID.
func GetFAQ(ctx context.Context, db *gorm.DB, id string) (*domain.FAQ, error) {
	var f domain.FAQ
	if err := db.WithContext(ctx).Where("id = ?", id).First(&f).Error; err != nil {
		return nil, err
	}
	return &f, nil
}

// UpdateFAQ applies fields (column name to value) to entry id and returns
// the updated row, or ErrNotFound. A map is used so zero values such as
// is_active=false are written.
func UpdateFAQ(ctx context.Context, db *gorm.DB, id string, fields map[string]any) (*domain.FAQ, error) {
	var out *domain.FAQ
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(fields) > 0 {
			fields["updated_at"] = time.Now().UTC()
			res := tx.Model(&domain.FAQ{}).Where("id = ?", id).Updates(fields)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrNotFound
			}
		}
		f, err := GetFAQ(ctx, tx, id)
		if err != nil {
			return err
		}
		out = f
		return nil
	})
	return out, err
}

// DeleteFAQ soft-deletes entry id and reports whether a row was removed.
func DeleteFAQ(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.FAQ{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CountFAQs returns the number of entries matching filter.
func CountFAQs(ctx context.Context, db *gorm.DB, filter FAQFilter) (int64, error) {
	var total int64
	err := filter.apply(db.WithContext(ctx).Model(&domain.FAQ{})).Count(&total).Error
	return total, err
}

// ListFAQsPage returns a page of entries matching filter, highest priority
// first.
func ListFAQsPage(ctx context.Context, db *gorm.DB, filter FAQFilter, offset, limit int) ([]domain.FAQ, error) {
	var out []domain.FAQ
	err := filter.apply(db.WithContext(ctx).Model(&domain.FAQ{})).
		Order("priority DESC, created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
