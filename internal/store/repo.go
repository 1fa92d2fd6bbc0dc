package store

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/quickapi/quickapi/internal/xerrors"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ListFilter narrows and pages List results. Zero values mean "no filter".
type ListFilter struct {
	Search   string  // substring match on name, case-insensitive
	MinPrice float64 // inclusive lower bound, applied when > 0
	MaxPrice float64 // inclusive upper bound, applied when > 0
	Page     int     // 1-based, defaults to 1
	Limit    int     // page size, defaults to 20, capped at 100
	Sort     string  // "id", "name", "price", "created_at"; "-" prefix for descending
}

// ItemRepo persists items.
type ItemRepo struct {
	db *DB
}

// NewItemRepo returns a repository over the given database.
func NewItemRepo(db *DB) *ItemRepo { return &ItemRepo{db: db} }

// Create inserts the item and fills its ID and timestamps.
func (r *ItemRepo) Create(ctx context.Context, item *Item) error {
	if err := r.db.gorm.WithContext(ctx).Create(item).Error; err != nil {
		return xerrors.Wrap(err, "create item")
	}
	return nil
}

// Get fetches one item by id, returning ErrNotFound when absent.
func (r *ItemRepo) Get(ctx context.Context, id int64) (*Item, error) {
	var item Item
	err := r.db.gorm.WithContext(ctx).First(&item, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(err, "get item")
	}
	return &item, nil
}

// List returns a page of items matching the filter plus the total match count.
func (r *ItemRepo) List(ctx context.Context, f ListFilter) ([]Item, int64, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}

	q := r.db.gorm.WithContext(ctx).Model(&Item{})
	if f.Search != "" {
		q = q.Where("lower(name) LIKE ?", "%"+strings.ToLower(f.Search)+"%")
	}
	if f.MinPrice > 0 {
		q = q.Where("price >= ?", f.MinPrice)
	}
	if f.MaxPrice > 0 {
		q = q.Where("price <= ?", f.MaxPrice)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, xerrors.Wrap(err, "count items")
	}

	q = q.Order(orderClause(f.Sort))
	q = q.Offset((f.Page - 1) * f.Limit).Limit(f.Limit)

	var items []Item
	if err := q.Find(&items).Error; err != nil {
		return nil, 0, xerrors.Wrap(err, "list items")
	}
	return items, total, nil
}

// Update applies name, description and price to an existing item. Returns
// ErrNotFound when the id does not exist.
func (r *ItemRepo) Update(ctx context.Context, item *Item) error {
	res := r.db.gorm.WithContext(ctx).Model(&Item{ID: item.ID}).
		Select("name", "description", "price").
		Updates(map[string]any{
			"name":        item.Name,
			"description": item.Description,
			"price":       item.Price,
		})
	if res.Error != nil {
		return xerrors.Wrap(res.Error, "update item")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the item by id, returning ErrNotFound when absent.
func (r *ItemRepo) Delete(ctx context.Context, id int64) error {
	res := r.db.gorm.WithContext(ctx).Delete(&Item{}, id)
	if res.Error != nil {
		return xerrors.Wrap(res.Error, "delete item")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func orderClause(sort string) string {
	desc := false
	if len(sort) > 0 && sort[0] == '-' {
		desc = true
		sort = sort[1:]
	}
	switch sort {
	case "name", "price", "created_at":
	default:
		sort = "id"
	}
	if desc {
		return sort + " DESC"
	}
	return sort + " ASC"
}
