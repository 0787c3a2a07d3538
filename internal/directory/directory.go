// Package directory resolves badge credentials to employees.
package directory

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"attendguard/internal/model"
)

// Backend is the employee lookup the directory caches.
type Backend interface {
	FindEmployeeByCredential(ctx context.Context, credential string) (model.Employee, error)
	SaveEmployee(ctx context.Context, emp model.Employee) (model.Employee, error)
}

type Directory struct {
	backend Backend
	cache   *lru.Cache[string, model.Employee]
}

func New(backend Backend, size int) (*Directory, error) {
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, model.Employee](size)
	if err != nil {
		return nil, err
	}
	return &Directory{backend: backend, cache: cache}, nil
}

// FindByCredential returns the employee holding the badge. Misses are not
// cached, so a newly imported badge resolves on its first swipe.
func (d *Directory) FindByCredential(ctx context.Context, credential string) (model.Employee, error) {
	key := cacheKey(credential)
	if emp, ok := d.cache.Get(key); ok {
		return emp, nil
	}
	emp, err := d.backend.FindEmployeeByCredential(ctx, strings.TrimSpace(credential))
	if err != nil {
		return model.Employee{}, err
	}
	d.cache.Add(key, emp)
	return emp, nil
}

// Import upserts employees by code and drops the cache.
func (d *Directory) Import(ctx context.Context, employees []model.Employee) (int, error) {
	defer d.cache.Purge()
	saved := 0
	for _, emp := range employees {
		if _, err := d.backend.SaveEmployee(ctx, emp); err != nil {
			return saved, fmt.Errorf("import %s: %w", emp.Code, err)
		}
		saved++
	}
	return saved, nil
}

func (d *Directory) Purge() {
	d.cache.Purge()
}

func (d *Directory) Len() int {
	return d.cache.Len()
}

func cacheKey(credential string) string {
	return strings.ToUpper(strings.TrimSpace(credential))
}
