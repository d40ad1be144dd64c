package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/classpay/internal/cache"
	enrollmentdomain "github.com/smallbiznis/classpay/internal/enrollment/domain"
	paymentdomain "github.com/smallbiznis/classpay/internal/payment/domain"
	"gorm.io/gorm"
)

// Directory resolves student and class references through the reference cache.
type Directory struct {
	db    *gorm.DB
	repo  enrollmentdomain.Repository
	cache cache.ReferenceCache
}

func NewDirectory(db *gorm.DB, repo enrollmentdomain.Repository, refs cache.ReferenceCache) *Directory {
	return &Directory{db: db, repo: repo, cache: refs}
}

func (d *Directory) StudentExists(ctx context.Context, studentID string) (bool, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return false, nil
	}
	if exists, hit := d.cache.Student(studentID); hit {
		return exists, nil
	}
	exists, err := d.repo.StudentExists(ctx, d.db, studentID)
	if err != nil {
		return false, err
	}
	d.cache.SetStudent(studentID, exists)
	return exists, nil
}

func (d *Directory) ClassExists(ctx context.Context, classID string) (bool, error) {
	classID = strings.TrimSpace(classID)
	if classID == "" {
		return false, nil
	}
	if exists, hit := d.cache.Class(classID); hit {
		return exists, nil
	}
	exists, err := d.repo.ClassExists(ctx, d.db, classID)
	if err != nil {
		return false, err
	}
	d.cache.SetClass(classID, exists)
	return exists, nil
}

var _ paymentdomain.Directory = (*Directory)(nil)
