package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/classpay/internal/enrollment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// LockClass takes the row lock that serializes roster writers of one class.
func (r *repo) LockClass(ctx context.Context, db *gorm.DB, classID string) (bool, error) {
	var class domain.Class
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		Where("id = ?", classID).
		Take(&class).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *repo) ClassExists(ctx context.Context, db *gorm.DB, classID string) (bool, error) {
	return exists(ctx, db, `SELECT COUNT(1) FROM classes WHERE id = ?`, classID)
}

func (r *repo) StudentExists(ctx context.Context, db *gorm.DB, studentID string) (bool, error) {
	return exists(ctx, db, `SELECT COUNT(1) FROM students WHERE id = ?`, studentID)
}

func (r *repo) HasMember(ctx context.Context, db *gorm.DB, role domain.Role, classID, ref string) (bool, error) {
	table, column, err := memberTable(role)
	if err != nil {
		return false, err
	}
	return exists(ctx, db,
		fmt.Sprintf(`SELECT COUNT(1) FROM %s WHERE class_id = ? AND %s = ?`, table, column),
		classID, ref,
	)
}

// AddMember inserts the membership; a concurrent insert of the same pair is
// absorbed by the unique constraint and reported as false.
func (r *repo) AddMember(ctx context.Context, db *gorm.DB, role domain.Role, classID, ref string, at time.Time) (bool, error) {
	var row any
	switch role {
	case domain.RoleStudent:
		row = &domain.ClassStudent{ClassID: classID, StudentRef: ref, CreatedAt: at}
	case domain.RoleTeacher:
		row = &domain.ClassTeacher{ClassID: classID, TeacherRef: ref, CreatedAt: at}
	default:
		return false, fmt.Errorf("unknown roster role %d", role)
	}

	res := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) RemoveMember(ctx context.Context, db *gorm.DB, role domain.Role, classID, ref string) (bool, error) {
	table, column, err := memberTable(role)
	if err != nil {
		return false, err
	}
	res := db.WithContext(ctx).Exec(
		fmt.Sprintf(`DELETE FROM %s WHERE class_id = ? AND %s = ?`, table, column),
		classID, ref,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func memberTable(role domain.Role) (string, string, error) {
	switch role {
	case domain.RoleStudent:
		return "class_students", "student_ref", nil
	case domain.RoleTeacher:
		return "class_teachers", "teacher_ref", nil
	default:
		return "", "", fmt.Errorf("unknown roster role %d", role)
	}
}

func exists(ctx context.Context, db *gorm.DB, query string, args ...any) (bool, error) {
	var count int64
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
