package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var (
	ErrInvalidClass  = errors.New("invalid_class")
	ErrInvalidMember = errors.New("invalid_member")
)

type Repository interface {
	LockClass(ctx context.Context, db *gorm.DB, classID string) (bool, error)
	ClassExists(ctx context.Context, db *gorm.DB, classID string) (bool, error)
	StudentExists(ctx context.Context, db *gorm.DB, studentID string) (bool, error)
	HasMember(ctx context.Context, db *gorm.DB, role Role, classID, ref string) (bool, error)
	AddMember(ctx context.Context, db *gorm.DB, role Role, classID, ref string, at time.Time) (bool, error)
	RemoveMember(ctx context.Context, db *gorm.DB, role Role, classID, ref string) (bool, error)
}

// Service is the only writer of class rosters.
type Service interface {
	EnrollStudent(ctx context.Context, classID, studentID string) (RosterChangeResult, error)
	UnenrollStudent(ctx context.Context, classID, studentID string) (RosterChangeResult, error)
	AssignTeacher(ctx context.Context, classID, teacherID string) (RosterChangeResult, error)
	UnassignTeacher(ctx context.Context, classID, teacherID string) (RosterChangeResult, error)
	Status(ctx context.Context, classID, studentID string) (bool, error)
}
