package domain

import "time"

type Class struct {
	ID        string    `json:"id" gorm:"primaryKey;type:text"`
	Title     string    `json:"title" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"not null"`
}

func (Class) TableName() string { return "classes" }

type Student struct {
	ID        string    `json:"id" gorm:"primaryKey;type:text"`
	Name      string    `json:"name" gorm:"type:text;not null"`
	Email     string    `json:"email" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at" gorm:"not null"`
}

func (Student) TableName() string { return "students" }

type ClassStudent struct {
	ClassID    string    `gorm:"column:class_id;primaryKey"`
	StudentRef string    `gorm:"column:student_ref;primaryKey"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (ClassStudent) TableName() string { return "class_students" }

type ClassTeacher struct {
	ClassID    string    `gorm:"column:class_id;primaryKey"`
	TeacherRef string    `gorm:"column:teacher_ref;primaryKey"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (ClassTeacher) TableName() string { return "class_teachers" }

// Role selects which roster set of a class is mutated.
type Role int

const (
	RoleStudent Role = iota + 1
	RoleTeacher
)

func (r Role) String() string {
	switch r {
	case RoleStudent:
		return "student"
	case RoleTeacher:
		return "teacher"
	default:
		return "unknown"
	}
}

// RosterChangeResult reports what a roster mutation did.
type RosterChangeResult string

const (
	ResultAdded          RosterChangeResult = "ADDED"
	ResultAlreadyPresent RosterChangeResult = "ALREADY_PRESENT"
	ResultRemoved        RosterChangeResult = "REMOVED"
	ResultAbsent         RosterChangeResult = "ABSENT"
)

// Changed reports whether the roster was modified.
func (r RosterChangeResult) Changed() bool {
	return r == ResultAdded || r == ResultRemoved
}
