// Package testutil opens in-memory databases carrying the service schema for
// package tests.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

var schema = []string{
	`CREATE TABLE students (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE classes (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE class_students (
		class_id TEXT NOT NULL,
		student_ref TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_class_students ON class_students(class_id, student_ref)`,
	`CREATE TABLE class_teachers (
		class_id TEXT NOT NULL,
		teacher_ref TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_class_teachers ON class_teachers(class_id, teacher_ref)`,
	`CREATE TABLE payments (
		id BIGINT PRIMARY KEY,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		method TEXT NOT NULL,
		state TEXT NOT NULL,
		student_id TEXT NOT NULL,
		class_id TEXT,
		description TEXT NOT NULL,
		gateway_intent_id TEXT,
		gateway_charge_id TEXT,
		failure_reason TEXT,
		invoiced BOOLEAN NOT NULL DEFAULT FALSE,
		enrollment_applied_at DATETIME,
		refunded_at DATETIME,
		line_items TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		expires_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_payments_gateway_intent_id ON payments(gateway_intent_id)`,
	`CREATE TABLE payment_events (
		id BIGINT PRIMARY KEY,
		provider TEXT NOT NULL,
		provider_event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		gateway_intent_id TEXT,
		payload TEXT NOT NULL,
		received_at DATETIME NOT NULL,
		processed_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_payment_events_provider_event_id ON payment_events(provider, provider_event_id)`,
	`CREATE TABLE invoices (
		id BIGINT PRIMARY KEY,
		payment_id BIGINT NOT NULL,
		invoice_number TEXT NOT NULL,
		body TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		issued_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_invoices_payment_id ON invoices(payment_id)`,
	`CREATE UNIQUE INDEX ux_invoices_invoice_number ON invoices(invoice_number)`,
}

// NewSQLiteDB returns a fresh in-memory database with every table created.
// A single connection keeps transactions strictly serialized.
func NewSQLiteDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:classpay_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("schema exec failed: %v", err)
		}
	}
	return db
}

func SeedStudent(t testing.TB, db *gorm.DB, id, name string) {
	t.Helper()
	if err := db.Exec(
		"INSERT INTO students (id, name, email, created_at) VALUES (?, ?, ?, ?)",
		id, name, id+"@example.test", time.Now().UTC(),
	).Error; err != nil {
		t.Fatalf("seed student: %v", err)
	}
}

func SeedClass(t testing.TB, db *gorm.DB, id, title string) {
	t.Helper()
	if err := db.Exec(
		"INSERT INTO classes (id, title, created_at) VALUES (?, ?, ?)",
		id, title, time.Now().UTC(),
	).Error; err != nil {
		t.Fatalf("seed class: %v", err)
	}
}

// Count runs a COUNT query and returns its result.
func Count(t testing.TB, db *gorm.DB, query string, args ...any) int64 {
	t.Helper()
	var count int64
	if err := db.Raw(query, args...).Scan(&count).Error; err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	return count
}
