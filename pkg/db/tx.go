package db

import (
	"database/sql"

	"gorm.io/gorm"
)

// SerializableTx returns the transaction options for a SERIALIZABLE unit of
// work on db. SQLite only runs serializable transactions and its drivers reject
// explicit isolation levels, so nil is returned there.
func SerializableTx(db *gorm.DB) *sql.TxOptions {
	if db == nil || db.Dialector == nil {
		return nil
	}
	if db.Dialector.Name() == DialectSQLite {
		return nil
	}
	return &sql.TxOptions{Isolation: sql.LevelSerializable}
}
