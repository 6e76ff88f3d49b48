package entity

import (
	"database/sql"
	"strconv"
	"time"
)

// MetaIgnored marks a row to be left out of searches and reports
const MetaIgnored int64 = 1

// Instrumented carries the columns every table has. The primary key comes
// from the key allocator, never from the database.
type Instrumented struct {
	PrimaryKey int64 `db:"primarykey"`
	MetaFlags  int64 `db:"metaflags"`
}

func (e *Instrumented) Key() int64       { return e.PrimaryKey }
func (e *Instrumented) SetKey(key int64) { e.PrimaryKey = key }

// Ignored reports whether bit 0 of the meta flags is set
func (e *Instrumented) Ignored() bool { return e.MetaFlags&MetaIgnored != 0 }

func (e *Instrumented) UniqueKey() string { return strconv.FormatInt(e.PrimaryKey, 10) }

func (e *Instrumented) columns() []string { return []string{"primarykey", "metaflags"} }
func (e *Instrumented) values() []any     { return []any{e.PrimaryKey, e.MetaFlags} }

// Uploadable is a row that is refreshed by spreadsheet uploads
type Uploadable struct {
	Instrumented
	TimeLastUploaded sql.NullTime `db:"timelastuploaded"`
}

// MarkUploaded sets the upload time, which is never null after it
func (e *Uploadable) MarkUploaded(t time.Time) {
	e.TimeLastUploaded = sql.NullTime{Time: t, Valid: true}
}

func (e *Uploadable) uploadable() *Uploadable { return e }

func (e *Uploadable) columns() []string {
	return append(e.Instrumented.columns(), "timelastuploaded")
}

func (e *Uploadable) values() []any {
	return append(e.Instrumented.values(), e.TimeLastUploaded)
}

// Named is an uploadable row identified by its unique name
type Named struct {
	Uploadable
	Name string `db:"name"`
}

func (e *Named) UniqueKey() string { return e.Name }

func (e *Named) columns() []string { return append(e.Uploadable.columns(), "name") }
func (e *Named) values() []any     { return append(e.Uploadable.values(), e.Name) }

// NamedWithID is a named row identified by an external numeric id
type NamedWithID struct {
	Named
	ID int64 `db:"id"`
}

func (e *NamedWithID) UniqueKey() string { return strconv.FormatInt(e.ID, 10) }

func (e *NamedWithID) columns() []string { return append(e.Named.columns(), "id") }
func (e *NamedWithID) values() []any     { return append(e.Named.values(), e.ID) }

// Uploaded is implemented by every entity embedding Uploadable
type Uploaded interface {
	Entity
	uploadable() *Uploadable
}

// UploadTime returns the upload time of e and whether it has one
func UploadTime(e Uploaded) (time.Time, bool) {
	u := e.uploadable()
	return u.TimeLastUploaded.Time, u.TimeLastUploaded.Valid
}

// SetUploadTime sets or clears the upload time of e
func SetUploadTime(e Uploaded, t sql.NullTime) {
	e.uploadable().TimeLastUploaded = t
}
