package database

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Queryable is the common subset of sqlx.DB and sqlx.Tx that stores accept,
// allowing the same store methods to run inside or outside a transaction.
type Queryable interface {
	Select(dest interface{}, query string, args ...interface{}) error
	Get(dest interface{}, query string, args ...interface{}) error
	Exec(query string, args ...interface{}) (sql.Result, error)
	NamedExec(query string, arg interface{}) (sql.Result, error)
	Rebind(query string) string
}

// JsonColumn wraps a JSONB column, handling the (un)marshalling of the
// underlying type during scanning and valuing.
type JsonColumn[T any] struct {
	val *T
}

func (j *JsonColumn[T]) Scan(src any) error {
	if src == nil {
		j.val = nil
		return nil
	}

	srcBytes, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JsonColumn", src)
	}

	val := new(T)
	if err := json.Unmarshal(srcBytes, val); err != nil {
		return err
	}

	j.val = val
	return nil
}

func (j JsonColumn[T]) Value() (driver.Value, error) {
	if j.val == nil {
		return nil, nil
	}

	return json.Marshal(*j.val)
}

func (j *JsonColumn[T]) Get() *T { return j.val }

func NewJsonColumn[T any](val *T) JsonColumn[T] { return JsonColumn[T]{val: val} }
