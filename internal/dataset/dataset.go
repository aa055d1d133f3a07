// Package dataset models the key/value rows reconciled by the reconcile CLI
// and loads incoming rows from YAML files.
package dataset

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/jdziat/simple-batch-runtime/pkg/iterator"
	"github.com/jdziat/simple-batch-runtime/pkg/security"
	"github.com/jdziat/simple-batch-runtime/pkg/storage"
)

// Row is one keyed record of a reconciled table.
type Row struct {
	ID    string `gorm:"column:id;primaryKey;size:255" yaml:"id" json:"id"`
	Value string `gorm:"column:value" yaml:"value" json:"value"`
}

// File is the on-disk shape of an incoming dataset.
type File struct {
	Rows []Row `yaml:"rows"`
}

// CompareKey orders rows by ID using byte-wise comparison.
func CompareKey(a, b Row) int {
	return cmp.Compare(a.ID, b.ID)
}

// Equal reports whether two rows sharing a key carry the same value.
func Equal(a, b Row) bool {
	return a.Value == b.Value
}

// ErrEmptyID is returned when an incoming row has no id.
var ErrEmptyID = errors.New("dataset: row id is required")

// Load reads an incoming dataset from a YAML file.
func Load(path string, logger *slog.Logger) ([]Row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: read %s: %w", path, err)
	}
	return Parse(bytes.NewReader(data), logger)
}

// Parse decodes a YAML dataset, rejecting unknown fields and empty ids.
// Rows repeating an id keep their first occurrence. The result is sorted
// by CompareKey.
func Parse(r io.Reader, logger *slog.Logger) ([]Row, error) {
	var file File
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("dataset: parse YAML: %w", err)
	}

	for i, row := range file.Rows {
		if row.ID == "" {
			return nil, fmt.Errorf("%w (row %d)", ErrEmptyID, i)
		}
	}

	first := func(a, b Row) int { return 0 }
	it, err := iterator.Distinct(iterator.FromSlice(file.Rows), func(r Row) string { return r.ID }, first, logger)
	if err != nil {
		return nil, err
	}
	rows, err := iterator.Collect(it)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(rows, CompareKey)
	return rows, nil
}

// ReferenceQuery returns the statement reading table ordered by id in the
// same byte order as CompareKey.
func ReferenceQuery(driver, table string) (string, error) {
	if err := security.ValidateTableName(table); err != nil {
		return "", err
	}
	if driver == storage.DriverPostgres {
		return fmt.Sprintf(`SELECT id, value FROM %s ORDER BY id COLLATE "C"`, table), nil
	}
	return fmt.Sprintf("SELECT id, value FROM %s ORDER BY id", table), nil
}

// Reference opens an ordered iterator over the rows currently in table.
func Reference(ctx context.Context, db *gorm.DB, table string) (iterator.Iterator[Row], error) {
	query, err := ReferenceQuery(db.Name(), table)
	if err != nil {
		return nil, err
	}
	return storage.Query[Row](ctx, db, query)
}

// Migrate creates table with the Row schema when missing.
func Migrate(ctx context.Context, db *gorm.DB, table string) error {
	if err := security.ValidateTableName(table); err != nil {
		return err
	}
	return db.WithContext(ctx).Table(table).AutoMigrate(&Row{})
}
