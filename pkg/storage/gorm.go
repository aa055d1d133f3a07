package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/jdziat/simple-batch-runtime/pkg/core"
	"github.com/jdziat/simple-batch-runtime/pkg/security"
)

// Default trace table names.
const (
	DefaultJobTable  = "batch_job_execution_trace"
	DefaultStepTable = "batch_step_execution_trace"
)

// StoreOption configures a GormStore.
type StoreOption interface {
	applyStore(*StoreConfig)
}

type storeOptionFunc func(*StoreConfig)

func (f storeOptionFunc) applyStore(c *StoreConfig) { f(c) }

// StoreConfig holds trace table names and insert statements.
type StoreConfig struct {
	JobTable  string
	StepTable string
	// JobInsert binds id, name, status, comment, started, finished in that order.
	JobInsert string
	// StepInsert binds id, job_id, name, status, comment, started, finished,
	// previous_id in that order.
	StepInsert string
}

// WithJobTable sets the job trace table.
func WithJobTable(name string) StoreOption {
	return storeOptionFunc(func(c *StoreConfig) {
		c.JobTable = name
	})
}

// WithStepTable sets the step trace table.
func WithStepTable(name string) StoreOption {
	return storeOptionFunc(func(c *StoreConfig) {
		c.StepTable = name
	})
}

// WithJobInsert overrides the job insert statement, for renamed columns.
// The parameter order must stay the same.
func WithJobInsert(sql string) StoreOption {
	return storeOptionFunc(func(c *StoreConfig) {
		c.JobInsert = sql
	})
}

// WithStepInsert overrides the step insert statement, for renamed columns.
// The parameter order must stay the same.
func WithStepInsert(sql string) StoreOption {
	return storeOptionFunc(func(c *StoreConfig) {
		c.StepInsert = sql
	})
}

// GormStore persists execution traces using GORM.
type GormStore struct {
	db  *gorm.DB
	cfg StoreConfig
}

// NewGormStore creates a GORM-backed trace store.
// Table names are validated since they are interpolated into SQL.
func NewGormStore(db *gorm.DB, opts ...StoreOption) (*GormStore, error) {
	cfg := StoreConfig{JobTable: DefaultJobTable, StepTable: DefaultStepTable}
	for _, opt := range opts {
		opt.applyStore(&cfg)
	}
	if err := security.ValidateTableName(cfg.JobTable); err != nil {
		return nil, fmt.Errorf("job table %q: %w", cfg.JobTable, err)
	}
	if err := security.ValidateTableName(cfg.StepTable); err != nil {
		return nil, fmt.Errorf("step table %q: %w", cfg.StepTable, err)
	}
	if cfg.JobInsert == "" {
		cfg.JobInsert = fmt.Sprintf("INSERT INTO %s (id, name, status, comment, started, finished) VALUES (?, ?, ?, ?, ?, ?)", cfg.JobTable)
	}
	if cfg.StepInsert == "" {
		cfg.StepInsert = fmt.Sprintf("INSERT INTO %s (id, job_id, name, status, comment, started, finished, previous_id) VALUES (?, ?, ?, ?, ?, ?, ?, ?)", cfg.StepTable)
	}
	return &GormStore{db: db, cfg: cfg}, nil
}

// DB returns the underlying database handle.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// Config returns the store configuration.
func (s *GormStore) Config() StoreConfig {
	return s.cfg
}

// IsSQLite reports whether the store runs on SQLite.
func (s *GormStore) IsSQLite() bool {
	return s.db != nil && s.db.Dialector != nil && s.db.Dialector.Name() == "sqlite"
}

// Migrate creates the trace tables.
func (s *GormStore) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.Table(s.cfg.JobTable).AutoMigrate(&core.JobExecution{}); err != nil {
		return fmt.Errorf("migrate %s: %w", s.cfg.JobTable, err)
	}
	if err := db.Table(s.cfg.StepTable).AutoMigrate(&core.StepExecution{}); err != nil {
		return fmt.Errorf("migrate %s: %w", s.cfg.StepTable, err)
	}
	return nil
}

// SaveExecution inserts a job and its steps in one transaction.
func (s *GormStore) SaveExecution(ctx context.Context, job *core.JobExecution, steps []core.StepExecution) error {
	if job == nil || job.ID == "" {
		return errors.New("storage: job execution without id")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Exec(s.cfg.JobInsert,
			job.ID, job.Name, job.Status, job.Comment, job.Started, job.Finished).Error
		if err != nil {
			return fmt.Errorf("insert job %s: %w", job.ID, err)
		}
		for _, step := range steps {
			err := tx.Exec(s.cfg.StepInsert,
				step.ID, job.ID, step.Name, step.Status, step.Comment,
				step.Started, step.Finished, step.PreviousID).Error
			if err != nil {
				return fmt.Errorf("insert step %s: %w", step.ID, err)
			}
		}
		return nil
	})
}

// GetJob retrieves a job execution by ID, nil when absent.
func (s *GormStore) GetJob(ctx context.Context, id string) (*core.JobExecution, error) {
	var job core.JobExecution
	err := s.db.WithContext(ctx).Table(s.cfg.JobTable).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns the most recent job executions, optionally filtered by name.
func (s *GormStore) ListJobs(ctx context.Context, name string, limit int) ([]core.JobExecution, error) {
	var jobs []core.JobExecution
	q := s.db.WithContext(ctx).Table(s.cfg.JobTable).Order("started DESC")
	if name != "" {
		q = q.Where("name = ?", name)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&jobs).Error
	return jobs, err
}

// GetSteps returns the steps of a job in execution order.
func (s *GormStore) GetSteps(ctx context.Context, jobID string) ([]core.StepExecution, error) {
	var steps []core.StepExecution
	err := s.db.WithContext(ctx).Table(s.cfg.StepTable).
		Where("job_id = ?", jobID).
		Order("started ASC").
		Find(&steps).Error
	if err != nil {
		return nil, err
	}
	return OrderSteps(steps), nil
}

// OrderSteps rebuilds execution order by following PreviousID links from
// the step without predecessor. Steps the chain does not reach are appended
// in their input order.
func OrderSteps(steps []core.StepExecution) []core.StepExecution {
	if len(steps) < 2 {
		return steps
	}

	next := make(map[string]int, len(steps))
	head := -1
	for i, s := range steps {
		if s.PreviousID == nil {
			if head < 0 {
				head = i
			}
			continue
		}
		if _, dup := next[*s.PreviousID]; !dup {
			next[*s.PreviousID] = i
		}
	}

	ordered := make([]core.StepExecution, 0, len(steps))
	seen := make([]bool, len(steps))
	for i := head; i >= 0 && !seen[i]; {
		seen[i] = true
		ordered = append(ordered, steps[i])
		n, ok := next[steps[i].ID]
		if !ok {
			break
		}
		i = n
	}
	for i, s := range steps {
		if !seen[i] {
			ordered = append(ordered, s)
		}
	}
	return ordered
}
