package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"liveclass/pkg/database"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

const (
	defaultRetryDelay   = 5 * time.Second
	defaultWriteTimeout = 30 * time.Second
)

// Store is the SQLite-backed class catalog. Reads run on the pool; every
// write goes through one goroutine so SQLite never sees competing writers.
type Store struct {
	db           *sql.DB
	logger       zerolog.Logger
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	retryDelay   time.Duration
	writeTimeout time.Duration
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// Open connects to the database described by cfg and applies the embedded
// migrations.
func Open(cfg *database.Config, logger *zerolog.Logger) (*Store, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrationManager(db, database.Migrations()).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate catalog: %w", err)
	}

	s := &Store{
		db:           db,
		logger:       logger.With().Str("component", "catalog").Logger(),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		retryDelay:   defaultRetryDelay,
		writeTimeout: defaultWriteTimeout,
	}

	s.wg.Add(1)
	go s.writeLoop()

	return s, nil
}

// writeLoop retries a failed write once, and only when SQLite reports the
// database as busy or locked.
func (s *Store) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case op := <-s.writeChannel:
			err := op.operation(s.db)
			if isBusy(err) {
				s.logger.Warn().Err(err).Dur("retryIn", s.retryDelay).Msg("catalog write busy, retrying")
				time.Sleep(s.retryDelay)
				err = op.operation(s.db)
			}
			if err != nil {
				s.logger.Error().Err(err).Msg("catalog write failed")
			}
			op.result <- err

		case <-s.shutdown:
			return
		}
	}
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

func isPrimaryKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func (s *Store) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrStoreClosed
	}

	result := make(chan error, 1)

	select {
	case s.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-time.After(s.writeTimeout):
		return ErrWriteTimeout
	case <-s.shutdown:
		return ErrStoreClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateClass inserts a new class. StartTime defaults to now and Status to
// active.
func (s *Store) CreateClass(ctx context.Context, class *types.Class) error {
	if class.StartTime.IsZero() {
		class.StartTime = time.Now().UTC()
	}
	if class.Status == "" {
		class.Status = types.ClassStatusActive
	}
	if err := class.Validate(); err != nil {
		return err
	}

	return s.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO classes (id, room_id, title, instructor_id, start_time, end_time, status)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			class.ID,
			class.RoomID,
			class.Title,
			class.InstructorID,
			class.StartTime,
			class.EndTime,
			class.Status,
		)
		if isPrimaryKeyViolation(err) {
			return fmt.Errorf("%w: %s", ErrClassExists, class.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to insert class: %w", err)
		}
		return nil
	})
}

// EndClass marks an active class as ended
func (s *Store) EndClass(ctx context.Context, classID string) error {
	now := time.Now().UTC()
	return s.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			UPDATE classes SET end_time = ?, status = ?
			WHERE id = ? AND status = ?
		`, now, types.ClassStatusEnded, classID, types.ClassStatusActive)
		if err != nil {
			return fmt.Errorf("failed to end class: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to end class: %w", err)
		}
		if n > 0 {
			return nil
		}

		var status string
		err = db.QueryRowContext(ctx, "SELECT status FROM classes WHERE id = ?", classID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return interfaces.ErrClassNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to query class: %w", err)
		}
		return ErrClassAlreadyEnded
	})
}

const classColumns = `id, room_id, title, instructor_id, start_time, end_time, status`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanClass(row scanner) (*types.Class, error) {
	var class types.Class
	var endTime sql.NullTime

	if err := row.Scan(
		&class.ID,
		&class.RoomID,
		&class.Title,
		&class.InstructorID,
		&class.StartTime,
		&endTime,
		&class.Status,
	); err != nil {
		return nil, err
	}
	if endTime.Valid {
		class.EndTime = &endTime.Time
	}
	return &class, nil
}

// GetClass returns interfaces.ErrClassNotFound for unknown ids
func (s *Store) GetClass(ctx context.Context, classID string) (*types.Class, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+classColumns+" FROM classes WHERE id = ?", classID)
	class, err := scanClass(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrClassNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query class: %w", err)
	}
	return class, nil
}

// ListActiveClasses returns active classes, newest first
func (s *Store) ListActiveClasses(ctx context.Context) ([]*types.Class, error) {
	return s.list(ctx, "SELECT "+classColumns+" FROM classes WHERE status = ? ORDER BY start_time DESC", types.ClassStatusActive)
}

// ListClasses returns every class, newest first
func (s *Store) ListClasses(ctx context.Context) ([]*types.Class, error) {
	return s.list(ctx, "SELECT "+classColumns+" FROM classes ORDER BY start_time DESC")
}

func (s *Store) list(ctx context.Context, query string, args ...interface{}) ([]*types.Class, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query classes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var classes []*types.Class
	for rows.Next() {
		class, err := scanClass(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan class row: %w", err)
		}
		classes = append(classes, class)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating class rows: %w", err)
	}
	return classes, nil
}

// HealthCheck pings the database and runs a trivial read
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM classes").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close stops the writer and closes the database. Repeated calls are no-ops.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
