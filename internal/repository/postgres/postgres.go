package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"carrent-backend/internal/logger"
	"carrent-backend/internal/repository"
	"carrent-backend/internal/repository/postgres/migrations"

	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

// DBTX is the subset of database/sql used by the repositories.
// Both *sql.DB and *sql.Tx satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// repos binds every repository to one DBTX.
type repos struct {
	users       repository.UserRepository
	cars        repository.CarRepository
	gps         repository.GPSDeviceRepository
	contracts   repository.CarContractRepository
	inspections repository.InspectionScheduleRepository
	bookings    repository.BookingRepository
	trips       repository.TripTrackingRepository
	feedback    repository.FeedbackRepository
	keys        repository.EncryptionKeyRepository
	payments    repository.PaymentRepository
	jobs        repository.JobRepository
}

func newRepos(db DBTX) *repos {
	return &repos{
		users:       NewUserRepository(db),
		cars:        NewCarRepository(db),
		gps:         NewGPSDeviceRepository(db),
		contracts:   NewCarContractRepository(db),
		inspections: NewInspectionScheduleRepository(db),
		bookings:    NewBookingRepository(db),
		trips:       NewTripTrackingRepository(db),
		feedback:    NewFeedbackRepository(db),
		keys:        NewEncryptionKeyRepository(db),
		payments:    NewPaymentRepository(db),
		jobs:        NewJobRepository(db),
	}
}

func (r *repos) Users() repository.UserRepository { return r.users }
func (r *repos) Cars() repository.CarRepository { return r.cars }
func (r *repos) GPS() repository.GPSDeviceRepository { return r.gps }
func (r *repos) Contracts() repository.CarContractRepository { return r.contracts }
func (r *repos) Inspections() repository.InspectionScheduleRepository { return r.inspections }
func (r *repos) Bookings() repository.BookingRepository { return r.bookings }
func (r *repos) Trips() repository.TripTrackingRepository { return r.trips }
func (r *repos) Feedback() repository.FeedbackRepository { return r.feedback }
func (r *repos) Keys() repository.EncryptionKeyRepository { return r.keys }
func (r *repos) Payments() repository.PaymentRepository { return r.payments }
func (r *repos) Jobs() repository.JobRepository { return r.jobs }

type Store struct {
	db *sql.DB
	*repos
}

var _ repository.Store = (*Store)(nil)

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, repos: newRepos(db)}
}

// WithinTx begins a read-committed transaction and runs fn with
// repositories bound to it. Row locks taken inside fn are held until commit.
// Panics roll back and are rethrown.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, r repository.Repos) error) (err error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Warn("Rollback failed", "error", rbErr)
			}
			return
		}
		err = tx.Commit()
	}()

	return fn(ctx, newRepos(tx))
}

// gooseUp is a seam for testing Migrate.
var gooseUp = func(ctx context.Context, db *sql.DB, dir string) error {
	return goose.UpContext(ctx, db, dir)
}

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := gooseUp(ctx, db, "."); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// MigrateDown rolls back the most recent migration.
func MigrateDown(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	return goose.DownContext(ctx, db, ".")
}

// MigrationStatus logs the state of every migration.
func MigrationStatus(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	return goose.StatusContext(ctx, db, ".")
}

const uniqueViolation = "23505"

// mapError translates driver errors into repository sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", repository.ErrDuplicate, pqErr.Constraint)
	}
	return err
}

// expectOne maps a zero-row update to notFound.
func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func deletedFilter(inc repository.Inclusion) string {
	if inc == repository.IncludeDeleted {
		return ""
	}
	return " AND deleted_at IS NULL"
}
