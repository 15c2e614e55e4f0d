package postgres

import (
	"context"

	"carrent-backend/internal/domain"
	"carrent-backend/internal/logger"
	"carrent-backend/internal/repository"
)

type carContractRepository struct {
	db DBTX
}

func NewCarContractRepository(db DBTX) repository.CarContractRepository {
	return &carContractRepository{db: db}
}

const carContractColumns = `id, car_id, technician_id, gps_device_id, owner_signature_date, technician_signature_date,
	inspection_results, terms, contract_html, status, created_at, updated_at`

func scanCarContract(s scanner) (*domain.CarContract, error) {
	c := &domain.CarContract{}
	err := s.Scan(&c.ID, &c.CarID, &c.TechnicianID, &c.GPSDeviceID, &c.OwnerSignatureDate, &c.TechnicianSignatureDate,
		&c.InspectionResults, &c.Terms, &c.ContractHTML, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *carContractRepository) Create(ctx context.Context, c *domain.CarContract) error {
	query := `
		INSERT INTO car_contracts (
			car_id, technician_id, gps_device_id, owner_signature_date, technician_signature_date,
			inspection_results, terms, contract_html, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		c.CarID, c.TechnicianID, c.GPSDeviceID, c.OwnerSignatureDate, c.TechnicianSignatureDate,
		c.InspectionResults, c.Terms, c.ContractHTML, c.Status, c.CreatedAt, c.UpdatedAt,
	).Scan(&c.ID)
	return mapError(err)
}

func (r *carContractRepository) GetByCarID(ctx context.Context, carID int32) (*domain.CarContract, error) {
	query := `SELECT ` + carContractColumns + ` FROM car_contracts WHERE car_id = $1`
	c, err := scanCarContract(r.db.QueryRowContext(ctx, query, carID))
	if err != nil {
		return nil, mapError(err)
	}
	return c, nil
}

func (r *carContractRepository) GetByCarIDForUpdate(ctx context.Context, carID int32) (*domain.CarContract, error) {
	query := `SELECT ` + carContractColumns + ` FROM car_contracts WHERE car_id = $1 FOR UPDATE`
	c, err := scanCarContract(r.db.QueryRowContext(ctx, query, carID))
	if err != nil {
		return nil, mapError(err)
	}
	return c, nil
}

func (r *carContractRepository) Update(ctx context.Context, c *domain.CarContract) error {
	logger.EnterMethod("carContractRepository.Update", "contractID", c.ID, "status", c.Status)

	query := `
		UPDATE car_contracts SET
			technician_id = $1,
			gps_device_id = $2,
			owner_signature_date = $3,
			technician_signature_date = $4,
			inspection_results = $5,
			terms = $6,
			contract_html = $7,
			status = $8,
			updated_at = $9
		WHERE id = $10
	`
	res, err := r.db.ExecContext(ctx, query,
		c.TechnicianID, c.GPSDeviceID, c.OwnerSignatureDate, c.TechnicianSignatureDate,
		c.InspectionResults, c.Terms, c.ContractHTML, c.Status, c.UpdatedAt, c.ID,
	)
	if err != nil {
		logger.ExitMethodWithError("carContractRepository.Update", err, "contractID", c.ID)
		return err
	}

	logger.ExitMethod("carContractRepository.Update", "contractID", c.ID)
	return expectOne(res, repository.ErrNotFound)
}

type inspectionScheduleRepository struct {
	db DBTX
}

func NewInspectionScheduleRepository(db DBTX) repository.InspectionScheduleRepository {
	return &inspectionScheduleRepository{db: db}
}

const inspectionColumns = `id, technician_id, car_id, status, inspection_address, inspection_date, note,
	created_by, report_id, created_at, updated_at, deleted_at`

func scanInspection(s scanner) (*domain.InspectionSchedule, error) {
	i := &domain.InspectionSchedule{}
	err := s.Scan(&i.ID, &i.TechnicianID, &i.CarID, &i.Status, &i.InspectionAddress, &i.InspectionDate, &i.Note,
		&i.CreatedBy, &i.ReportID, &i.CreatedAt, &i.UpdatedAt, &i.DeletedAt)
	if err != nil {
		return nil, err
	}
	return i, nil
}

func (r *inspectionScheduleRepository) Create(ctx context.Context, i *domain.InspectionSchedule) error {
	query := `
		INSERT INTO inspection_schedules (
			technician_id, car_id, status, inspection_address, inspection_date, note,
			created_by, report_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		i.TechnicianID, i.CarID, i.Status, i.InspectionAddress, i.InspectionDate, i.Note,
		i.CreatedBy, i.ReportID, i.CreatedAt, i.UpdatedAt,
	).Scan(&i.ID)
	return mapError(err)
}

func (r *inspectionScheduleRepository) GetByID(ctx context.Context, id int32, inc repository.Inclusion) (*domain.InspectionSchedule, error) {
	query := `SELECT ` + inspectionColumns + ` FROM inspection_schedules WHERE id = $1` + deletedFilter(inc)
	i, err := scanInspection(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err)
	}
	return i, nil
}

func (r *inspectionScheduleRepository) GetByIDForUpdate(ctx context.Context, id int32) (*domain.InspectionSchedule, error) {
	query := `SELECT ` + inspectionColumns + ` FROM inspection_schedules WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`
	i, err := scanInspection(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err)
	}
	return i, nil
}

func (r *inspectionScheduleRepository) GetActiveByCarIDForUpdate(ctx context.Context, carID int32) (*domain.InspectionSchedule, error) {
	query := `SELECT ` + inspectionColumns + ` FROM inspection_schedules
		WHERE car_id = $1 AND status IN ($2, $3) AND deleted_at IS NULL
		ORDER BY id DESC LIMIT 1 FOR UPDATE`
	i, err := scanInspection(r.db.QueryRowContext(ctx, query, carID,
		domain.InspectionStatusInProgress, domain.InspectionStatusSigned))
	if err != nil {
		return nil, mapError(err)
	}
	return i, nil
}

func (r *inspectionScheduleRepository) Update(ctx context.Context, i *domain.InspectionSchedule) error {
	query := `
		UPDATE inspection_schedules SET
			status = $1,
			inspection_address = $2,
			inspection_date = $3,
			note = $4,
			report_id = $5,
			updated_at = $6,
			deleted_at = $7
		WHERE id = $8
	`
	res, err := r.db.ExecContext(ctx, query,
		i.Status, i.InspectionAddress, i.InspectionDate, i.Note, i.ReportID, i.UpdatedAt, i.DeletedAt, i.ID)
	if err != nil {
		return err
	}
	return expectOne(res, repository.ErrNotFound)
}
