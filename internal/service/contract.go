package service

import (
	"context"
	"errors"
	"time"

	"carrent-backend/internal/apperr"
	"carrent-backend/internal/domain"
	"carrent-backend/internal/geo"
	"carrent-backend/internal/logger"
	"carrent-backend/internal/repository"
)

type RegisterCarRequest struct {
	LicensePlate string `validate:"required,max=20"`
	Make         string `validate:"required,max=100"`
	Model        string `validate:"required,max=100"`
	PricePerHour int64  `validate:"gte=0"`
	PricePerDay  int64  `validate:"gt=0"`
}

type RegisterGPSDeviceRequest struct {
	OSBuildID string `validate:"required,max=100"`
	Name      string `validate:"required,max=100"`
}

type CreateInspectionScheduleRequest struct {
	CarID             int32     `validate:"required"`
	TechnicianID      int32     `validate:"required"`
	InspectionAddress string    `validate:"required,max=500"`
	InspectionDate    time.Time `validate:"required"`
	Note              string    `validate:"max=1000"`
	ReportID          *int32
}

type UpdateContractRequest struct {
	ScheduleID  int32 `validate:"required"`
	GPSDeviceID *int32
	// Terms replaces the free-text terms when set; nil keeps them.
	Terms *string `validate:"omitnil,max=10000"`
}

type CompleteInspectionRequest struct {
	ScheduleID        int32  `validate:"required"`
	InspectionResults string `validate:"required,max=10000"`
	GPSDeviceID       int32  `validate:"required"`
	IsApproved        bool
}

type ApproveInspectionRequest struct {
	ScheduleID int32  `validate:"required"`
	Note       string `validate:"max=1000"`
	IsApproved bool
}

type contractService struct {
	Deps
}

func NewContractService(d Deps) ContractService {
	return &contractService{Deps: d}
}

func (s *contractService) RegisterCar(ctx context.Context, c Caller, req RegisterCarRequest) (*domain.Car, error) {
	logger.EnterMethod("contractService.RegisterCar", "ownerID", c.UserID)
	if err := authorize(c, domain.ActionRegisterCar); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	now := s.Clock.now()
	var car *domain.Car
	err := s.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repos) error {
		key, err := s.Crypto.NewEntityKey(now)
		if err != nil {
			return apperr.Internal(err, "generate car key")
		}
		if err := r.Keys().Create(ctx, key); err != nil {
			return writeErr(err, "encryption key")
		}
		plate, err := s.Crypto.Seal(key, req.LicensePlate)
		if err != nil {
			return apperr.Internal(err, "encrypt license plate")
		}
		car = &domain.Car{
			OwnerID:         c.UserID,
			Make:            req.Make,
			Model:           req.Model,
			LicensePlate:    plate,
			EncryptionKeyID: key.ID,
			PricePerHour:    req.PricePerHour,
			PricePerDay:     req.PricePerDay,
			Status:          domain.CarStatusPending,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := r.Cars().Create(ctx, car); err != nil {
			return writeErr(err, "car")
		}
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("contractService.RegisterCar", err)
		return nil, finish(err, "register car")
	}
	logger.Info("Car registered", "car_id", car.ID, "owner_id", c.UserID)
	logger.ExitMethod("contractService.RegisterCar", "carID", car.ID)
	return car, nil
}

func (s *contractService) RegisterGPSDevice(ctx context.Context, c Caller, req RegisterGPSDeviceRequest) (*domain.GPSDevice, error) {
	if err := authorize(c, domain.ActionManageDevices); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	now := s.Clock.now()
	device := &domain.GPSDevice{
		OSBuildID: req.OSBuildID,
		Name:      req.Name,
		Status:    domain.GPSDeviceStatusAvailable,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Store.GPS().Create(ctx, device); err != nil {
		return nil, writeErr(err, "gps device %s", req.OSBuildID)
	}
	logger.Info("GPS device registered", "device_id", device.ID)
	return device, nil
}

func (s *contractService) CreateInspectionSchedule(ctx context.Context, c Caller, req CreateInspectionScheduleRequest) (*domain.InspectionSchedule, error) {
	if err := authorize(c, domain.ActionScheduleInspection); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	now := s.Clock.now()
	if !req.InspectionDate.After(now) {
		return nil, apperr.Validation("inspection date must be in the future")
	}

	var schedule *domain.InspectionSchedule
	err := s.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repos) error {
		if _, err := r.Cars().GetByID(ctx, req.CarID, repository.ExcludeDeleted); err != nil {
			return lookupErr(err, "car %d", req.CarID)
		}
		tech, err := r.Users().GetByID(ctx, req.TechnicianID, repository.ExcludeDeleted)
		if err != nil {
			return lookupErr(err, "technician %d", req.TechnicianID)
		}
		if tech.Role != domain.RoleTechnician {
			return apperr.Validation("user %d is not a technician", tech.ID)
		}

		schedule = &domain.InspectionSchedule{
			TechnicianID:      req.TechnicianID,
			CarID:             req.CarID,
			Status:            domain.InspectionStatusPending,
			InspectionAddress: req.InspectionAddress,
			InspectionDate:    req.InspectionDate,
			Note:              req.Note,
			CreatedBy:         c.UserID,
			ReportID:          req.ReportID,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := r.Inspections().Create(ctx, schedule); err != nil {
			return writeErr(err, "inspection schedule")
		}
		job := &domain.ScheduledJob{
			Kind:      domain.JobKindInspectionExpiry,
			EntityID:  schedule.ID,
			RunAt:     req.InspectionDate,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := r.Jobs().Enqueue(ctx, job); err != nil {
			return writeErr(err, "inspection expiry job")
		}
		return nil
	})
	if err != nil {
		return nil, finish(err, "create inspection schedule")
	}
	logger.Info("Inspection scheduled", "schedule_id", schedule.ID, "car_id", schedule.CarID, "technician_id", schedule.TechnicianID)
	return schedule, nil
}

// loadAssignedSchedule locks the schedule and checks the caller is its technician.
func loadAssignedSchedule(ctx context.Context, r repository.Repos, c Caller, scheduleID int32) (*domain.InspectionSchedule, error) {
	schedule, err := r.Inspections().GetByIDForUpdate(ctx, scheduleID)
	if err != nil {
		return nil, lookupErr(err, "inspection schedule %d", scheduleID)
	}
	if schedule.TechnicianID != c.UserID {
		return nil, apperr.Forbidden("inspection schedule %d is assigned to another technician", scheduleID)
	}
	return schedule, nil
}

func (s *contractService) StartInspection(ctx context.Context, c Caller, scheduleID int32) (*domain.InspectionSchedule, error) {
	if err := authorize(c, domain.ActionInspect); err != nil {
		return nil, err
	}
	now := s.Clock.now()
	var schedule *domain.InspectionSchedule
	err := s.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repos) error {
		var err error
		if schedule, err = loadAssignedSchedule(ctx, r, c, scheduleID); err != nil {
			return err
		}
		if schedule.Status != domain.InspectionStatusPending {
			return apperr.Conflict("inspection schedule %d is %s and cannot be started", scheduleID, schedule.Status)
		}
		schedule.Status = domain.InspectionStatusInProgress
		schedule.UpdatedAt = now
		if err := r.Inspections().Update(ctx, schedule); err != nil {
			return writeErr(err, "inspection schedule %d", scheduleID)
		}
		return nil
	})
	if err != nil {
		return nil, finish(err, "start inspection")
	}
	return schedule, nil
}

func (s *contractService) UpdateContract(ctx context.Context, c Caller, req UpdateContractRequest) (*domain.CarContract, error) {
	logger.EnterMethod("contractService.UpdateContract", "scheduleID", req.ScheduleID)
	if err := authorize(c, domain.ActionInspect); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	now := s.Clock.now()
	var contract *domain.CarContract
	err := s.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repos) error {
		schedule, err := loadAssignedSchedule(ctx, r, c, req.ScheduleID)
		if err != nil {
			return err
		}
		if schedule.Status != domain.InspectionStatusInProgress {
			return apperr.Conflict("inspection schedule %d is %s, not InProgress", schedule.ID, schedule.Status)
		}

		contract, err = r.Contracts().GetByCarIDForUpdate(ctx, schedule.CarID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return lookupErr(err, "contract of car %d", schedule.CarID)
		}
		exists := err == nil

		deviceID := req.GPSDeviceID
		if deviceID == nil && exists {
			deviceID = contract.GPSDeviceID
		}
		if deviceID == nil {
			return apperr.Domain("car not assigned a GPS device")
		}
		if _, err := r.GPS().GetByID(ctx, *deviceID); err != nil {
			return lookupErr(err, "gps device %d", *deviceID)
		}

		techID := c.UserID
		if !exists {
			contract = &domain.CarContract{
				CarID:     schedule.CarID,
				Status:    domain.ContractStatusPending,
				CreatedAt: now,
			}
		} else if !contract.Signable() {
			return apperr.Conflict("contract for car %d is %s and cannot be updated", contract.CarID, contract.Status)
		}
		contract.TechnicianID = &techID
		contract.GPSDeviceID = deviceID
		if req.Terms != nil {
			contract.Terms = *req.Terms
		}
		contract.UpdatedAt = now

		if !exists {
			err = r.Contracts().Create(ctx, contract)
		} else {
			err = r.Contracts().Update(ctx, contract)
		}
		if err != nil {
			return writeErr(err, "contract of car %d", schedule.CarID)
		}
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("contractService.UpdateContract", err)
		return nil, finish(err, "update contract")
	}
	logger.ExitMethod("contractService.UpdateContract", "contractID", contract.ID)
	return contract, nil
}

func (s *contractService) SignContract(ctx context.Context, c Caller, carID int32) (*domain.CarContract, error) {
	logger.EnterMethod("contractService.SignContract", "carID", carID, "userID", c.UserID)
	if err := authorize(c, domain.ActionSignContract); err != nil {
		return nil, err
	}

	now := s.Clock.now()
	var (
		contract *domain.CarContract
		tr       domain.SignatureTransition
	)
	err := s.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repos) error {
		car, err := r.Cars().GetByID(ctx, carID, repository.ExcludeDeleted)
		if err != nil {
			return lookupErr(err, "car %d", carID)
		}
		if contract, err = r.Contracts().GetByCarIDForUpdate(ctx, carID); err != nil {
			return lookupErr(err, "contract of car %d", carID)
		}

		var signer domain.Signer
		switch {
		case c.Role == domain.RoleOwner && car.OwnerID == c.UserID:
			signer = domain.SignerOwner
		case c.Role == domain.RoleTechnician && contract.TechnicianID != nil && *contract.TechnicianID == c.UserID:
			signer = domain.SignerTechnician
		default:
			return apperr.Forbidden("only the car owner or the assigned technician may sign contract of car %d", carID)
		}

		schedule, err := r.Inspections().GetActiveByCarIDForUpdate(ctx, carID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return lookupErr(err, "inspection schedule of car %d", carID)
		}

		if tr, err = domain.ApplySignature(contract, schedule, signer, now); err != nil {
			return err
		}
		if !tr.AlreadySigned {
			if err := r.Contracts().Update(ctx, contract); err != nil {
				return writeErr(err, "contract of car %d", carID)
			}
		}
		if tr.ScheduleChanged {
			if err := r.Inspections().Update(ctx, schedule); err != nil {
				return writeErr(err, "inspection schedule %d", schedule.ID)
			}
		}
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("contractService.SignContract", err)
		return nil, finish(err, "sign contract")
	}
	logger.Info("Contract signed", "car_id", carID, "signer", tr.Signer, "already_signed", tr.AlreadySigned, "both_signed", tr.BothSigned)
	logger.ExitMethod("contractService.SignContract")
	return contract, nil
}

// bindDevice claims the device and binds it to the car at a zero location
// until its first ping.
func bindDevice(ctx context.Context, r repository.Repos, carID, deviceID int32, now time.Time) error {
	if err := r.GPS().Claim(ctx, deviceID); err != nil {
		if errors.Is(err, repository.ErrDeviceUnavailable) {
			return apperr.Conflict("gps device %d is no longer available", deviceID)
		}
		return writeErr(err, "gps device %d", deviceID)
	}
	binding := &domain.CarGPS{CarID: carID, DeviceID: deviceID, Location: geo.Point{}, UpdatedAt: now}
	if err := r.GPS().CreateCarGPS(ctx, binding); err != nil {
		return writeErr(err, "gps binding of car %d", carID)
	}
	return nil
}

func (s *contractService) CompleteInspection(ctx context.Context, c Caller, req CompleteInspectionRequest) (*domain.CarContract, error) {
	logger.EnterMethod("contractService.CompleteInspection", "scheduleID", req.ScheduleID, "approved", req.IsApproved)
	if err := authorize(c, domain.ActionInspect); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	now := s.Clock.now()
	var contract *domain.CarContract
	err := s.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repos) error {
		schedule, err := loadAssignedSchedule(ctx, r, c, req.ScheduleID)
		if err != nil {
			return err
		}
		if schedule.Status != domain.InspectionStatusInProgress && schedule.Status != domain.InspectionStatusSigned {
			return apperr.Conflict("inspection schedule %d is %s and cannot be completed", schedule.ID, schedule.Status)
		}

		device, err := r.GPS().GetByID(ctx, req.GPSDeviceID)
		if err != nil {
			return lookupErr(err, "gps device %d", req.GPSDeviceID)
		}
		if device.Status != domain.GPSDeviceStatusAvailable {
			return apperr.Conflict("gps device %d is %s", device.ID, device.Status)
		}

		if contract, err = r.Contracts().GetByCarIDForUpdate(ctx, schedule.CarID); err != nil {
			return lookupErr(err, "contract of car %d", schedule.CarID)
		}
		if contract.Status != domain.ContractStatusOwnerSigned {
			return apperr.Conflict("contract for car %d is %s; the owner must sign first", schedule.CarID, contract.Status)
		}
		car, err := r.Cars().GetByIDForUpdate(ctx, schedule.CarID)
		if err != nil {
			return lookupErr(err, "car %d", schedule.CarID)
		}

		techID := c.UserID
		contract.TechnicianID = &techID
		contract.GPSDeviceID = &device.ID
		contract.InspectionResults = req.InspectionResults
		contract.UpdatedAt = now

		if req.IsApproved {
			if _, err := r.GPS().GetCarGPS(ctx, car.ID); err == nil {
				return apperr.Conflict("car %d already has a GPS device", car.ID)
			} else if !errors.Is(err, repository.ErrNotFound) {
				return lookupErr(err, "gps binding of car %d", car.ID)
			}
			if contract.TechnicianSignatureDate == nil {
				contract.TechnicianSignatureDate = &now
			}
			if err := bindDevice(ctx, r, car.ID, device.ID, now); err != nil {
				return err
			}
			contract.Status = domain.ContractStatusCompleted
			schedule.Status = domain.InspectionStatusApproved
			car.Status = domain.CarStatusAvailable
		} else {
			contract.Status = domain.ContractStatusRejected
			schedule.Status = domain.InspectionStatusRejected
			car.Status = domain.CarStatusRejected
		}
		schedule.UpdatedAt = now
		car.UpdatedAt = now

		if contract.ContractHTML, err = s.renderCarContract(ctx, r, contract, car, now); err != nil {
			return err
		}
		if err := r.Contracts().Update(ctx, contract); err != nil {
			return writeErr(err, "contract of car %d", car.ID)
		}
		if err := r.Inspections().Update(ctx, schedule); err != nil {
			return writeErr(err, "inspection schedule %d", schedule.ID)
		}
		if err := r.Cars().Update(ctx, car); err != nil {
			return writeErr(err, "car %d", car.ID)
		}
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("contractService.CompleteInspection", err)
		return nil, finish(err, "complete inspection")
	}
	logger.Info("Inspection completed", "schedule_id", req.ScheduleID, "car_id", contract.CarID, "approved", req.IsApproved)
	logger.ExitMethod("contractService.CompleteInspection")
	return contract, nil
}

func (s *contractService) ApproveInspectionSchedule(ctx context.Context, c Caller, req ApproveInspectionRequest) (*domain.InspectionSchedule, error) {
	logger.EnterMethod("contractService.ApproveInspectionSchedule", "scheduleID", req.ScheduleID, "approved", req.IsApproved)
	if err := authorize(c, domain.ActionInspect); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	now := s.Clock.now()
	var schedule *domain.InspectionSchedule
	err := s.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repos) error {
		var err error
		if schedule, err = loadAssignedSchedule(ctx, r, c, req.ScheduleID); err != nil {
			return err
		}
		if schedule.Status != domain.InspectionStatusSigned {
			return apperr.Conflict("inspection schedule %d is %s, not Signed", schedule.ID, schedule.Status)
		}
		contract, err := r.Contracts().GetByCarIDForUpdate(ctx, schedule.CarID)
		if err != nil {
			return lookupErr(err, "contract of car %d", schedule.CarID)
		}
		if !contract.BothSigned() {
			return apperr.Domain("contract for car %d needs both signatures before approval", schedule.CarID)
		}
		if now.After(schedule.ApprovalDeadline()) {
			return apperr.Domain("inspection schedule %d has expired: approval was due by %s", schedule.ID, schedule.ApprovalDeadline().Format(time.RFC3339))
		}

		if req.Note != "" {
			schedule.Note = req.Note
		}
		schedule.UpdatedAt = now
		if !req.IsApproved {
			schedule.Status = domain.InspectionStatusRejected
			if err := r.Inspections().Update(ctx, schedule); err != nil {
				return writeErr(err, "inspection schedule %d", schedule.ID)
			}
			return nil
		}

		car, err := r.Cars().GetByIDForUpdate(ctx, schedule.CarID)
		if err != nil {
			return lookupErr(err, "car %d", schedule.CarID)
		}
		if _, err := r.GPS().GetCarGPS(ctx, car.ID); errors.Is(err, repository.ErrNotFound) {
			if contract.GPSDeviceID == nil {
				return apperr.Domain("car not assigned a GPS device")
			}
			if err := bindDevice(ctx, r, car.ID, *contract.GPSDeviceID, now); err != nil {
				return err
			}
		} else if err != nil {
			return lookupErr(err, "gps binding of car %d", car.ID)
		}

		schedule.Status = domain.InspectionStatusApproved
		contract.Status = domain.ContractStatusCompleted
		contract.UpdatedAt = now
		car.Status = domain.CarStatusAvailable
		car.UpdatedAt = now
		if contract.ContractHTML, err = s.renderCarContract(ctx, r, contract, car, now); err != nil {
			return err
		}

		if err := r.Contracts().Update(ctx, contract); err != nil {
			return writeErr(err, "contract of car %d", car.ID)
		}
		if err := r.Cars().Update(ctx, car); err != nil {
			return writeErr(err, "car %d", car.ID)
		}
		if err := r.Inspections().Update(ctx, schedule); err != nil {
			return writeErr(err, "inspection schedule %d", schedule.ID)
		}
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("contractService.ApproveInspectionSchedule", err)
		return nil, finish(err, "approve inspection schedule")
	}
	logger.Info("Inspection schedule decided", "schedule_id", schedule.ID, "status", schedule.Status)
	logger.ExitMethod("contractService.ApproveInspectionSchedule")
	return schedule, nil
}

func (s *contractService) ExpireInspectionSchedule(ctx context.Context, scheduleID int32) error {
	now := s.Clock.now()
	expired := false
	err := s.Store.WithinTx(ctx, func(ctx context.Context, r repository.Repos) error {
		schedule, err := r.Inspections().GetByIDForUpdate(ctx, scheduleID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return lookupErr(err, "inspection schedule %d", scheduleID)
		}
		if schedule.Status != domain.InspectionStatusPending {
			return nil
		}
		schedule.Status = domain.InspectionStatusExpired
		schedule.UpdatedAt = now
		if err := r.Inspections().Update(ctx, schedule); err != nil {
			return writeErr(err, "inspection schedule %d", scheduleID)
		}
		expired = true
		return nil
	})
	if err != nil {
		return finish(err, "expire inspection schedule")
	}
	if expired {
		logger.Info("Inspection schedule expired", "schedule_id", scheduleID)
	} else {
		logger.Debug("Inspection schedule no longer pending, expiry skipped", "schedule_id", scheduleID)
	}
	return nil
}
