package domain

import (
	"time"

	"carrent-backend/internal/apperr"
)

type CarContractStatus string

const (
	ContractStatusPending          CarContractStatus = "Pending"
	ContractStatusOwnerSigned      CarContractStatus = "OwnerSigned"
	ContractStatusTechnicianSigned CarContractStatus = "TechnicianSigned"
	ContractStatusCompleted        CarContractStatus = "Completed"
	ContractStatusRejected         CarContractStatus = "Rejected"
)

// CarContract is the onboarding contract that gates a car's rentability.
type CarContract struct {
	ID                      int32             `json:"id"`
	CarID                   int32             `json:"car_id"`
	TechnicianID            *int32            `json:"technician_id,omitempty"`
	GPSDeviceID             *int32            `json:"gps_device_id,omitempty"`
	OwnerSignatureDate      *time.Time        `json:"owner_signature_date,omitempty"`
	TechnicianSignatureDate *time.Time        `json:"technician_signature_date,omitempty"`
	InspectionResults       string            `json:"inspection_results"`
	Terms                   string            `json:"terms"`
	ContractHTML            string            `json:"contract_html"`
	Status                  CarContractStatus `json:"status"`
	CreatedAt               time.Time         `json:"created_at"`
	UpdatedAt               time.Time         `json:"updated_at"`
}

// Signable reports whether signatures are still accepted.
func (c *CarContract) Signable() bool {
	return c.Status != ContractStatusRejected && c.Status != ContractStatusCompleted
}

// BothSigned reports whether owner and technician signature dates are set.
func (c *CarContract) BothSigned() bool {
	return c.OwnerSignatureDate != nil && c.TechnicianSignatureDate != nil
}

// Signer identifies the party applying a signature.
type Signer int

const (
	SignerOwner Signer = iota + 1
	SignerTechnician
)

func (s Signer) String() string {
	switch s {
	case SignerOwner:
		return "owner"
	case SignerTechnician:
		return "technician"
	}
	return "unknown"
}

// SignatureTransition describes the effect of one ApplySignature call.
type SignatureTransition struct {
	Signer          Signer
	AlreadySigned   bool // the signer had signed before; nothing was rewritten
	BothSigned      bool
	ScheduleChanged bool // the schedule moved to Signed
}

// ApplySignature is the single state-machine step for contract signing.
// It records the signer's date once, moves the contract to the signer's
// status, and advances an InProgress schedule to Signed as soon as both
// dates are present. A repeated signature by the same party keeps the first
// date and status but still re-evaluates the schedule. schedule may be nil.
func ApplySignature(c *CarContract, schedule *InspectionSchedule, signer Signer, at time.Time) (SignatureTransition, error) {
	tr := SignatureTransition{Signer: signer}
	if !c.Signable() {
		return tr, apperr.Conflict("contract for car %d is %s and cannot be signed", c.CarID, c.Status)
	}

	switch signer {
	case SignerOwner:
		if c.OwnerSignatureDate != nil {
			tr.AlreadySigned = true
		} else {
			c.OwnerSignatureDate = &at
			c.Status = ContractStatusOwnerSigned
		}
	case SignerTechnician:
		if c.TechnicianSignatureDate != nil {
			tr.AlreadySigned = true
		} else {
			c.TechnicianSignatureDate = &at
			c.Status = ContractStatusTechnicianSigned
		}
	default:
		return tr, apperr.Forbidden("unknown signer")
	}
	if !tr.AlreadySigned {
		c.UpdatedAt = at
	}

	tr.BothSigned = c.BothSigned()
	if tr.BothSigned && schedule != nil && schedule.Status == InspectionStatusInProgress {
		schedule.Status = InspectionStatusSigned
		schedule.UpdatedAt = at
		tr.ScheduleChanged = true
	}
	return tr, nil
}
