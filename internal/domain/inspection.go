package domain

import "time"

// InspectionApprovalWindow bounds how long after the scheduled time a signed
// inspection may still be approved.
const InspectionApprovalWindow = time.Hour

type InspectionScheduleStatus string

const (
	InspectionStatusPending    InspectionScheduleStatus = "Pending"
	InspectionStatusInProgress InspectionScheduleStatus = "InProgress"
	InspectionStatusSigned     InspectionScheduleStatus = "Signed"
	InspectionStatusApproved   InspectionScheduleStatus = "Approved"
	InspectionStatusRejected   InspectionScheduleStatus = "Rejected"
	InspectionStatusExpired    InspectionScheduleStatus = "Expired"
)

// InspectionSchedule is a physical inspection of a car, created by a
// consultant and carried out by a technician.
type InspectionSchedule struct {
	ID                int32                    `json:"id"`
	TechnicianID      int32                    `json:"technician_id"`
	CarID             int32                    `json:"car_id"`
	Status            InspectionScheduleStatus `json:"status"`
	InspectionAddress string                   `json:"inspection_address"`
	InspectionDate    time.Time                `json:"inspection_date"`
	Note              string                   `json:"note"`
	CreatedBy         int32                    `json:"created_by"`
	ReportID          *int32                   `json:"report_id,omitempty"`
	CreatedAt         time.Time                `json:"created_at"`
	UpdatedAt         time.Time                `json:"updated_at"`
	DeletedAt         *time.Time               `json:"deleted_at,omitempty"`
}

// ApprovalDeadline is the last instant ApproveInspectionSchedule is accepted.
func (s *InspectionSchedule) ApprovalDeadline() time.Time {
	return s.InspectionDate.Add(InspectionApprovalWindow)
}
