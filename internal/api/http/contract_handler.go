package http

import (
	"net/http"
	"time"

	"carrent-backend/internal/service"
)

type registerCarBody struct {
	LicensePlate string `json:"license_plate"`
	Make         string `json:"make"`
	Model        string `json:"model"`
	PricePerHour int64  `json:"price_per_hour"`
	PricePerDay  int64  `json:"price_per_day"`
}

type registerGPSDeviceBody struct {
	OSBuildID string `json:"os_build_id"`
	Name      string `json:"name"`
}

type inspectionScheduleBody struct {
	CarID             int32     `json:"car_id"`
	TechnicianID      int32     `json:"technician_id"`
	InspectionAddress string    `json:"inspection_address"`
	InspectionDate    time.Time `json:"inspection_date"`
	Note              string    `json:"note"`
	ReportID          *int32    `json:"report_id,omitempty"`
}

type updateContractBody struct {
	GPSDeviceID *int32  `json:"gps_device_id,omitempty"`
	Terms       *string `json:"terms,omitempty"`
}

type completeInspectionBody struct {
	InspectionResults string `json:"inspection_results"`
	GPSDeviceID       int32  `json:"gps_device_id"`
	IsApproved        bool   `json:"is_approved"`
}

type approvalBody struct {
	Note       string `json:"note"`
	IsApproved bool   `json:"is_approved"`
}

func (h *Handler) RegisterCar(w http.ResponseWriter, r *http.Request) {
	var body registerCarBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	car, err := h.contracts.RegisterCar(r.Context(), callerOf(r), service.RegisterCarRequest(body))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, car)
}

func (h *Handler) RegisterGPSDevice(w http.ResponseWriter, r *http.Request) {
	var body registerGPSDeviceBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	device, err := h.contracts.RegisterGPSDevice(r.Context(), callerOf(r), service.RegisterGPSDeviceRequest(body))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, device)
}

func (h *Handler) CreateInspectionSchedule(w http.ResponseWriter, r *http.Request) {
	var body inspectionScheduleBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	schedule, err := h.contracts.CreateInspectionSchedule(r.Context(), callerOf(r), service.CreateInspectionScheduleRequest(body))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, schedule)
}

func (h *Handler) StartInspection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	schedule, err := h.contracts.StartInspection(r.Context(), callerOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

func (h *Handler) UpdateContract(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body updateContractBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	contract, err := h.contracts.UpdateContract(r.Context(), callerOf(r), service.UpdateContractRequest{
		ScheduleID:  id,
		GPSDeviceID: body.GPSDeviceID,
		Terms:       body.Terms,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contract)
}

func (h *Handler) SignContract(w http.ResponseWriter, r *http.Request) {
	carID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	contract, err := h.contracts.SignContract(r.Context(), callerOf(r), carID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contract)
}

func (h *Handler) CompleteInspection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body completeInspectionBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	contract, err := h.contracts.CompleteInspection(r.Context(), callerOf(r), service.CompleteInspectionRequest{
		ScheduleID:        id,
		InspectionResults: body.InspectionResults,
		GPSDeviceID:       body.GPSDeviceID,
		IsApproved:        body.IsApproved,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contract)
}

func (h *Handler) ApproveInspectionSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body approvalBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	schedule, err := h.contracts.ApproveInspectionSchedule(r.Context(), callerOf(r), service.ApproveInspectionRequest{
		ScheduleID: id,
		Note:       body.Note,
		IsApproved: body.IsApproved,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}
