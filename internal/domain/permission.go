package domain

// Action is an operation a caller may attempt. Ownership of the target
// aggregate is checked separately by each operation.
type Action int

const (
	ActionRegisterCar Action = iota + 1
	ActionSignContract
	ActionScheduleInspection
	ActionInspect
	ActionCreateBooking
	ActionApproveBooking
	ActionExtendBooking
	ActionMarkReadyForPickup
	ActionStartTrip
	ActionTrackTrip
	ActionConfirmReturn
	ActionCompleteBooking
	ActionCancelBooking
	ActionLeaveFeedback
	ActionPay
	ActionViewBooking
	ActionManageDevices
)

var actionNames = map[Action]string{
	ActionRegisterCar:        "register car",
	ActionSignContract:       "sign contract",
	ActionScheduleInspection: "schedule inspection",
	ActionInspect:            "inspect car",
	ActionCreateBooking:      "create booking",
	ActionApproveBooking:     "approve booking",
	ActionExtendBooking:      "extend booking",
	ActionMarkReadyForPickup: "mark booking ready for pickup",
	ActionStartTrip:          "start trip",
	ActionTrackTrip:          "track trip",
	ActionConfirmReturn:      "confirm car return",
	ActionCompleteBooking:    "complete booking",
	ActionCancelBooking:      "cancel booking",
	ActionLeaveFeedback:      "leave feedback",
	ActionPay:                "pay booking",
	ActionViewBooking:        "view booking",
	ActionManageDevices:      "manage gps devices",
}

func (a Action) String() string {
	if n, ok := actionNames[a]; ok {
		return n
	}
	return "unknown action"
}

// Can reports whether the role may attempt the action at all.
func (r Role) Can(a Action) bool {
	switch r {
	case RoleDriver:
		switch a {
		case ActionCreateBooking, ActionExtendBooking, ActionStartTrip, ActionTrackTrip,
			ActionCompleteBooking, ActionCancelBooking, ActionLeaveFeedback, ActionPay, ActionViewBooking:
			return true
		}
	case RoleOwner:
		switch a {
		case ActionRegisterCar, ActionSignContract, ActionApproveBooking, ActionMarkReadyForPickup,
			ActionConfirmReturn, ActionCompleteBooking, ActionLeaveFeedback, ActionViewBooking:
			return true
		}
	case RoleConsultant:
		return a == ActionScheduleInspection
	case RoleTechnician:
		switch a {
		case ActionSignContract, ActionInspect, ActionManageDevices:
			return true
		}
	case RoleAdmin:
		switch a {
		case ActionScheduleInspection, ActionMarkReadyForPickup, ActionViewBooking, ActionManageDevices:
			return true
		}
	}
	return false
}
