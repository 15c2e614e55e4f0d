package service

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"time"

	"carrent-backend/internal/apperr"
	"carrent-backend/internal/domain"
	"carrent-backend/internal/envelope"
	"carrent-backend/internal/repository"
)

var carContractTemplate = template.Must(template.New("car_contract").Parse(`<html><body>
<h1>Vehicle Onboarding Contract</h1>
<p>Contract #{{.Contract.ID}} &middot; status {{.Contract.Status}}</p>
<h2>Vehicle</h2>
<p>{{.Car.Make}} {{.Car.Model}}, plate {{.Plate}}</p>
<p>Rates: {{.Car.PricePerHour}} per hour, {{.Car.PricePerDay}} per day</p>
<h2>Owner</h2>
<p>{{.Owner.Name}} ({{.Owner.Email}}){{if .OwnerPhone}}, {{.OwnerPhone}}{{end}}</p>
{{with .Contract.OwnerSignatureDate}}<p>Signed by owner on {{.Format "2006-01-02 15:04 MST"}}</p>{{end}}
<h2>Inspection</h2>
{{if .Technician}}<p>Technician: {{.Technician.Name}}</p>{{end}}
{{with .Contract.TechnicianSignatureDate}}<p>Signed by technician on {{.Format "2006-01-02 15:04 MST"}}</p>{{end}}
{{if .Device}}<p>GPS device: {{.Device.Name}} ({{.Device.OSBuildID}})</p>{{end}}
<p>{{.Contract.InspectionResults}}</p>
{{if .Contract.Terms}}<h2>Terms</h2><p>{{.Contract.Terms}}</p>{{end}}
<p>Generated {{.GeneratedAt.Format "2006-01-02 15:04 MST"}}</p>
</body></html>`))

type carContractView struct {
	Contract    *domain.CarContract
	Car         *domain.Car
	Plate       string
	Owner       *domain.User
	OwnerPhone  string
	Technician  *domain.User
	Device      *domain.GPSDevice
	GeneratedAt time.Time
}

// renderCarContract builds the contract document from the current state of
// the car, its owner and the inspection. PII is decrypted for the document;
// a decryption failure aborts the calling operation.
func (d Deps) renderCarContract(ctx context.Context, r repository.Repos, contract *domain.CarContract, car *domain.Car, now time.Time) (string, error) {
	view := carContractView{Contract: contract, Car: car, GeneratedAt: now}

	keys := envelope.NewKeyring(r.Keys(), d.Crypto)
	var err error
	if view.Plate, err = keys.Open(ctx, car.EncryptionKeyID, car.LicensePlate); err != nil {
		return "", openErr(err, "license plate of car %d", car.ID)
	}

	if view.Owner, err = r.Users().GetByID(ctx, car.OwnerID, repository.IncludeDeleted); err != nil {
		return "", lookupErr(err, "owner %d", car.OwnerID)
	}
	if view.Owner.EncryptionKeyID != 0 && len(view.Owner.Phone) > 0 {
		if view.OwnerPhone, err = keys.Open(ctx, view.Owner.EncryptionKeyID, view.Owner.Phone); err != nil {
			return "", openErr(err, "phone of user %d", view.Owner.ID)
		}
	}

	if contract.TechnicianID != nil {
		if view.Technician, err = r.Users().GetByID(ctx, *contract.TechnicianID, repository.IncludeDeleted); err != nil {
			return "", lookupErr(err, "technician %d", *contract.TechnicianID)
		}
	}
	if contract.GPSDeviceID != nil {
		if view.Device, err = r.GPS().GetByID(ctx, *contract.GPSDeviceID); err != nil {
			return "", lookupErr(err, "gps device %d", *contract.GPSDeviceID)
		}
	}

	var buf bytes.Buffer
	if err := carContractTemplate.Execute(&buf, view); err != nil {
		return "", apperr.Internal(err, "render contract of car %d", car.ID)
	}
	return buf.String(), nil
}

func openErr(err error, format string, args ...any) error {
	if errors.Is(err, envelope.ErrUndecryptable) {
		return apperr.Internal(err, "decrypt "+format, args...)
	}
	return lookupErr(err, "encryption key of "+format, args...)
}
