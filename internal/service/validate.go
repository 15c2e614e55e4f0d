package service

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"carrent-backend/internal/apperr"
	"carrent-backend/internal/domain"
	"carrent-backend/internal/geo"
	"carrent-backend/internal/repository"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateRequest checks the struct tags of a command payload.
func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation("invalid request: %v", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			fields = append(fields, fmt.Sprintf("%s must satisfy %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			fields = append(fields, fmt.Sprintf("%s must satisfy %s", fe.Namespace(), fe.Tag()))
		}
	}
	return apperr.Validation("invalid request: %s", strings.Join(fields, "; "))
}

// validatePoint also catches NaN, which passes the range tags.
func validatePoint(lat, lon float64) (geo.Point, error) {
	p := geo.NewPoint(lon, lat)
	if err := p.Validate(); err != nil {
		return p, apperr.Validation("%v", err)
	}
	return p, nil
}

func authorize(c Caller, a domain.Action) error {
	if !c.Role.Can(a) {
		return apperr.Forbidden("role %s may not %s", c.Role, a)
	}
	return nil
}

// lookupErr turns a repository read failure into a typed failure.
func lookupErr(err error, format string, args ...any) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(format+" not found", args...)
	}
	return apperr.Internal(err, "load "+format, args...)
}

// writeErr turns a repository write failure into a typed failure.
func writeErr(err error, format string, args ...any) error {
	switch {
	case errors.Is(err, repository.ErrStaleVersion):
		return apperr.Conflict(format+" was modified concurrently, retry", args...)
	case errors.Is(err, repository.ErrDuplicate):
		return apperr.Conflict(format+" already exists", args...)
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound(format+" not found", args...)
	}
	return apperr.Internal(err, "save "+format, args...)
}

// finish passes typed failures through and wraps anything else as internal.
func finish(err error, op string) error {
	if err == nil {
		return nil
	}
	var e *apperr.Error
	if errors.As(err, &e) {
		return e
	}
	return apperr.Internal(err, "%s", op)
}

// newOrderCode is unique per millisecond up to a two-digit suffix, which the
// order_code unique index backs up.
func newOrderCode() int64 {
	return time.Now().UnixMilli()*100 + int64(rand.Intn(100))
}

func (d Deps) orderCode() int64 {
	if d.OrderCode != nil {
		return d.OrderCode()
	}
	return newOrderCode()
}
