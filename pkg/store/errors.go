package store

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a lookup expecting one record finds none
	ErrNotFound = errors.New("record not found")

	// ErrMultipleFound is returned when a lookup expecting one record finds several
	ErrMultipleFound = errors.New("multiple records found")

	// ErrIntegrity wraps constraint violations raised by the database
	ErrIntegrity = errors.New("integrity violation")

	// ErrUnknownField is returned for predicates naming no column of the model
	ErrUnknownField = errors.New("unknown field")

	// ErrInvalidValue is returned when a raw value cannot be converted to its column type
	ErrInvalidValue = errors.New("invalid value")
)

// IsNotFound checks if error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsMultipleFound checks if error is an ambiguous lookup
func IsMultipleFound(err error) bool {
	return errors.Is(err, ErrMultipleFound)
}

// IsIntegrity checks if error is a constraint violation
func IsIntegrity(err error) bool {
	return errors.Is(err, ErrIntegrity)
}

// Translate maps driver and GORM errors onto the store's sentinels
func Translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey),
		errors.Is(err, gorm.ErrForeignKeyViolated),
		errors.Is(err, gorm.ErrCheckConstraintViolated):
		return fmt.Errorf("%w: %v", ErrIntegrity, err)
	}

	// NOT NULL violations are not translated by the dialectors
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "constraint failed") ||
		strings.Contains(msg, "violates not-null constraint") ||
		strings.Contains(msg, "cannot be null") {
		return fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	return err
}
