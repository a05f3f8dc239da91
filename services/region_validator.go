package services

import (
	stderrors "errors"
	"fmt"
	"regexp"
	"unicode/utf8"

	"content-regions/errors"
)

// MaxRegionNameLength is the longest accepted region name, in characters
const MaxRegionNameLength = 75

// Reasons a region name is rejected, checked in this order
var (
	ErrLeadingUnderscore  = stderrors.New("region name must not start with an underscore")
	ErrTrailingUnderscore = stderrors.New("region name must not end with an underscore")
	ErrTooLong            = fmt.Errorf("region name must be at most %d characters", MaxRegionNameLength)
	ErrInvalidCharacters  = stderrors.New("region name may only contain letters, digits, underscores and hyphens")
)

// Word characters are Unicode letters and digits plus underscore
var regionNamePattern = regexp.MustCompile(`^[-\p{L}\p{N}_]+$`)

// RegionNameError reports why a region name was rejected
type RegionNameError struct {
	Name   string
	Reason error
}

func (e *RegionNameError) Error() string {
	return fmt.Sprintf("invalid region name %q: %v", e.Name, e.Reason)
}

func (e *RegionNameError) Unwrap() error {
	return e.Reason
}

// ValidateRegionName checks a region identifier. It returns nil or a
// *RegionNameError and never modifies the name.
func ValidateRegionName(name string) error {
	var reason error
	switch {
	case len(name) > 0 && name[0] == '_':
		reason = ErrLeadingUnderscore
	case len(name) > 0 && name[len(name)-1] == '_':
		reason = ErrTrailingUnderscore
	case utf8.RuneCountInString(name) > MaxRegionNameLength:
		reason = ErrTooLong
	case !regionNamePattern.MatchString(name):
		reason = ErrInvalidCharacters
	default:
		return nil
	}
	return &RegionNameError{Name: name, Reason: reason}
}

// ValidateRegionField is ValidateRegionName for trust boundaries: failures
// come back as REGION_NAME_INVALID validation errors.
func ValidateRegionField(name string) error {
	if err := ValidateRegionName(name); err != nil {
		return errors.NewValidationError(errors.ErrCodeRegionNameInvalid, err.Error(), err)
	}
	return nil
}
