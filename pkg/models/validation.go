package models

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

var oidPattern = regexp.MustCompile(`^\.?[0-9]+(\.[0-9]+)*$`)

func init() {
	_ = validate.RegisterValidation("oid", validateOID)
	_ = validate.RegisterValidation("protocol", validateProtocol)
	_ = validate.RegisterValidation("snmptype", validateSetValueType)
}

func validateOID(fl validator.FieldLevel) bool {
	return oidPattern.MatchString(fl.Field().String())
}

func validateProtocol(fl validator.FieldLevel) bool {
	switch Protocol(fl.Field().String()) {
	case ProtocolSNMP, ProtocolTelnet, ProtocolSSH:
		return true
	}
	return false
}

func validateSetValueType(fl validator.FieldLevel) bool {
	_, ok := setValueTypes[SetValueType(fl.Field().String())]
	return ok
}

// IsOID reports whether s is a numeric dotted object identifier.
func IsOID(s string) bool {
	return oidPattern.MatchString(s)
}

// Validate checks v against its struct tags and reports failures as
// ErrValidation.
func Validate(v any) error {
	return validateStruct(v)
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%w: field %s failed on %q", ErrValidation, fe.Namespace(), fe.Tag())
	}
	return fmt.Errorf("%w: %v", ErrValidation, err)
}
