package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Edge-Lockdown/edgelockdown/internal/domain/policy"
)

// RegisterCustomValidators registers edgelockdown-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	// scope: validates "realm/name" with a known realm
	if err := v.RegisterValidation("scope", validateScope); err != nil {
		return fmt.Errorf("failed to register scope validator: %w", err)
	}
	return nil
}

// validateScope validates a "realm/name" scope string.
func validateScope(fl validator.FieldLevel) bool {
	_, err := policy.ParseScope(fl.Field().String())
	return err == nil
}

// Validate validates the Config using struct tags and cross-field rules.
// Returns an error with actionable messages when validation fails.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their config keys, not Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	// Cross-field: conflict rule names must not collide with the managed
	// restriction rule.
	for _, cc := range c.Lockdown.Conflicts {
		if cc.Name == c.Lockdown.RestrictionRule {
			return fmt.Errorf("conflict rule %q collides with lockdown.restriction_rule", cc.Name)
		}
	}

	return nil
}

// formatValidationErrors converts validator errors into actionable messages.
func formatValidationErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(strings.TrimPrefix(fe.Namespace(), "Config."))
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "url":
			msgs = append(msgs, fmt.Sprintf("%s must be a valid URL", field))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, fe.Param()))
		case "scope":
			msgs = append(msgs, fmt.Sprintf("%s must be a realm/name scope with realm edge or regional", field))
		case "required_unless":
			msgs = append(msgs, fmt.Sprintf("%s is required for this backend", field))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", field, fe.Tag()))
		}
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}
