// CASA Relay
// Copyright (c) 2025 The CASA Relay Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of CASA Relay.
//
// CASA Relay is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// CASA Relay is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with CASA Relay.  If not, see <http://www.gnu.org/licenses/>.

// Package validation checks API request bodies with go-playground/validator
// plus the custom tags the relay needs.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/dptucunduva/casa/pkg/protocol"
	"github.com/go-playground/validator/v10"
)

var (
	ErrMissingParams = errors.New("missing params")
	ErrInvalidParams = errors.New("invalid params")
)

type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report fields by their JSON names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("latin1", validateLatin1)
	return &Validator{validate: v}
}

// DefaultValidator is shared by the API handlers.
var DefaultValidator = NewValidator()

// Validate returns an *Error listing every failed field.
func (v *Validator) Validate(params any) error {
	if err := v.validate.Struct(params); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return NewError(validationErrors)
		}
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ValidateAndUnmarshal decodes a JSON body into dest and validates it.
func ValidateAndUnmarshal[T any](params json.RawMessage, dest *T) error {
	if len(params) == 0 {
		return ErrMissingParams
	}
	if err := json.Unmarshal(params, dest); err != nil {
		return ErrInvalidParams
	}
	return DefaultValidator.Validate(dest)
}

// validateLatin1 accepts text the device firmware can display, one byte per
// character.
func validateLatin1(fl validator.FieldLevel) bool {
	_, err := protocol.EncodeText(fl.Field().String())
	return err == nil
}
