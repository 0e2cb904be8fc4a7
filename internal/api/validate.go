package api

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/house.schema.json
var houseSchemaJSON []byte

const houseSchemaURL = "https://watergb.local/schema/house.schema.json"

// Localised validation messages.
const (
	MsgCredentialsRequired = "يرجى إدخال اسم المستخدم وكلمة المرور"
	MsgHouseRequired       = "يرجى إدخال رقم المنزل واسم صاحب المنزل"
	MsgDuplicateHouse      = "رقم المنزل موجود بالفعل في هذا المربع"
	MsgNameRequired        = "يرجى إدخال الاسم"
	MsgInvalidInput        = "البيانات المدخلة غير صالحة"
)

// ValidationError is a client-side rejection raised before any request is
// sent.
type ValidationError struct {
	Field  string
	Reason string

	// Localized is shown to the user.
	Localized string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// IsValidationError reports whether err is a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func invalid(field, reason, localized string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason, Localized: localized}
}

var (
	houseSchemaOnce sync.Once
	houseSchema     *jsonschema.Schema
	houseSchemaErr  error
)

func compiledHouseSchema() (*jsonschema.Schema, error) {
	houseSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.AssertFormat = true
		if err := c.AddResource(houseSchemaURL, bytes.NewReader(houseSchemaJSON)); err != nil {
			houseSchemaErr = fmt.Errorf("add house schema: %w", err)
			return
		}
		houseSchema, houseSchemaErr = c.Compile(houseSchemaURL)
	})
	return houseSchema, houseSchemaErr
}

// ValidateCredentials rejects a blank username or password.
func ValidateCredentials(c Credentials) error {
	if strings.TrimSpace(c.Username) == "" {
		return invalid("username", "required", MsgCredentialsRequired)
	}
	if strings.TrimSpace(c.Password) == "" {
		return invalid("password", "required", MsgCredentialsRequired)
	}
	return nil
}

// ValidateHouse checks a house record against the house schema.
func ValidateHouse(h House) error {
	if strings.TrimSpace(h.HouseNumber) == "" {
		return invalid("houseNumber", "required", MsgHouseRequired)
	}
	if strings.TrimSpace(h.OwnerName) == "" {
		return invalid("ownerName", "required", MsgHouseRequired)
	}

	schema, err := compiledHouseSchema()
	if err != nil {
		return err
	}

	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode house: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode house: %w", err)
	}

	if err := schema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			leaf := deepestCause(verr)
			return invalid(strings.TrimPrefix(leaf.InstanceLocation, "/"), leaf.Message, MsgInvalidInput)
		}
		return fmt.Errorf("validate house: %w", err)
	}
	return nil
}

// deepestCause follows the first cause chain down to the most specific
// failure.
func deepestCause(e *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(e.Causes) > 0 {
		e = e.Causes[0]
	}
	return e
}

func requireName(field, name string) error {
	if strings.TrimSpace(name) == "" {
		return invalid(field, "required", MsgNameRequired)
	}
	return nil
}

func requireID(field string, id ID) error {
	if strings.TrimSpace(string(id)) == "" {
		return invalid(field, "required", MsgInvalidInput)
	}
	return nil
}
