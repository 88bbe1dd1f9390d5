package middleware

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	registerOnce sync.Once
	registerErr  error
)

// RegisterValidators installs the custom binding tags on gin's validator and
// makes validation errors report JSON field names. Safe to call repeatedly.
func RegisterValidators() error {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			registerErr = fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
			return
		}

		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				name = strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
			}
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})

		registerErr = v.RegisterValidation("rfc3339tz", validateRFC3339WithOffset)
	})
	return registerErr
}

// validateRFC3339WithOffset accepts RFC 3339 timestamps only. The layout
// requires "Z" or a numeric offset, so local times are rejected.
func validateRFC3339WithOffset(fl validator.FieldLevel) bool {
	_, err := time.Parse(time.RFC3339, fl.Field().String())
	return err == nil
}
