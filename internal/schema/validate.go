// Package schema enforces the field rules declared on domain models through
// `validate` struct tags.
//
// Besides the stock go-playground rules the package registers:
//
//	mlrequired  multilingual text has at least one translation
//	mlmax=N     every translation is at most N characters
//	lang        value is a supported language code
//	license     value is one of domain.Licenses
//	bcrypt      value is a bcrypt password hash
package schema

import (
	"errors"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/libreviews/revdal/internal/common"
	"github.com/libreviews/revdal/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

var (
	once     sync.Once
	instance *validator.Validate
)

func get() *validator.Validate {
	once.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return f.Name
			}
			if name == "" {
				return f.Name
			}
			return name
		})
		mustRegister(v, "mlrequired", mlRequired)
		mustRegister(v, "mlmax", mlMax)
		mustRegister(v, "lang", func(fl validator.FieldLevel) bool {
			return domain.IsLanguage(fl.Field().String())
		})
		mustRegister(v, "license", func(fl validator.FieldLevel) bool {
			s := fl.Field().String()
			for _, l := range domain.Licenses {
				if s == l {
					return true
				}
			}
			return false
		})
		mustRegister(v, "bcrypt", func(fl validator.FieldLevel) bool {
			_, err := bcrypt.Cost([]byte(fl.Field().String()))
			return err == nil
		})
		instance = v
	})
	return instance
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	// rules on maps must run even when the map is empty
	if err := v.RegisterValidation(tag, fn, true); err != nil {
		panic(err)
	}
}

func textValues(fl validator.FieldLevel) (map[string]string, bool) {
	f := fl.Field()
	if f.Kind() != reflect.Map || f.Type().Key().Kind() != reflect.String || f.Type().Elem().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]string, f.Len())
	iter := f.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().String()
	}
	return out, true
}

func mlRequired(fl validator.FieldLevel) bool {
	values, ok := textValues(fl)
	if !ok {
		return false
	}
	for _, s := range values {
		if strings.TrimSpace(s) != "" {
			return true
		}
	}
	return false
}

func mlMax(fl validator.FieldLevel) bool {
	limit, err := strconv.Atoi(fl.Param())
	if err != nil {
		return false
	}
	values, ok := textValues(fl)
	if !ok {
		return false
	}
	for _, s := range values {
		if utf8.RuneCountInString(s) > limit {
			return false
		}
	}
	return true
}

// Validate checks row against its declared rules and returns a
// *common.ValidationError listing every violated field, or nil.
func Validate(kind string, row any) error {
	err := get().Struct(row)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := &common.ValidationError{Kind: kind}
	for _, fe := range fieldErrs {
		out.Violations = append(out.Violations, common.FieldViolation{
			Field: fe.Field(),
			Rule:  fe.Tag(),
			Param: fe.Param(),
		})
	}
	return out
}

// Struct validates an arbitrary struct with the shared validator, e.g. configuration.
func Struct(s any) error {
	return get().Struct(s)
}
