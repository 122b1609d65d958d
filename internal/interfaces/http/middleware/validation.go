package middleware

import (
	"reflect"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// SetupValidator registers custom validation tags with gin's binding validator
func SetupValidator() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}

	// Expose decimal.Decimal fields to the validator as floats so numeric
	// tags apply to the value rather than the struct internals
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	// decimalgt0 accepts strictly positive quantities
	_ = v.RegisterValidation("decimalgt0", func(fl validator.FieldLevel) bool {
		return fl.Field().Kind() == reflect.Float64 && fl.Field().Float() > 0
	})
}
