// README: Custom binding validators.
package handlers

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"lifeline/internal/modules/matching"
)

// RegisterValidators installs the custom binding rules. Call once at startup.
func RegisterValidators() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("bloodgroup", func(fl validator.FieldLevel) bool {
			return matching.ValidGroup(matching.BloodGroup(fl.Field().String()))
		})
	}
}
