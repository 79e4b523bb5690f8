package enrollment

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/darasa/core"
)

const statusTag = "enrollmentstatus"

// RegisterValidators registers enrollment-specific validators.
func RegisterValidators(validate *validator.Validate, translator ut.Translator) {
	core.RegisterInValidation(validate, translator, statusTag, AllStatuses)
}
