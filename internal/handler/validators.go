package handler

import (
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"outpass/internal/leave"
)

var registerOnce sync.Once

// registerValidators adds the leavekind, leaveaction and leavelevel tags to gin's validator.
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("leavekind", func(fl validator.FieldLevel) bool {
			_, err := leave.ParseKind(fl.Field().String())
			return err == nil
		})
		_ = v.RegisterValidation("leaveaction", func(fl validator.FieldLevel) bool {
			_, err := leave.ParseAction(fl.Field().String())
			return err == nil
		})
		_ = v.RegisterValidation("leavelevel", func(fl validator.FieldLevel) bool {
			l, err := leave.ParseLevel(fl.Field().String())
			return err == nil && l != leave.LevelCompleted
		})
	})
}
