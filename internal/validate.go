package internal

import (
	"fmt"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"climbcrew/internal/attendance"
	"climbcrew/internal/invitecode"
)

const (
	tagInviteCode       = "invitecode"
	tagAttendanceStatus = "attendance_status"
	tagRSVPStatus       = "rsvp_status"
)

var registerOnce sync.Once

// RegisterValidators installs the custom binding tags on gin's validator.
// It panics if gin's engine is not go-playground's or a tag fails to
// register, since every request using the tags would fail to bind.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			panic(fmt.Sprintf("binding validator engine is %T, want *validator.Validate", binding.Validator.Engine()))
		}
		if err := registerValidators(v); err != nil {
			panic(err)
		}
	})
}

func registerValidators(v *validator.Validate) error {
	tags := map[string]validator.Func{
		tagInviteCode: func(fl validator.FieldLevel) bool {
			return invitecode.Valid(invitecode.Normalize(fl.Field().String()))
		},
		tagAttendanceStatus: func(fl validator.FieldLevel) bool {
			return attendance.Status(fl.Field().String()).DayOf()
		},
		tagRSVPStatus: func(fl validator.FieldLevel) bool {
			return attendance.Status(fl.Field().String()).RSVPChoice()
		},
	}
	for tag, fn := range tags {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("register %s validator: %w", tag, err)
		}
	}
	return nil
}
