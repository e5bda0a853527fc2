package handlers

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// draftRequest is the body of POST /v1/comments and the replies route.
type draftRequest struct {
	Text     string `json:"text" validate:"nonblank"`
	Username string `json:"username,omitempty" validate:"max=64"`
}

type draftValidator struct {
	v        *validator.Validate
	maxChars int
}

func newDraftValidator(maxChars int) *draftValidator {
	v := validator.New()
	_ = v.RegisterValidation("nonblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return &draftValidator{v: v, maxChars: maxChars}
}

// check returns field -> failed rule for every invalid field.
func (dv *draftValidator) check(req draftRequest) map[string]any {
	details := map[string]any{}
	if err := dv.v.Struct(req); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				details[strings.ToLower(fe.Field())] = fe.Tag()
			}
		} else {
			details["body"] = err.Error()
		}
	}
	if _, bad := details["text"]; !bad && dv.maxChars > 0 {
		if err := dv.v.Var(req.Text, fmt.Sprintf("max=%d", dv.maxChars)); err != nil {
			details["text"] = "max"
		}
	}
	if len(details) == 0 {
		return nil
	}
	return details
}
