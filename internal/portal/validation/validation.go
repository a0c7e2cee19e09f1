// Package validation checks sign-in, sign-up and password-reset form input.
package validation

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Mode selects the rule set applied to a form.
type Mode string

const (
	ModeLogin  Mode = "login"
	ModeSignup Mode = "signup"
	ModeForgot Mode = "forgot"
)

const (
	// MaxEmailLength mirrors the SMTP path limit.
	MaxEmailLength    = 254
	MaxPasswordLength = 128
	MinSignupPassword = 8
)

// Field names used as keys in Errors.
const (
	FieldEmail    = "email"
	FieldPassword = "password"
	FieldConfirm  = "confirm"
	FieldForm     = "_form"
)

// Fields is the raw form input.
type Fields struct {
	Email    string
	Password string
	Confirm  string
}

// Errors maps a field name to the message shown next to it.
type Errors map[string]string

// Has reports whether a message exists for field.
func (e Errors) Has(field string) bool {
	_, ok := e[field]
	return ok
}

// Get returns the message for field or an empty string.
func (e Errors) Get(field string) string {
	return e[field]
}

// Result is the outcome of Validate.
type Result struct {
	Valid  bool
	Errors Errors
}

type loginForm struct {
	Email    string `form:"email" validate:"required,max=254,email"`
	Password string `form:"password" validate:"required,max=128"`
}

type signupForm struct {
	Email    string `form:"email" validate:"required,max=254,email"`
	Password string `form:"password" validate:"required,min=8,max=128"`
	Confirm  string `form:"confirm" validate:"eqfield=Password"`
}

type forgotForm struct {
	Email string `form:"email" validate:"required,max=254,email"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func engine() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
			if name == "" || name == "-" {
				return strings.ToLower(fld.Name)
			}
			return name
		})
		validate = v
	})
	return validate
}

// Validate checks fields against the rules for mode. It has no side effects.
func Validate(fields Fields, mode Mode) Result {
	email := strings.TrimSpace(fields.Email)
	password := blankAsEmpty(fields.Password)
	confirm := blankAsEmpty(fields.Confirm)

	var payload any
	switch mode {
	case ModeLogin:
		payload = loginForm{Email: email, Password: password}
	case ModeSignup:
		payload = signupForm{Email: email, Password: password, Confirm: confirm}
	case ModeForgot:
		payload = forgotForm{Email: email}
	default:
		return Result{Errors: Errors{FieldForm: "This form cannot be submitted."}}
	}

	err := engine().Struct(payload)
	if err == nil {
		return Result{Valid: true, Errors: Errors{}}
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return Result{Errors: Errors{FieldForm: "This form cannot be submitted."}}
	}

	out := make(Errors, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := fe.Field()
		if out.Has(field) {
			continue
		}
		out[field] = messageFor(field, fe.Tag())
	}
	return Result{Errors: out}
}

// blankAsEmpty keeps surrounding spaces of a secret but treats whitespace-only input as missing.
func blankAsEmpty(secret string) string {
	if strings.TrimSpace(secret) == "" {
		return ""
	}
	return secret
}

func messageFor(field, tag string) string {
	switch field {
	case FieldEmail:
		switch tag {
		case "required":
			return "Please enter your email address."
		case "max":
			return "Email address must be at most 254 characters."
		default:
			return "Please enter a valid email address."
		}
	case FieldPassword:
		switch tag {
		case "required":
			return "Please enter your password."
		case "max":
			return "Password must be at most 128 characters."
		case "min":
			return "Password must be at least 8 characters."
		default:
			return "Please enter a valid password."
		}
	case FieldConfirm:
		return "Passwords do not match."
	default:
		return "This field is invalid."
	}
}
