package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"

	"github.com/Sternrassler/calendar-server/pkg/fetch"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// report yaml keys instead of Go field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})

	_ = v.RegisterValidation("listen_addr", validateListenAddr)
	_ = v.RegisterValidation("positive_duration", validatePositiveDuration)
	_ = v.RegisterValidation("url_template", validateURLTemplate)
	_ = v.RegisterValidation("regexp", validateRegexp)
	_ = v.RegisterValidation("cron_schedule", validateCronSchedule)
	return v
}

// Validate checks every field and the cross-field year window.
func (c *Config) Validate() error {
	var problems []string

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		for _, fe := range fieldErrs {
			problems = append(problems, fmt.Sprintf("%s: %s", fieldPath(fe), message(fe)))
		}
	}

	if (c.YearMin < 0) != (c.YearMax < 0) {
		problems = append(problems, "yearMin/yearMax: set both or neither")
	} else if c.YearMin >= 0 && c.YearMin > c.YearMax {
		problems = append(problems, fmt.Sprintf("yearMin/yearMax: %d is after %d", c.YearMin, c.YearMax))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// fieldPath strips the root struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field is required"
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "timezone":
		return "must be an IANA time zone name (e.g., Europe/Berlin)"
	case "listen_addr":
		return "must be a host:port listen address (e.g., :2000)"
	case "positive_duration":
		return "must be a positive duration (e.g., 30s, 5m)"
	case "url_template":
		return fmt.Sprintf("must be an http(s) URL containing %q", fetch.Placeholder)
	case "regexp":
		return "must be a valid regular expression"
	case "cron_schedule":
		return "must be a cron expression (e.g., */15 * * * *)"
	default:
		return fmt.Sprintf("validation failed for tag '%s'", fe.Tag())
	}
}

func validateListenAddr(fl validator.FieldLevel) bool {
	_, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 0 && n <= 65535
}

func validatePositiveDuration(fl validator.FieldLevel) bool {
	field := fl.Field()
	switch field.Kind() {
	case reflect.Int64:
		return field.Int() > 0
	default:
		return false
	}
}

func validateURLTemplate(fl validator.FieldLevel) bool {
	tmpl := fl.Field().String()
	if !strings.Contains(tmpl, fetch.Placeholder) {
		return false
	}
	u, err := url.Parse(strings.ReplaceAll(tmpl, fetch.Placeholder, "2000-01"))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func validateRegexp(fl validator.FieldLevel) bool {
	_, err := regexp.Compile(fl.Field().String())
	return err == nil
}

func validateCronSchedule(fl validator.FieldLevel) bool {
	_, err := cron.ParseStandard(fl.Field().String())
	return err == nil
}
