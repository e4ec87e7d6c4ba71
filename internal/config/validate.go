package config

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/njh/silentjack/internal/types"
	"github.com/njh/silentjack/internal/util"
)

// validate is the shared validator instance for configuration checks.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Use JSON tag names in error messages instead of struct field names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
}

// validate checks all configuration fields. Caller must hold c.mu.
func (c *Config) validate() error {
	verr := types.NewValidationError()

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, e := range fieldErrs {
			verr.Add(fieldPath(e), formatValidationMessage(e), e.Value())
		}
	}

	d := c.Detection
	if math.IsNaN(d.SilenceThresholdDB) || math.IsInf(d.SilenceThresholdDB, 0) {
		verr.Add("detection.silence_threshold_db", "must be a finite number", d.SilenceThresholdDB)
	}
	if math.IsNaN(d.NoDynamicThresholdDB) || math.IsInf(d.NoDynamicThresholdDB, 0) {
		verr.Add("detection.no_dynamic_threshold_db", "must be a finite number", d.NoDynamicThresholdDB)
	}
	if d.NoDynamicPeriod != math.Trunc(d.NoDynamicPeriod) || d.NoDynamicPeriod > math.MaxInt32 {
		verr.Add("detection.no_dynamic_period", "must be a whole number of seconds", d.NoDynamicPeriod)
	}
	if owner, name, ok := strings.Cut(c.Server.UpdateRepo, "/"); !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		verr.Add("server.update_repo", "must be owner/name", c.Server.UpdateRepo)
	}
	if every, err := c.Server.updateInterval(); err != nil {
		verr.Add("server.update_interval", "must be a duration such as 24h", c.Server.UpdateInterval)
	} else if every != 0 && every < MinUpdateInterval {
		verr.Add("server.update_interval", fmt.Sprintf("must be 0 or at least %s", MinUpdateInterval), c.Server.UpdateInterval)
	}
	if c.Logging.Verbose && c.Logging.Quiet {
		verr.Add("logging", "verbose and quiet cannot both be set", nil)
	}
	if c.Notifications.Zabbix.Server != "" && (c.Notifications.Zabbix.Host == "" || c.Notifications.Zabbix.Key == "") {
		verr.Add("notifications.zabbix", "host and key are required when server is set", nil)
	}

	for _, p := range []struct{ field, path string }{
		{"event_log.path", c.EventLog.Path},
		{"notifications.log.path", c.Notifications.Log.Path},
	} {
		if p.path == "" {
			continue
		}
		if err := util.ValidatePath(p.field, p.path); err != nil {
			verr.Add(p.field, strings.TrimPrefix(err.Error(), p.field+": "), p.path)
		}
	}

	if verr.HasErrors() {
		return verr
	}
	return nil
}

// fieldPath turns "Config.detection.grace" into "detection.grace".
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

// formatValidationMessage creates a human-readable message from a validator error.
func formatValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "max":
		if e.Kind() == reflect.Slice {
			return fmt.Sprintf("must have at most %s entries", e.Param())
		}
		return fmt.Sprintf("must be at most %s", e.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", e.Param())
	case "url":
		return "must be a valid URL"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "hostname_port":
		return "must be host:port"
	case "printascii":
		return "must be printable ASCII"
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}
