package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strconv"
	"strings"

	"github.com/docker/go-units"

	"pdf-form-drop/internal/logger"
)

// FieldError is one configuration problem.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validator collects every problem so startup can report them all at once.
type Validator struct {
	errors []FieldError
}

// AddError records a problem with field.
func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, FieldError{Field: field, Message: message})
}

// HasErrors reports whether any problem was recorded.
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Errors returns the recorded problems.
func (v *Validator) Errors() []FieldError {
	return v.errors
}

// Err returns nil or an error listing every problem.
func (v *Validator) Err() error {
	if !v.HasErrors() {
		return nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d error(s):", len(v.errors))
	for i, err := range v.errors {
		fmt.Fprintf(&sb, "\n  %d. %s", i+1, err.Error())
	}
	return errors.New(sb.String())
}

// ValidateRequired flags an empty value.
func (v *Validator) ValidateRequired(field, value string) {
	if value == "" {
		v.AddError(field, "required")
	}
}

// ValidateListenAddr accepts host:port or :port.
func (v *Validator) ValidateListenAddr(field, value string) {
	if value == "" {
		return
	}
	_, portStr, err := net.SplitHostPort(value)
	if err != nil {
		v.AddError(field, fmt.Sprintf("must be host:port or :port (%v)", err))
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		v.AddError(field, "port must be a number")
		return
	}
	if port < 1 || port > 65535 {
		v.AddError(field, "port must be between 1 and 65535")
	}
}

// ValidateSize parses a human readable size such as "32MB" and returns it in
// bytes.
func (v *Validator) ValidateSize(field, value string) int64 {
	size, err := units.FromHumanSize(value)
	if err != nil {
		v.AddError(field, fmt.Sprintf("invalid size: %v", err))
		return 0
	}
	if size <= 0 {
		v.AddError(field, "must be positive")
		return 0
	}
	return size
}

// ValidateNonNegative flags negative counters.
func (v *Validator) ValidateNonNegative(field string, value int) {
	if value < 0 {
		v.AddError(field, "must not be negative")
	}
}

// ValidateProxies parses IP addresses and CIDR ranges. A bare address is
// treated as a single-host range.
func (v *Validator) ValidateProxies(field string, values []string) []netip.Prefix {
	var prefixes []netip.Prefix
	for _, raw := range values {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		if strings.Contains(value, "/") {
			p, err := netip.ParsePrefix(value)
			if err != nil {
				v.AddError(field, fmt.Sprintf("invalid CIDR %q", value))
				continue
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(value)
		if err != nil {
			v.AddError(field, fmt.Sprintf("invalid IP address %q", value))
			continue
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes
}

// ValidatePostgresURL accepts postgres:// and postgresql:// URLs.
func (v *Validator) ValidatePostgresURL(field, value string) {
	if value == "" {
		return
	}
	u, err := url.Parse(value)
	if err != nil {
		v.AddError(field, fmt.Sprintf("invalid URL format: %v", err))
		return
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		v.AddError(field, "must be a valid PostgreSQL connection string")
	}
}

// Validate checks the configuration and derives computed values.
func (c *Config) Validate() error {
	v := &Validator{}

	v.ValidateRequired("addr", c.Addr)
	v.ValidateListenAddr("addr", c.Addr)
	v.ValidateRequired("uploads_dir", c.UploadsDir)
	c.maxUploadBytes = v.ValidateSize("max_upload_size", c.MaxUploadSize)
	v.ValidateNonNegative("collision_attempts", c.CollisionAttempts)
	v.ValidateNonNegative("rate_limit", c.RateLimit)
	c.trustedProxies = v.ValidateProxies("trusted_proxies", c.TrustedProxies)

	if err := logger.Level(c.LogLevel).Validate(); err != nil {
		v.AddError("log_level", err.Error())
	}
	if err := logger.Format(c.LogFormat).Validate(); err != nil {
		v.AddError("log_format", err.Error())
	}

	v.ValidatePostgresURL("database_url", c.DatabaseURL)

	if n := c.S3.configured(); n != 0 && n != 4 {
		v.AddError("s3", "endpoint, access_key, secret_key and bucket must be set together")
	}

	return v.Err()
}
