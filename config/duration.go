package config

import (
	"time"

	"github.com/cockroachdb/errors"
)

// Duration is a time.Duration written in TOML as a string such as "5s" or "250ms"
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", text)
	}

	d.Duration = parsed
	return nil
}
