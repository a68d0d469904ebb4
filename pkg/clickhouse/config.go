package clickhouse

import (
	"fmt"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ClientConfig describes one ClickHouse pool. Zero fields take the defaults
// below; Host has none.
type ClientConfig struct {
	Host            string        `validate:"required,hostname|ip"`
	Port            int           `default:"9000" validate:"gte=1,lte=65535"`
	Database        string        `default:"default" validate:"required"`
	User            string        `default:"default"`
	Password        string        `validate:"-"`
	MaxOpenConns    int           `default:"10" validate:"gte=1"`
	MaxIdleConns    int           `default:"5" validate:"gte=0,ltefield=MaxOpenConns"`
	ConnMaxLifetime time.Duration `default:"5m"`
	DialTimeout     time.Duration `default:"5s"`
	ReadTimeout     time.Duration `default:"30s"`
	// UseHTTP switches from the native protocol to HTTP.
	UseHTTP bool
	// AsyncInsert lets the server buffer inserts; WaitForAsync makes the
	// insert return only after the buffer is flushed.
	AsyncInsert  bool
	WaitForAsync bool
	MaxExecTime  time.Duration
}

func (c *ClientConfig) normalize() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("clickhouse config defaults: %w", err)
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("clickhouse config: %w", err)
	}
	return nil
}
