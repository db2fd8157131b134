// Package configstore defines where engine configuration is kept.
package configstore

import (
	"context"
	"errors"
)

// ErrWatchUnsupported is returned by stores that cannot report changes.
var ErrWatchUnsupported = errors.New("config store does not support watching")

type ConfigStore interface {
	Load(ctx context.Context, out any) error
	Save(ctx context.Context, data any) error
}
