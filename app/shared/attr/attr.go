// Package attr provides slog attribute helpers shared across modules.
package attr

import (
	"log/slog"
	"time"
)

func String(key, value string) slog.Attr { return slog.String(key, value) }

func Int(key string, value int) slog.Attr { return slog.Int(key, value) }

func Int64(key string, value int64) slog.Attr { return slog.Int64(key, value) }

func Bool(key string, value bool) slog.Attr { return slog.Bool(key, value) }

func Any(key string, value any) slog.Attr { return slog.Any(key, value) }

func Duration(key string, value time.Duration) slog.Attr { return slog.Duration(key, value) }

func Time(key string, value time.Time) slog.Attr { return slog.Time(key, value) }

// Error reports err under the conventional "error" key. A nil err logs as
// an empty string rather than panicking.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// Stringer avoids the fmt import at call sites for ID types.
func Stringer(key string, value interface{ String() string }) slog.Attr {
	return slog.String(key, value.String())
}
