package app

import (
	"log/slog"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want slog.Level
	}{
		{name: "debug", in: "debug", want: slog.LevelDebug},
		{name: "upper_info", in: "INFO", want: slog.LevelInfo},
		{name: "warn", in: "warn", want: slog.LevelWarn},
		{name: "warning_alias", in: "warning", want: slog.LevelWarn},
		{name: "error", in: "error", want: slog.LevelError},
		{name: "garbage_falls_back", in: "shouting", want: slog.LevelInfo},
		{name: "empty_falls_back", in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := parseLogLevel(tc.in); got != tc.want {
				t.Fatalf("parseLogLevel(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}
