package utils

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warning", want: slog.LevelWarn},
		{in: " error ", want: slog.LevelError},
		{in: "verbose", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			level, err := ParseLogLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, level)
		})
	}
}

func TestHeaderValue(t *testing.T) {
	headers := map[string]string{
		"authorization": "Bearer abc",
		"Content-Type":  "application/json",
	}

	assert.Equal(t, "Bearer abc", HeaderValue(headers, "Authorization"))
	assert.Equal(t, "application/json", HeaderValue(headers, "content-type"))
	assert.Equal(t, "", HeaderValue(headers, "X-Missing"))
	assert.Equal(t, "", HeaderValue(nil, "Authorization"))
}

func TestRedactToken(t *testing.T) {
	assert.Equal(t, "", RedactToken("", 4, 4))
	assert.Equal(t, "******", RedactToken("abcdef", 4, 4))
	assert.Equal(t, "abcd...wxyz", RedactToken("abcdefghijklmnopqrstuvwxyz", 4, 4))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", TruncateString("short", 10))
	assert.Equal(t, "abcdefg...", TruncateString("abcdefghijklmnop", 10))
}
