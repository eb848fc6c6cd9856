package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/recall/pkg/utils/logging"
)

func TestLevels(t *testing.T) {
	testCases := []struct {
		level     string
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{"debug", true, true, true},
		{"info", false, true, true},
		{"WARNING", false, false, true},
		{"error", false, false, false},
		{"unknown", false, true, true},
	}

	for _, tc := range testCases {
		t.Run(tc.level, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := logging.New(tc.level, buf)

			logger.Debug("memory debug")
			logger.Info("memory info")
			logger.Warn("memory warn")
			logger.Error("memory error")

			out := buf.String()
			check := func(want bool, msg string) {
				if want {
					gt.S(t, out).Contains(msg)
				} else {
					gt.S(t, out).NotContains(msg)
				}
			}
			check(tc.wantDebug, "memory debug")
			check(tc.wantInfo, "memory info")
			check(tc.wantWarn, "memory warn")
			gt.S(t, out).Contains("memory error")
		})
	}
}

func TestParseFormat(t *testing.T) {
	f, err := logging.ParseFormat("")
	gt.NoError(t, err)
	gt.Equal(t, f, logging.FormatConsole)

	f, err = logging.ParseFormat("JSON")
	gt.NoError(t, err)
	gt.Equal(t, f, logging.FormatJSON)

	_, err = logging.ParseFormat("xml")
	gt.Error(t, err)
}

func TestJSONFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.NewWithFormat("info", logging.FormatJSON, buf)

	logger.Info("memory stored", "agent_id", "a1")

	var entry map[string]any
	gt.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	gt.Equal(t, entry["msg"], any("memory stored"))
	gt.Equal(t, entry["agent_id"], any("a1"))
}

func TestErrAttr(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.New("info", buf)

	err := goerr.New("store unavailable", goerr.V("operation", "insert"))
	logger.Error("request failed", logging.ErrAttr(err))

	out := buf.String()
	gt.S(t, out).Contains("request failed")
	gt.S(t, out).Contains("store unavailable")
}

func TestWithAndFrom(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.New("info", buf).With("request_id", "req-1")

	ctx := logging.With(context.Background(), logger)
	gt.Equal(t, logging.From(ctx), logger)

	logging.From(ctx).Info("handled")
	gt.True(t, strings.Contains(buf.String(), "req-1"))
}

func TestFromUsesDefault(t *testing.T) {
	original := logging.Default()
	defer logging.SetDefault(original)

	buf := &bytes.Buffer{}
	custom := logging.New("warn", buf)
	logging.SetDefault(custom)

	retrieved := logging.From(context.Background())
	gt.Equal(t, retrieved, custom)

	retrieved.Warn("fallback logger")
	gt.S(t, buf.String()).Contains("fallback logger")
}
