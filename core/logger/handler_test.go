package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	coreconfig "github.com/m3rciful/formbot/core/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capture returns a logger writing format lines and a func returning them after
// the writer is drained.
func capture(t *testing.T, format logFormat) (*slog.Logger, func() []string) {
	t.Helper()
	buf := &bytes.Buffer{}
	aw := newAsyncWriter([]io.Writer{buf}, 1024)
	h := newStructuredHandler(handlerConfig{level: slog.LevelDebug, writer: aw, format: format})
	return slog.New(h), func() []string {
		require.NoError(t, aw.Close())
		out := strings.TrimSpace(buf.String())
		if out == "" {
			return nil
		}
		return strings.Split(out, "\n")
	}
}

func TestKVLineOrder(t *testing.T) {
	log, lines := capture(t, formatKV)
	ctx := WithUpdateMeta(WithRID(Background(), "rid-123"), 42, 7, 9)
	LogEvent(ctx, log.With("component", "conversation"), slog.LevelInfo, "conversation.transition",
		slog.String("status", "OK"),
		slog.String("zeta", "last"),
		slog.String("alpha", "two words"),
	)

	got := lines()
	require.Len(t, got, 1)
	tokens := strings.Split(got[0], " ")
	want := []string{"ts=", "level=INFO", "component=conversation", "event=conversation.transition", "status=ok", "rid=rid-123", "update_id=42", "user_id=7", "chat_id=9"}
	for i, prefix := range want {
		assert.True(t, strings.HasPrefix(tokens[i], prefix), "token %d = %s, want prefix %s", i, tokens[i], prefix)
	}
	assert.Contains(t, got[0], `alpha="two words" zeta=last`)
}

func TestJSONLine(t *testing.T) {
	log, lines := capture(t, formatJSON)
	ctx := WithRID(Background(), "12:34:56")
	LogEvent(ctx, log.With("component", "dispatch"), slog.LevelError, "dispatch.fail",
		slog.String("err", "boom"),
		slog.Int("photos", 2),
	)

	got := lines()
	require.Len(t, got, 1)
	assert.True(t, strings.HasPrefix(got[0], `{"ts":`))

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(got[0]), &rec))
	assert.Equal(t, "ERROR", rec["level"])
	assert.Equal(t, "dispatch", rec["component"])
	assert.Equal(t, CompactRID("12:34:56"), rec["rid"])
	assert.Equal(t, "12:34:56", rec["rid_full"])
	assert.EqualValues(t, 2, rec["photos"])
	assert.Contains(t, rec, "ts_unix_nano")
	assert.Less(t, strings.Index(got[0], `"level"`), strings.Index(got[0], `"component"`))
}

func TestContextFormIDAndDurations(t *testing.T) {
	log, lines := capture(t, formatKV)
	ctx := WithHandler(WithFormID(Background(), "1FAIpQLSf"), "connect")
	LogEvent(ctx, log, slog.LevelInfo, "event.dispatched",
		slog.Duration("duration", 1500*time.Microsecond),
		slog.Duration("sync_duration", 2*time.Second),
		slog.Any("err", errors.New("late")),
		slog.String("empty", " "),
	)

	got := lines()
	require.Len(t, got, 1)
	for _, want := range []string{"component=app", "form_id=1FAIpQLSf", "handler=connect", "duration_ms=2", "sync_duration_ms=2000", "err=late"} {
		assert.Contains(t, got[0], want)
	}
	assert.NotContains(t, got[0], "empty=")
	assert.NotContains(t, got[0], "rid_full")
}

func TestGroupsFlattenToDottedKeys(t *testing.T) {
	log, lines := capture(t, formatKV)
	log.WithGroup("push").With("form", "f1").Info("", slog.String("event", "x"), slog.Group("attrs", slog.String("type", "RESPONSES")))

	got := lines()
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "push.form=f1")
	assert.Contains(t, got[0], "push.attrs.type=RESPONSES")
}

func TestLevelFilter(t *testing.T) {
	buf := &bytes.Buffer{}
	aw := newAsyncWriter([]io.Writer{buf}, 0)
	log := slog.New(newStructuredHandler(handlerConfig{level: slog.LevelWarn, writer: aw, format: formatKV}))
	LogEvent(Background(), log, slog.LevelInfo, "dropped")
	LogEvent(Background(), log, slog.LevelWarn, "kept")
	require.NoError(t, aw.Close())
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "event=kept")
}

func TestLogEventWithoutLoggerIsNoop(t *testing.T) {
	prev := L
	L = nil
	defer func() { L = prev }()
	assert.NotPanics(t, func() {
		Info(Background(), "app", "noop", slog.String("status", "ok"))
		LogEvent(Background(), nil, slog.LevelError, "noop")
	})
}

func TestWriterFlushAndErrors(t *testing.T) {
	buf := &bytes.Buffer{}
	aw := newAsyncWriter([]io.Writer{buf}, 4096)
	require.NoError(t, aw.Write([]byte("a\n")))
	require.NoError(t, aw.Flush())
	assert.Equal(t, "a\n", buf.String())
	require.NoError(t, aw.Close())

	bad := newAsyncWriter([]io.Writer{failingWriter{}}, 1)
	_ = bad.Write([]byte("xx\n"))
	assert.Error(t, bad.Close())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestRatioSampler(t *testing.T) {
	s := newRatioSampler(1, 3)
	var passed int
	for range 9 {
		if s.Allow() {
			passed++
		}
	}
	assert.Equal(t, 3, passed)

	s.Set(0, 0)
	assert.True(t, s.Allow())

	s.Set(5, 2)
	assert.True(t, s.Allow())
	assert.True(t, s.Allow())
}

func TestParseRatioSpec(t *testing.T) {
	cases := map[string][2]int{
		"1/10":    {1, 10},
		" 2 / 5 ": {2, 5},
		"20":      {1, 20},
		"0":       {0, 0},
		"x/y":     {0, 0},
		"":        {0, 0},
	}
	for spec, want := range cases {
		k, n := parseRatioSpec(spec)
		assert.Equal(t, want, [2]int{k, n}, spec)
	}
}

func TestResolveSettings(t *testing.T) {
	t.Setenv("TRACE", "")
	t.Setenv("LOG_TRACE", "")

	st := resolve(coreconfig.LoggingConfig{})
	assert.Equal(t, slog.LevelInfo, st.level)
	assert.Equal(t, formatJSON, st.format)
	assert.Equal(t, "prod", st.profile)
	assert.Equal(t, defaultKeyOrder, st.keyOrder)
	assert.Equal(t, [2]int{1, 50}, [2]int{st.sampleK, st.sampleN})
	assert.False(t, st.trace)

	st = resolve(coreconfig.LoggingConfig{
		Profile:     "Dev",
		Level:       "warning",
		KeysOrder:   "event, ,rid",
		DebugSample: "0",
	})
	assert.Equal(t, slog.LevelWarn, st.level)
	assert.Equal(t, formatKV, st.format)
	assert.Equal(t, []string{"event", "rid"}, st.keyOrder)
	assert.Equal(t, [2]int{0, 0}, [2]int{st.sampleK, st.sampleN})

	st = resolve(coreconfig.LoggingConfig{Profile: "dev", Format: "json", DebugSample: "-1/5"})
	assert.Equal(t, formatJSON, st.format)
	assert.Equal(t, [2]int{1, 50}, [2]int{st.sampleK, st.sampleN})

	t.Setenv("LOG_TRACE", "yes")
	assert.True(t, resolve(coreconfig.LoggingConfig{}).trace)
}

func TestOpenLogFile(t *testing.T) {
	f, err := openLogFile("", "bot.log")
	require.NoError(t, err)
	assert.Nil(t, f)

	dir := filepath.Join(t.TempDir(), "logs")
	f, err = openLogFile(dir, "bot.log")
	require.NoError(t, err)
	require.NotNil(t, f)
	require.NoError(t, f.Close())
	assert.FileExists(t, filepath.Join(dir, "bot.log"))
}
