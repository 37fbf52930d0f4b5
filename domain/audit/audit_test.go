package audit

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2024, time.March, 7, 14, 2, 11, 123456000, time.Local)

func TestAppendLineFormat(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLog(&buf)
	l.Append(at, "Blocked new IP: 10.0.0.5 with 3 failed attempts")
	l.Appendf(at, "Unblocked IP: %s", "10.0.0.6")
	assert.Equal(t,
		"2024-03-07 14:02:11.123456 - Blocked new IP: 10.0.0.5 with 3 failed attempts\n"+
			"2024-03-07 14:02:11.123456 - Unblocked IP: 10.0.0.6\n",
		buf.String())
}

func TestOpenAppendsAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bloqueo_debug.log")

	l := Open(path)
	l.Append(at, "first")
	require.NoError(t, l.Close())

	l = Open(path)
	l.Append(at, "second")
	require.NoError(t, l.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-07 14:02:11.123456 - first\n2024-03-07 14:02:11.123456 - second\n", string(b))
}

func TestAppendAfterCloseIsIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l := Open(path)
	require.NoError(t, l.Close())
	l.Append(at, "late")
	assert.NoError(t, l.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, b)
}

func TestDisabledLog(t *testing.T) {
	l := Open("")
	l.Append(at, "nowhere")
	assert.NoError(t, l.Close())
}

func TestUnwritableAuditDoesNotPanic(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	l := Open(filepath.Join(blocker, "audit.log"))
	l.Append(at, "dropped")
	assert.NoError(t, l.Close())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestWriteErrorIsSwallowed(t *testing.T) {
	l := NewWriterLog(failingWriter{})
	assert.NotPanics(t, func() { l.Append(at, "dropped") })
}

func TestNilLogIsNoop(t *testing.T) {
	var l *Log
	assert.NotPanics(t, func() {
		l.Append(at, "Unblocked IP: 10.0.0.5")
		l.Appendf(at, "Unblocked IP: %s", "10.0.0.5")
		assert.NoError(t, l.Close())
	})
}
