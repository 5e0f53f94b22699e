package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriter_Status_PrintsMessage(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Status("listening on /tmp/cidx.sock")

	assert.Equal(t, "listening on /tmp/cidx.sock\n", buf.String())
}

func TestWriter_Statusf_FormatsMessage(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Statusf("%d/%d files", 3, 10)

	assert.Equal(t, "3/10 files\n", buf.String())
}

func TestWriter_Success_PrintsCheckmark(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Success("indexed 12 files")

	assert.Contains(t, buf.String(), "✓")
	assert.Contains(t, buf.String(), "indexed 12 files")
}

func TestWriter_Warning_PrintsBang(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Warning("collection already owned by a daemon")

	assert.Contains(t, buf.String(), "!")
	assert.Contains(t, buf.String(), "collection already owned by a daemon")
}

func TestWriter_Error_PrintsCross(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Errorf("acquire lock: %v", assert.AnError)

	assert.Contains(t, buf.String(), "✗")
	assert.Contains(t, buf.String(), assert.AnError.Error())
}

func TestWriter_Progress_NonTTY_PrintsOneLinePerUpdate(t *testing.T) {
	// A *bytes.Buffer is never a *os.File, so isTTY is always false here;
	// Progress should behave like Statusf, one line per call.
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Progress("1/10 files (main.go)")
	w.Progress("2/10 files (util.go)")
	w.ProgressDone()

	assert.Equal(t, "1/10 files (main.go)\n2/10 files (util.go)\n", buf.String())
}
