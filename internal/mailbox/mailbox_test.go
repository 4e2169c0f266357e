package mailbox

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLayout(t *testing.T) Layout {
	t.Helper()
	l := NewLayout(t.TempDir())
	require.NoError(t, l.EnsureDirs())
	return l
}

func TestEnsureDirs(t *testing.T) {
	l := NewLayout(filepath.Join(t.TempDir(), "nested", "root"))
	require.NoError(t, l.EnsureDirs())

	info, err := os.Stat(l.ControlDir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())
}

func TestSlotPutTake(t *testing.T) {
	l := newLayout(t)
	slot := l.Command()
	assert.Equal(t, filepath.Join(l.Root, "control", "command"), slot.Path())
	assert.False(t, slot.Exists())

	require.NoError(t, slot.Put([]byte("start -a VIEW\n")))
	assert.True(t, slot.Exists())

	data, err := slot.Take()
	require.NoError(t, err)
	assert.Equal(t, "start -a VIEW\n", string(data))
	assert.False(t, slot.Exists(), "take consumes the item")

	_, err = slot.Take()
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestSlotPutReplaces(t *testing.T) {
	l := newLayout(t)
	slot := l.Result(ResultSlotName)

	require.NoError(t, slot.Put([]byte("a much longer first payload")))
	require.NoError(t, slot.Put([]byte("short")))

	data, err := os.ReadFile(slot.Path())
	require.NoError(t, err)
	assert.Equal(t, "short", string(data))

	entries, err := os.ReadDir(l.ControlDir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestSlotClear(t *testing.T) {
	l := newLayout(t)
	slot := l.Command()
	require.NoError(t, slot.Clear())
	require.NoError(t, slot.Put([]byte("x")))
	require.NoError(t, slot.Clear())
	assert.False(t, slot.Exists())
}

func TestResultSlotFor(t *testing.T) {
	name, err := ResultSlotFor("")
	require.NoError(t, err)
	assert.Equal(t, "result", name)

	name, err = ResultSlotFor("1234_ab-CD")
	require.NoError(t, err)
	assert.Equal(t, "result_1234_ab-CD", name)

	for _, bad := range []string{"../x", "a/b", "with space", string(make([]byte, 65))} {
		_, err := ResultSlotFor(bad)
		assert.Error(t, err, bad)
	}
}

func TestIsResultSlot(t *testing.T) {
	assert.True(t, IsResultSlot("result"))
	assert.True(t, IsResultSlot("result_42_x"))
	assert.False(t, IsResultSlot("result_"))
	assert.False(t, IsResultSlot("command"))
	assert.False(t, IsResultSlot("result_../../etc"))
}

func TestSweepResults(t *testing.T) {
	l := newLayout(t)
	old := l.Result("result_old")
	fresh := l.Result("result_fresh")
	require.NoError(t, old.Put([]byte("0\n")))
	require.NoError(t, fresh.Put([]byte("0\n")))
	require.NoError(t, l.Command().Put([]byte("start -a X\n")))

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(old.Path(), past, past))
	require.NoError(t, os.Chtimes(l.Command().Path(), past, past))

	n, err := l.SweepResults(time.Now().Add(-10 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, old.Exists())
	assert.True(t, fresh.Exists())
	assert.True(t, l.Command().Exists(), "command slot is never swept")
}

func TestSweepMissingDir(t *testing.T) {
	l := NewLayout(filepath.Join(t.TempDir(), "absent"))
	n, err := l.SweepResults(time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}
