package wakelock

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResource struct {
	name       string
	acquireErr error
	releaseErr error

	mu       sync.Mutex
	held     int
	acquires int
	releases int
}

func (f *fakeResource) Name() string { return f.name }

func (f *fakeResource) Acquire() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acquireErr != nil {
		return f.acquireErr
	}
	f.acquires++
	f.held++
	return nil
}

func (f *fakeResource) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
	if f.held > 0 {
		f.held--
	}
	return f.releaseErr
}

func (f *fakeResource) outstanding() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held
}

func TestAcquireTwiceHoldsOnePair(t *testing.T) {
	cpu, net := &fakeResource{name: "cpu"}, &fakeResource{name: "net"}
	m := NewManager(cpu, net)

	require.NoError(t, m.Acquire())
	require.NoError(t, m.Acquire())

	assert.True(t, m.IsHeld())
	assert.Equal(t, 1, cpu.outstanding())
	assert.Equal(t, 1, net.outstanding())
	assert.Equal(t, 1, cpu.acquires)
}

func TestReleaseWhenNotHeldIsNoop(t *testing.T) {
	cpu, net := &fakeResource{name: "cpu"}, &fakeResource{name: "net"}
	m := NewManager(cpu, net)

	require.NoError(t, m.Release())
	assert.False(t, m.IsHeld())
	assert.Zero(t, cpu.releases)
	assert.Zero(t, net.releases)
}

func TestAcquiresDoNotStack(t *testing.T) {
	cpu, net := &fakeResource{name: "cpu"}, &fakeResource{name: "net"}
	m := NewManager(cpu, net)

	require.NoError(t, m.Acquire())
	require.NoError(t, m.Acquire())
	require.NoError(t, m.Release())

	assert.False(t, m.IsHeld())
	assert.Zero(t, cpu.outstanding())
	assert.Zero(t, net.outstanding())
}

func TestSecondaryFailureRollsBackPrimary(t *testing.T) {
	cpu := &fakeResource{name: "cpu"}
	net := &fakeResource{name: "net", acquireErr: errors.New("no wifi")}
	m := NewManager(cpu, net)

	err := m.Acquire()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no wifi")
	assert.False(t, m.IsHeld())
	assert.Zero(t, cpu.outstanding(), "primary must be rolled back")

	net.acquireErr = nil
	require.NoError(t, m.Acquire(), "a later attempt can still succeed")
	assert.True(t, m.IsHeld())
}

func TestPrimaryFailureTouchesNothing(t *testing.T) {
	cpu := &fakeResource{name: "cpu", acquireErr: errors.New("denied")}
	net := &fakeResource{name: "net"}
	m := NewManager(cpu, net)

	require.Error(t, m.Acquire())
	assert.False(t, m.IsHeld())
	assert.Zero(t, net.acquires)
}

func TestReleaseAttemptsBothOnError(t *testing.T) {
	cpu := &fakeResource{name: "cpu", releaseErr: errors.New("stuck")}
	net := &fakeResource{name: "net"}
	m := NewManager(cpu, net)

	require.NoError(t, m.Acquire())
	err := m.Release()
	require.Error(t, err)
	assert.False(t, m.IsHeld())
	assert.Equal(t, 1, net.releases)
	assert.Equal(t, 1, cpu.releases)
}

func TestConcurrentAcquireRelease(t *testing.T) {
	cpu, net := &fakeResource{name: "cpu"}, &fakeResource{name: "net"}
	m := NewManager(cpu, net)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); _ = m.Acquire() }()
		go func() { defer wg.Done(); _ = m.Release() }()
	}
	wg.Wait()

	require.NoError(t, m.Release())
	assert.Zero(t, cpu.outstanding())
	assert.Zero(t, net.outstanding())
}

func TestFileResourceMarker(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(NewFileResource(dir, "cpu"), NewFileResource(dir, "net"))

	require.NoError(t, m.Acquire())
	assert.FileExists(t, filepath.Join(dir, "cpu.lock"))
	assert.FileExists(t, filepath.Join(dir, "net.lock"))

	require.NoError(t, m.Release())
	_, err := os.Stat(filepath.Join(dir, "cpu.lock"))
	assert.True(t, os.IsNotExist(err))
}

func TestInhibitorResource(t *testing.T) {
	r := NewInhibitorResource("cpu", "idle", []string{"sleep", "60"})
	require.NoError(t, r.Acquire())
	require.NoError(t, r.Acquire())
	require.NoError(t, r.Release())
	require.NoError(t, r.Release())

	missing := NewInhibitorResource("cpu", "idle", []string{"/nonexistent/inhibitor"})
	assert.Error(t, missing.Acquire())
}
