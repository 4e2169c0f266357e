//go:build !linux

package terminal

// PTYSpawner is unavailable outside Linux
type PTYSpawner struct{}

// NewPTYSpawner returns a spawner that always fails on this platform
func NewPTYSpawner() *PTYSpawner { return &PTYSpawner{} }

func (PTYSpawner) Spawn(Spec, Callbacks) (Process, error) {
	return nil, ErrUnsupported
}
