//go:build !linux && !darwin

package socketutil

import "context"

func detect(context.Context, string) State {
	return StateUnsupported
}
