package registry

import "errors"

var (
	ErrBadCapacity  = errors.New("node declared a negative capacity")
	ErrRegistryShut = errors.New("registry is shut down")
)
