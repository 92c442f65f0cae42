package agent

import "errors"

var (
	ErrPartNotFound  = errors.New("part not found")
	ErrInvalidName   = errors.New("invalid access name")
	ErrInvalidRecord = errors.New("invalid part record")
	ErrCRCMismatch   = errors.New("crc checksum mismatch")
	ErrMasterClosed  = errors.New("master closed the session")
)
