package protocol

import "errors"

var (
	ErrFrameTooLarge   = errors.New("frame exceeds maximum size")
	ErrUnknownKind     = errors.New("unknown frame kind")
	ErrMalformedFrame  = errors.New("malformed frame")
	ErrUnexpectedKind  = errors.New("unexpected frame kind")
	ErrUnexpectedReply = errors.New("unexpected reply")
	ErrRefused         = errors.New("node refused the request")
	ErrTimeout         = errors.New("response timed out")
	ErrNotFound        = errors.New("part not found on node")
	ErrSessionClosed   = errors.New("session closed")
)
