package protocol

// Commands sent by the master to a node agent.
const (
	CmdOpen     = "OPEN"
	CmdClose    = "CLOSE"
	CmdUpload   = "UPLOAD"
	CmdDownload = "DOWNLOAD"
	CmdDelete   = "DELETE"
	CmdSearch   = "SEARCH"
)

// Replies.
const (
	ReplyOK      = "OK"
	ReplyFail    = "FAIL"
	ReplySend    = "SEND"
	ReplyNone    = "NONE"
	ReplyUnknown = "UNKNOWN"
)

// NotFound is the reserved length a node answers to a DOWNLOAD request for
// a part it does not hold.
const NotFound int64 = -1
