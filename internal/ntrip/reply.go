package ntrip

import (
	"regexp"
)

// Reply is the classification of the caster's first response chunk.
type Reply int

const (
	ReplyUnexpected Reply = iota
	ReplyOK
	ReplyUnauthorized
	ReplySourceTable
)

func (r Reply) String() string {
	switch r {
	case ReplyOK:
		return "ok"
	case ReplyUnauthorized:
		return "unauthorized"
	case ReplySourceTable:
		return "sourcetable"
	case ReplyUnexpected:
		return "unexpected"
	}
	return "unknown"
}

var (
	replyOKRe           = regexp.MustCompile(`(?i)^ICY 200`)
	replyUnauthorizedRe = regexp.MustCompile(`(?i)^HTTP/1\.\d 401`)
	replySourceTableRe  = regexp.MustCompile(`(?i)^SOURCETABLE 200`)
)

// ClassifyReply matches the start of the caster's first reply. Casters answer
// "ICY 200 OK" for a valid mount point, "SOURCETABLE 200 OK" when the mount
// point is unknown, and an HTTP 401 on bad credentials.
func ClassifyReply(b []byte) Reply {
	switch {
	case replyOKRe.Match(b):
		return ReplyOK
	case replyUnauthorizedRe.Match(b):
		return ReplyUnauthorized
	case replySourceTableRe.Match(b):
		return ReplySourceTable
	default:
		return ReplyUnexpected
	}
}

// replyBody returns the bytes following the status line of an OK reply. Some
// casters start streaming in the same segment as the greeting.
func replyBody(b []byte) []byte {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' {
			rest := b[i+2:]
			for len(rest) >= 2 && rest[0] == '\r' && rest[1] == '\n' {
				rest = rest[2:]
			}
			return rest
		}
	}
	return nil
}
