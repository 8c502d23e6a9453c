package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// GenerateInfo renders the INFO frame sent to a client immediately
// after it is accepted. No general JSON escaping is performed; host,
// port and clientIP are interpolated verbatim, matching the wire
// format existing clients already expect.
func GenerateInfo(host string, port int, clientIP string) []byte {
	return []byte(fmt.Sprintf(`INFO {"host":"%s","port":%d,"client_ip":"%s"}`+crlf, host, port, clientIP))
}

// GenerateOK renders the +OK acknowledgement frame.
func GenerateOK() []byte {
	return []byte("+OK" + crlf)
}

// GeneratePong renders the PONG reply frame.
func GeneratePong() []byte {
	return []byte("PONG" + crlf)
}

// GenerateMsg renders an MSG frame delivering payload on subject to a
// subscriber identified by sid. replyTo is emitted only when non-empty.
func GenerateMsg(subject, sid, replyTo string, payload []byte) []byte {
	var b strings.Builder
	b.WriteString("MSG ")
	b.WriteString(subject)
	b.WriteByte(' ')
	b.WriteString(sid)
	if replyTo != "" {
		b.WriteByte(' ')
		b.WriteString(replyTo)
	}
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(len(payload)))
	b.WriteString(crlf)
	b.Write(payload)
	b.WriteString(crlf)
	return []byte(b.String())
}
