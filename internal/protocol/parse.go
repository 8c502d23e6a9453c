package protocol

import (
	"errors"
	"strconv"
	"strings"
)

// ErrIncomplete indicates buf does not yet contain a full frame; the
// caller should read more bytes and retry with a longer buffer.
var ErrIncomplete = errors.New("protocol: incomplete frame")

// ErrMalformed indicates buf contained a complete header line for a
// recognized verb but with the wrong arity or an unparsable argument.
// Consumed still reports how many bytes to discard.
var ErrMalformed = errors.New("protocol: malformed command")

const crlf = "\r\n"

// Parse extracts the next command from the front of buf. It returns
// the parsed Command, the number of bytes consumed from buf, and an
// error. ErrIncomplete means buf holds no full frame yet and consumed
// is always 0. Any other non-nil error still reports a non-zero
// consumed so the caller can drop the offending frame and continue.
func Parse(buf []byte) (Command, int, error) {
	idx := strings.Index(string(buf), crlf)
	if idx < 0 {
		return Command{}, 0, ErrIncomplete
	}
	headerEnd := idx + len(crlf)
	header := string(buf[:idx])

	verb, rest := splitVerb(header)
	if verb == "" {
		return Command{Type: UNKNOWN}, headerEnd, nil
	}

	switch verb {
	case "CONNECT":
		return parseConnect(rest, headerEnd)
	case "PING":
		return Command{Type: PING}, headerEnd, nil
	case "PONG":
		return Command{Type: PONG}, headerEnd, nil
	case "SUB":
		return parseSub(rest, headerEnd)
	case "PUB":
		return parsePub(rest, buf, headerEnd)
	case "UNSUB":
		return parseUnsub(rest, headerEnd)
	default:
		return Command{Type: UNKNOWN}, headerEnd, nil
	}
}

// splitVerb separates the first whitespace-delimited token (the verb)
// from the remainder of the line, with leading whitespace trimmed but
// otherwise unmodified so
// an opaque blob like a CONNECT options payload keeps its original
// internal spacing.
func splitVerb(line string) (verb, rest string) {
	trimmed := strings.TrimLeft(line, " \t")
	sp := strings.IndexAny(trimmed, " \t")
	if sp < 0 {
		return trimmed, ""
	}
	return trimmed[:sp], strings.TrimLeft(trimmed[sp+1:], " \t")
}

func parseConnect(rest string, headerEnd int) (Command, int, error) {
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return Command{Type: UNKNOWN}, headerEnd, ErrMalformed
	}
	return Command{
		Type:    CONNECT,
		Options: map[string]string{OptConnect: rest},
	}, headerEnd, nil
}

func parseSub(rest string, headerEnd int) (Command, int, error) {
	tokens := strings.Fields(rest)
	if len(tokens) < 2 {
		return Command{Type: UNKNOWN}, headerEnd, ErrMalformed
	}

	cmd := Command{Type: SUB, Subject: tokens[0]}
	if len(tokens) > 2 {
		cmd.Options = map[string]string{OptQueueGroup: tokens[1]}
		cmd.SID = tokens[2]
	} else {
		cmd.SID = tokens[1]
	}
	return cmd, headerEnd, nil
}

func parsePub(rest string, buf []byte, headerEnd int) (Command, int, error) {
	tokens := strings.Fields(rest)
	if len(tokens) < 2 {
		return Command{Type: UNKNOWN}, headerEnd, ErrMalformed
	}

	cmd := Command{Type: PUB, Subject: tokens[0]}

	var sizeTok string
	if len(tokens) > 2 {
		cmd.ReplyTo = tokens[1]
		sizeTok = tokens[2]
	} else {
		sizeTok = tokens[1]
	}

	size, err := strconv.Atoi(sizeTok)
	if err != nil || size < 0 {
		return Command{Type: UNKNOWN}, headerEnd, ErrMalformed
	}
	cmd.PayloadSize = size

	frameEnd := headerEnd + size + len(crlf)
	if len(buf) < frameEnd {
		return Command{}, 0, ErrIncomplete
	}

	payload := make([]byte, size)
	copy(payload, buf[headerEnd:headerEnd+size])
	cmd.Payload = payload

	return cmd, frameEnd, nil
}

func parseUnsub(rest string, headerEnd int) (Command, int, error) {
	tokens := strings.Fields(rest)
	if len(tokens) < 1 {
		return Command{Type: UNKNOWN}, headerEnd, ErrMalformed
	}

	cmd := Command{Type: UNSUB, SID: tokens[0]}
	if len(tokens) > 1 {
		cmd.Options = map[string]string{OptMaxMsgs: tokens[1]}
	}
	return cmd, headerEnd, nil
}
