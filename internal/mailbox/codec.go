package mailbox

import (
	"fmt"
	"strconv"
	"strings"
)

const replyToPrefix = "reply-to "

// Envelope is the content of the command slot: one grammar line plus the
// result slot the caller is waiting on.
type Envelope struct {
	Line    string
	ReplyTo string
}

// Encode renders the envelope. The generic result slot is implied and not
// written.
func (e Envelope) Encode() []byte {
	var b strings.Builder
	b.WriteString(strings.TrimRight(e.Line, "\r\n"))
	b.WriteByte('\n')
	if e.ReplyTo != "" && e.ReplyTo != ResultSlotName {
		b.WriteString(replyToPrefix)
		b.WriteString(e.ReplyTo)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// DecodeEnvelope parses command slot content. A missing or invalid reply-to
// line selects the generic result slot; the second return value reports
// whether the reply-to line was rejected.
func DecodeEnvelope(data []byte) (Envelope, bool) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	first, rest, _ := strings.Cut(text, "\n")

	env := Envelope{Line: strings.TrimSpace(first), ReplyTo: ResultSlotName}
	rejected := false
	for _, line := range strings.Split(rest, "\n") {
		slot, ok := strings.CutPrefix(strings.TrimSpace(line), replyToPrefix)
		if !ok {
			continue
		}
		slot = strings.TrimSpace(slot)
		if IsResultSlot(slot) {
			env.ReplyTo = slot
		} else {
			rejected = true
		}
		break
	}
	return env, rejected
}

// Result is what the broker writes back: an exit code and output lines.
type Result struct {
	Code   int
	Output []string
}

// Resultf builds a result with a single formatted output line
func Resultf(code int, format string, args ...any) Result {
	return Result{Code: code, Output: []string{fmt.Sprintf(format, args...)}}
}

// Encode renders "<exit_code>\n" followed by one line per output entry
func (r Result) Encode() []byte {
	var b strings.Builder
	b.WriteString(strconv.Itoa(r.Code))
	b.WriteByte('\n')
	for _, line := range r.Output {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// DecodeResult parses result slot content
func DecodeResult(data []byte) (Result, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	first, rest, _ := strings.Cut(text, "\n")

	code, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil {
		return Result{}, fmt.Errorf("decode result: exit code %q is not an integer", first)
	}

	res := Result{Code: code}
	if rest != "" {
		res.Output = strings.Split(strings.TrimSuffix(rest, "\n"), "\n")
	}
	return res, nil
}
