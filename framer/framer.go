// Package framer splits an inbound byte stream into newline-terminated
// records. It never blocks and never reads from a transport itself: the
// Dispatcher feeds it chunks as they arrive and drains whatever complete
// lines fall out.
package framer

// MaxAccumulator bounds the line accumulator so a misbehaving peer that
// never sends '\n' cannot grow memory without bound. On overflow the
// accumulator is dropped and a synthetic Unknown marker line is emitted
// instead (the Dispatcher classifies an empty/overflow line as Unknown).
const MaxAccumulator = 4096

// Framer accumulates bytes across Feed calls and yields complete,
// trimmed lines. Zero value is ready to use.
type Framer struct {
	buf      []byte
	overflow bool
}

// Feed appends chunk to the accumulator and returns every complete line
// it can extract, in arrival order. Trailing '\r' is stripped from each
// emitted line; the terminating '\n' is never included. A chunk that
// contains no '\n' yields zero lines and the partial data is retained for
// the next Feed call.
func (f *Framer) Feed(chunk []byte) []string {
	var lines []string
	for _, b := range chunk {
		if b == '\n' {
			lines = append(lines, f.flush())
			continue
		}
		if len(f.buf) >= MaxAccumulator {
			// Guard against an unterminated, ever-growing line: drop what
			// we have and mark the next flush as an overflow record.
			f.buf = f.buf[:0]
			f.overflow = true
			continue
		}
		f.buf = append(f.buf, b)
	}
	return lines
}

// flush emits the current accumulator as a line (stripping a trailing
// '\r') and resets it, honoring a pending overflow by emitting an empty
// line — the Dispatcher's classifier maps an empty line to Unknown the
// same as any other line it cannot recognize, so no separate sentinel
// type is needed here.
func (f *Framer) flush() string {
	if f.overflow {
		f.overflow = false
		f.buf = f.buf[:0]
		return ""
	}
	n := len(f.buf)
	if n > 0 && f.buf[n-1] == '\r' {
		n--
	}
	line := string(f.buf[:n])
	f.buf = f.buf[:0]
	return line
}

// Pending reports the number of bytes currently held in the accumulator,
// for diagnostics/tests only.
func (f *Framer) Pending() int { return len(f.buf) }
