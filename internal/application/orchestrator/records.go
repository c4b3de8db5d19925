package orchestrator

import (
	"encoding/binary"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/aescanero/reactor/pkg/events"
)

// generationID hashes the event type, timestamp and sequence. The sequence
// keeps ids distinct for events emitted within the same clock tick.
func generationID(ev events.ChangeEvent) string {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(ev.Timestamp.UnixNano()))
	binary.BigEndian.PutUint64(buf[8:], ev.Sequence)

	h := xxhash.New()
	_, _ = h.WriteString(string(ev.Type))
	_, _ = h.Write(buf[:])
	return string(ev.Type) + "_" + strconv.FormatUint(h.Sum64(), 16)
}
