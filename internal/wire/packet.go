// Package wire implements MariaDB client-server packet framing: the
// length-prefixed packet header with its rolling sequence counter, and the
// length-encoded integer/string primitives layered on top of it.
//
// Reference: https://mariadb.com/kb/en/0-packet/
package wire

import (
	"bufio"
	"io"
	"net"
	"strconv"
)

// MaxPayload is the largest payload a single packet fragment may carry
// before the framing layer must split it across multiple packets.
const MaxPayload = 1<<24 - 1

// Conn wraps a net.Conn with buffered packet framing and the per-command
// sequence counter described in spec.md section 3 (Packet). It is not
// safe for concurrent use — the single-command-per-connection invariant
// (I1) is enforced by the caller, not by this type.
type Conn struct {
	nc  net.Conn
	br  *bufio.Reader
	bw  *bufio.Writer
	seq byte
}

// NewConn wraps nc for packet-level reads and writes.
func NewConn(nc net.Conn) *Conn {
	return &Conn{
		nc: nc,
		br: bufio.NewReaderSize(nc, 16*1024),
		bw: bufio.NewWriterSize(nc, 16*1024),
	}
}

// Raw returns the underlying net.Conn, e.g. to set deadlines.
func (c *Conn) Raw() net.Conn { return c.nc }

// ResetSequence resets the sequence counter to 0. Call this at the start
// of every new command, per spec.md section 3 (Packet): "Sequence numbers
// reset to 0 at the start of every command."
func (c *Conn) ResetSequence() { c.seq = 0 }

// Sequence returns the next sequence number that will be used.
func (c *Conn) Sequence() byte { return c.seq }

// ReadPacket reads the next complete payload, transparently reassembling
// payloads that were split across multiple packets (any fragment whose
// length equals MaxPayload is followed by another fragment; the final
// fragment has length strictly less than MaxPayload).
func (c *Conn) ReadPacket() ([]byte, error) {
	var payload []byte
	for {
		var hdr [4]byte
		if _, err := io.ReadFull(c.br, hdr[:]); err != nil {
			return nil, err
		}
		length := int(hdr[0]) | int(hdr[1])<<8 | int(hdr[2])<<16
		seq := hdr[3]
		if seq != c.seq {
			return nil, &SequenceError{Want: c.seq, Got: seq}
		}
		c.seq++

		frag := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(c.br, frag); err != nil {
				return nil, err
			}
		}
		payload = append(payload, frag...)
		if length < MaxPayload {
			return payload, nil
		}
		// length == MaxPayload: more fragments follow, possibly a final
		// fragment of length exactly 0 to terminate.
	}
}

// WritePacket writes payload, splitting it into MaxPayload-sized fragments
// and incrementing the sequence counter once per fragment. A payload whose
// length is an exact multiple of MaxPayload (including zero) always ends
// with one fragment shorter than MaxPayload, per the framing rule.
func (c *Conn) WritePacket(payload []byte) error {
	for {
		n := len(payload)
		if n > MaxPayload {
			n = MaxPayload
		}
		var hdr [4]byte
		hdr[0] = byte(n)
		hdr[1] = byte(n >> 8)
		hdr[2] = byte(n >> 16)
		hdr[3] = c.seq
		if _, err := c.bw.Write(hdr[:]); err != nil {
			return err
		}
		if n > 0 {
			if _, err := c.bw.Write(payload[:n]); err != nil {
				return err
			}
		}
		c.seq++
		payload = payload[n:]
		if n < MaxPayload {
			break
		}
	}
	return c.bw.Flush()
}

// SequenceError reports a packet sequence number that does not match the
// expected next value, i.e. protocol desynchronisation.
type SequenceError struct {
	Want, Got byte
}

func (e *SequenceError) Error() string {
	return "wire: packet out of sequence, want " + strconv.Itoa(int(e.Want)) + " got " + strconv.Itoa(int(e.Got))
}
