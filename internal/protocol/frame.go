// Package protocol frames packets on the TM/TC link and computes their
// checksums.
package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/sigurn/crc16"
)

// Frame layout constants.
const (
	LengthFieldSize = 2      // Big-endian payload length
	CRCSize         = 2      // Big-endian CRC-16 trailer
	MaxPayloadSize  = 0xFFFF // Largest length the length field can carry
)

var (
	// ErrChecksum is returned when a frame trailer does not match its
	// contents.
	ErrChecksum = errors.New("checksum mismatch")
	// ErrFrameTooLarge is returned for payloads the length field cannot
	// describe.
	ErrFrameTooLarge = errors.New("frame too large")
)

// Checksum computes CRC-16/CCITT-FALSE, the checksum of CCSDS telecommand
// frames.
type Checksum struct {
	table *crc16.Table
}

// NewChecksum creates a checksum calculator.
func NewChecksum() *Checksum {
	table := crc16.MakeTable(crc16.Params{
		Poly:   0x1021,
		Init:   0xFFFF,
		RefIn:  false,
		RefOut: false,
		XorOut: 0,
		Check:  0x29B1,
		Name:   "CRC-16/CCITT-FALSE",
	})
	return &Checksum{table: table}
}

// Compute returns the checksum of data.
func (c *Checksum) Compute(data []byte) uint16 {
	return crc16.Checksum(data, c.table)
}

// Append returns data followed by its big-endian checksum.
func (c *Checksum) Append(data []byte) []byte {
	out := make([]byte, len(data), len(data)+CRCSize)
	copy(out, data)
	return binary.BigEndian.AppendUint16(out, c.Compute(data))
}

// Verify checks the trailing checksum of data and returns data without it.
func (c *Checksum) Verify(data []byte) ([]byte, error) {
	if len(data) < CRCSize {
		return nil, fmt.Errorf("%w: %d bytes cannot hold a checksum", ErrChecksum, len(data))
	}
	body := data[:len(data)-CRCSize]
	want := binary.BigEndian.Uint16(data[len(data)-CRCSize:])
	if got := c.Compute(body); got != want {
		return nil, fmt.Errorf("%w: computed 0x%04X, received 0x%04X", ErrChecksum, got, want)
	}
	return body, nil
}

// EncodeFrame prefixes payload with its length. When crc is not nil the
// checksum of the payload is appended and counted in the length.
func EncodeFrame(payload []byte, crc *Checksum) ([]byte, error) {
	body := payload
	if crc != nil {
		body = crc.Append(payload)
	}
	if len(body) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}
	frame := make([]byte, LengthFieldSize, LengthFieldSize+len(body))
	binary.BigEndian.PutUint16(frame, uint16(len(body)))
	return append(frame, body...), nil
}

// FrameReader reads length prefixed frames from a stream.
type FrameReader struct {
	r   *bufio.Reader
	crc *Checksum
}

// NewFrameReader creates a reader. When crc is not nil every frame must end
// with a valid checksum, which is stripped.
func NewFrameReader(r io.Reader, crc *Checksum) *FrameReader {
	return &FrameReader{r: bufio.NewReader(r), crc: crc}
}

// ReadFrame returns the next payload. A zero length frame is a keep-alive
// and carries no checksum. A checksum mismatch consumes the frame and
// returns ErrChecksum, so the caller may go on reading.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	var header [LengthFieldSize]byte
	if _, err := io.ReadFull(fr.r, header[:]); err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint16(header[:]))
	body := make([]byte, n)
	if _, err := io.ReadFull(fr.r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("failed to read %d byte frame: %w", n, err)
	}
	if fr.crc == nil || n == 0 {
		return body, nil
	}
	return fr.crc.Verify(body)
}
