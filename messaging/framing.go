package messaging

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/opd-ai/overlay/limits"
)

// writeFrame writes data with a 4-byte big-endian length prefix.
func writeFrame(w io.Writer, data []byte, maxSize int) error {
	if err := limits.ValidateFrameSize(len(data), maxSize); err != nil {
		return err
	}

	buf := make([]byte, limits.FrameHeaderSize+len(data))
	binary.BigEndian.PutUint32(buf[:limits.FrameHeaderSize], uint32(len(data)))
	copy(buf[limits.FrameHeaderSize:], data)

	_, err := w.Write(buf)
	return err
}

// readFrame reads one length-prefixed frame. A stream that ends before any
// header byte yields io.EOF; a stream that ends mid-frame yields
// io.ErrUnexpectedEOF.
func readFrame(r io.Reader, maxSize int) ([]byte, error) {
	header := make([]byte, limits.FrameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header)
	if err := limits.ValidateFrameSize(int(length), maxSize); err != nil {
		return nil, fmt.Errorf("invalid frame header: %w", err)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return data, nil
}
