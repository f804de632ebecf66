// Package chunk implements length-prefixed binary body framing for streamed HTTP and
// WebSocket payloads carried over a tunnel stream: a 4-byte big-endian length header per
// chunk, with a zero-length header marking the end of the body.
package chunk

import (
	"encoding/binary"
	"errors"
	"io"
)

var (
	ErrChunkTooLarge = errors.New("chunk too large")
	ErrBodyTooLarge  = errors.New("body too large")
)

// Read reads one chunk frame. done is true once the zero-length terminator is read.
func Read(r io.Reader, maxChunkBytes int, maxBodyBytes int64, total *int64) (payload []byte, done bool, err error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, false, err
	}
	n := int(binary.BigEndian.Uint32(hdr[:]))
	if n == 0 {
		return nil, true, nil
	}
	if n < 0 || (maxChunkBytes > 0 && n > maxChunkBytes) {
		return nil, false, ErrChunkTooLarge
	}
	if total != nil && maxBodyBytes > 0 && *total+int64(n) > maxBodyBytes {
		return nil, false, ErrBodyTooLarge
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, false, err
	}
	if total != nil {
		*total += int64(n)
	}
	return b, false, nil
}

// Write writes one chunk frame. An empty payload writes the terminator.
func Write(w io.Writer, payload []byte, maxChunkBytes int, maxBodyBytes int64, total *int64) error {
	if len(payload) == 0 {
		return WriteTerminator(w)
	}
	if maxChunkBytes > 0 && len(payload) > maxChunkBytes {
		return ErrChunkTooLarge
	}
	if total != nil && maxBodyBytes > 0 && *total+int64(len(payload)) > maxBodyBytes {
		return ErrBodyTooLarge
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	if total != nil {
		*total += int64(len(payload))
	}
	return nil
}

// WriteTerminator writes the zero-length end-of-body marker.
func WriteTerminator(w io.Writer) error {
	var hdr [4]byte
	_, err := w.Write(hdr[:])
	return err
}

// Drain reads and discards chunks until the terminator, enforcing the same limits as Read.
func Drain(r io.Reader, maxChunkBytes int, maxBodyBytes int64) error {
	var total int64
	for {
		_, done, err := Read(r, maxChunkBytes, maxBodyBytes, &total)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// CopyToWriter copies chunks from r to w until the terminator, enforcing limits.
func CopyToWriter(r io.Reader, w io.Writer, maxChunkBytes int, maxBodyBytes int64) error {
	var total int64
	for {
		b, done, err := Read(r, maxChunkBytes, maxBodyBytes, &total)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if _, err := w.Write(b); err != nil {
			return err
		}
	}
}
