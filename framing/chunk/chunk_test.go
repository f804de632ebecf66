package chunk

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	var sent int64
	payloads := [][]byte{[]byte("hello"), []byte("world"), {}}
	for _, p := range payloads {
		if err := Write(&buf, p, 0, 0, &sent); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := WriteTerminator(&buf); err != nil {
		t.Fatalf("terminator: %v", err)
	}

	var read int64
	for _, want := range payloads[:2] {
		got, done, err := Read(&buf, 0, 0, &read)
		if err != nil || done {
			t.Fatalf("read: got=%v done=%v err=%v", got, done, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
	if _, done, err := Read(&buf, 0, 0, &read); err != nil || !done {
		t.Fatalf("expected terminator, got done=%v err=%v", done, err)
	}
}

func TestRead_ChunkTooLarge(t *testing.T) {
	var buf bytes.Buffer
	var sent int64
	if err := Write(&buf, make([]byte, 100), 0, 0, &sent); err != nil {
		t.Fatalf("write: %v", err)
	}
	var read int64
	if _, _, err := Read(&buf, 10, 0, &read); !errors.Is(err, ErrChunkTooLarge) {
		t.Fatalf("expected ErrChunkTooLarge, got %v", err)
	}
}

func TestWrite_BodyTooLarge(t *testing.T) {
	var buf bytes.Buffer
	total := int64(90)
	if err := Write(&buf, make([]byte, 20), 0, 100, &total); !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}
}

func TestDrain(t *testing.T) {
	var buf bytes.Buffer
	var sent int64
	_ = Write(&buf, []byte("x"), 0, 0, &sent)
	_ = Write(&buf, []byte("y"), 0, 0, &sent)
	_ = WriteTerminator(&buf)
	if err := Drain(&buf, 0, 0); err != nil {
		t.Fatalf("drain: %v", err)
	}
}

func TestCopyToWriter(t *testing.T) {
	var src bytes.Buffer
	var sent int64
	_ = Write(&src, []byte("abc"), 0, 0, &sent)
	_ = Write(&src, []byte("def"), 0, 0, &sent)
	_ = WriteTerminator(&src)

	var dst bytes.Buffer
	if err := CopyToWriter(&src, &dst, 0, 0); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if dst.String() != "abcdef" {
		t.Fatalf("expected abcdef, got %q", dst.String())
	}
}

func TestRead_ShortHeaderReturnsEOF(t *testing.T) {
	r := bytes.NewReader(nil)
	if _, _, err := Read(r, 0, 0, nil); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}
