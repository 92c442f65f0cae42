package agent

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
)

const (
	RecordMagic      uint16 = 0x5041 // "PA"
	RecordHeaderSize        = 2 + 8 + 8 // Magic + CreateTime + DataSize
	RecordFooterSize        = 4         // CRC32

	maxRecordData = 1 << 32
)

// Record is how a part sits at rest on a node, whatever the store backend.
type Record struct {
	CreateTime int64
	Data       []byte
}

func (r *Record) Write(w io.Writer) error {
	// Header
	if err := binary.Write(w, binary.BigEndian, RecordMagic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, r.CreateTime); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint64(len(r.Data))); err != nil {
		return err
	}

	// Data
	if _, err := w.Write(r.Data); err != nil {
		return err
	}

	// CRC32
	return binary.Write(w, binary.BigEndian, crc32.ChecksumIEEE(r.Data))
}

func (r *Record) Encode() []byte {
	var buf bytes.Buffer
	buf.Grow(int(r.Size()))
	r.Write(&buf)
	return buf.Bytes()
}

func ReadRecordFrom(rd io.Reader) (*Record, error) {
	var magic uint16
	if err := binary.Read(rd, binary.BigEndian, &magic); err != nil {
		return nil, err
	}
	if magic != RecordMagic {
		return nil, ErrInvalidRecord
	}

	r := &Record{}
	if err := binary.Read(rd, binary.BigEndian, &r.CreateTime); err != nil {
		return nil, err
	}
	var size uint64
	if err := binary.Read(rd, binary.BigEndian, &size); err != nil {
		return nil, err
	}

	if size > maxRecordData {
		return nil, ErrInvalidRecord
	}

	r.Data = make([]byte, size)
	if _, err := io.ReadFull(rd, r.Data); err != nil {
		return nil, err
	}

	var crc uint32
	if err := binary.Read(rd, binary.BigEndian, &crc); err != nil {
		return nil, err
	}
	if crc32.ChecksumIEEE(r.Data) != crc {
		return nil, ErrCRCMismatch
	}

	return r, nil
}

func DecodeRecord(b []byte) (*Record, error) {
	return ReadRecordFrom(bytes.NewReader(b))
}

func (r *Record) Size() int64 {
	return int64(RecordHeaderSize + len(r.Data) + RecordFooterSize)
}
