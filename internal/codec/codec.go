// Package codec implements the Compact Protocol v4 framed-zstd envelope
// from spec §4.1: a transparent compression layer for small coordination
// payloads, backward compatible with a legacy 8-byte header.
package codec

import (
	"bytes"
	"encoding/binary"

	"github.com/klauspost/compress/zstd"
)

// Header magics, checked in the order dictionary -> standard -> legacy, since
// ZSTDD is a prefix superset of ZSTD.
var (
	magicDict     = []byte("ZSTDD")
	magicStandard = []byte("ZSTD\x00")
	magicLegacy   = []byte("ZSTD")
)

const (
	minCompressible  = 32
	dictSizeCeiling  = 2048
	headerSizeDict   = 9
	headerSizeStd    = 9
	headerSizeLegacy = 8
)

// Codec encodes and decodes Compact Protocol v4 frames. The zero value is a
// usable codec with no trained dictionary; use NewWithDictionary to attach
// one.
type Codec struct {
	level zstd.EncoderLevel

	dict     []byte
	dictEnc  *zstd.Encoder
	dictDec  *zstd.Decoder
	plainEnc *zstd.Encoder
	plainDec *zstd.Decoder
}

// New builds a Codec with no dictionary; only the standard and legacy
// headers are ever produced.
func New() (*Codec, error) {
	return NewWithDictionary(nil)
}

// NewWithDictionary builds a Codec that additionally frames payloads
// <= 2048 bytes against a trained zstd dictionary, emitting the ZSTDD
// header. Pass a nil/empty dictionary to disable dictionary framing
// entirely — the on-wire ZSTDD header is only ever meaningful when a real
// dictionary is bundled (see SPEC_FULL.md §4.1/§9).
func NewWithDictionary(dict []byte) (*Codec, error) {
	c := &Codec{level: zstd.SpeedDefault, dict: dict}

	plainEnc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(c.level))
	if err != nil {
		return nil, err
	}
	plainDec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	c.plainEnc, c.plainDec = plainEnc, plainDec

	if len(dict) > 0 {
		dictEnc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(c.level), zstd.WithEncoderDict(dict))
		if err != nil {
			return nil, err
		}
		dictDec, err := zstd.NewReader(nil, zstd.WithDecoderDicts(dict))
		if err != nil {
			return nil, err
		}
		c.dictEnc, c.dictDec = dictEnc, dictDec
	}
	return c, nil
}

// HasDictionary reports whether this codec was built with a trained
// dictionary.
func (c *Codec) HasDictionary() bool { return len(c.dict) > 0 }

// Encode implements the encode(plain) -> bytes contract from spec §4.1.
func (c *Codec) Encode(plain []byte) []byte {
	if len(plain) < minCompressible {
		return plain
	}

	useDict := c.dictEnc != nil && len(plain) <= dictSizeCeiling
	var compressed []byte
	if useDict {
		compressed = c.dictEnc.EncodeAll(plain, nil)
	} else {
		compressed = c.plainEnc.EncodeAll(plain, nil)
	}

	header := make([]byte, 0, headerSizeDict)
	if useDict {
		header = append(header, magicDict...)
	} else {
		header = append(header, magicStandard...)
	}
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(plain)))
	header = append(header, size[:]...)

	framed := make([]byte, 0, len(header)+len(compressed))
	framed = append(framed, header...)
	framed = append(framed, compressed...)

	if len(framed) >= len(plain) {
		// zstd did not shrink the payload; keep it unchanged.
		return plain
	}
	return framed
}

// Decode implements the decode(bytes) -> bytes contract from spec §4.1.
// Unrecognised input and decompression failures both return the input
// unchanged — Decode never errors.
func (c *Codec) Decode(data []byte) []byte {
	if orig, ok := c.tryDict(data); ok {
		return orig
	}
	if orig, ok := c.tryStandard(data); ok {
		return orig
	}
	if orig, ok := c.tryLegacy(data); ok {
		return orig
	}
	return data
}

func (c *Codec) tryDict(data []byte) ([]byte, bool) {
	if c.dictDec == nil || len(data) < headerSizeDict || !bytes.HasPrefix(data, magicDict) {
		return nil, false
	}
	origSize := binary.BigEndian.Uint32(data[5:9])
	out, err := c.dictDec.DecodeAll(data[headerSizeDict:], make([]byte, 0, origSize))
	if err != nil {
		return nil, false
	}
	return out, true
}

func (c *Codec) tryStandard(data []byte) ([]byte, bool) {
	if len(data) < headerSizeStd || !bytes.HasPrefix(data, magicStandard) {
		return nil, false
	}
	origSize := binary.BigEndian.Uint32(data[5:9])
	out, err := c.plainDec.DecodeAll(data[headerSizeStd:], make([]byte, 0, origSize))
	if err != nil {
		return nil, false
	}
	return out, true
}

func (c *Codec) tryLegacy(data []byte) ([]byte, bool) {
	if len(data) < headerSizeLegacy || !bytes.HasPrefix(data, magicLegacy) {
		return nil, false
	}
	origSize := binary.BigEndian.Uint32(data[4:8])
	out, err := c.plainDec.DecodeAll(data[headerSizeLegacy:], make([]byte, 0, origSize))
	if err != nil {
		return nil, false
	}
	return out, true
}
