// Package compress implements the decompression side of BTRFS's three
// file-data compression algorithms, per spec.md §4.9. Compression is a
// per-extent choice recorded in the EXTENT_DATA item; this package only
// needs to undo it, never apply it, since this module is read-only.
package compress

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	lzo "github.com/rasky/go-lzo"

	"github.com/pegasusheavy/btrfsfs/lib/btrfsitem"
)

// Decompress undoes the compression algo applied to src. decodedLen is
// the decompressed length BTRFS records up front: NONE returns exactly
// that many bytes (and fails if src is shorter); zlib and LZO stop at
// decodedLen and return fewer bytes when the stream ends first; zstd
// uses it only as a capacity hint and returns the whole decoded frame.
func Decompress(algo btrfsitem.CompressionType, src []byte, decodedLen int) ([]byte, error) {
	switch algo {
	case btrfsitem.COMPRESS_NONE:
		if len(src) < decodedLen {
			return nil, fmt.Errorf("compress: NONE: have %d bytes, want %d", len(src), decodedLen)
		}
		return append([]byte(nil), src[:decodedLen]...), nil
	case btrfsitem.COMPRESS_ZLIB:
		return decompressZlib(src, decodedLen)
	case btrfsitem.COMPRESS_LZO:
		return decompressLZO(src, decodedLen)
	case btrfsitem.COMPRESS_ZSTD:
		return decompressZstd(src, decodedLen)
	default:
		return nil, fmt.Errorf("compress: unrecognized compression type %v", algo)
	}
}

func decompressZlib(src []byte, decodedLen int) ([]byte, error) {
	// BTRFS's "zlib" is a raw zlib stream (RFC1950 header + RFC1951
	// deflate body); klauspost/compress's zlib reader handles that
	// header, but flate.NewReader skipping it directly avoids an extra
	// Adler32 recompute pass we don't need since we trust the extent's
	// own checksum to have already verified these exact bytes.
	if len(src) < 2 {
		return nil, fmt.Errorf("compress: zlib: input too short")
	}
	fr := flate.NewReader(bytes.NewReader(src[2:]))
	defer fr.Close()
	out := make([]byte, 0, decodedLen)
	buf := bytes.NewBuffer(out)
	if _, err := io.CopyN(buf, fr, int64(decodedLen)); err != nil && err != io.EOF {
		return nil, fmt.Errorf("compress: zlib: %w", err)
	}
	return buf.Bytes(), nil
}

func decompressZstd(src []byte, decodedLen int) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("compress: zstd: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(src, make([]byte, 0, decodedLen))
	if err != nil {
		return nil, fmt.Errorf("compress: zstd: %w", err)
	}
	return out, nil
}

// decompressLZO undoes BTRFS's segmented LZO1X framing: a 4-byte total
// decompressed-length header, followed by a sequence of segments, each
// a 4-byte compressed-length prefix and that many bytes of raw LZO1X
// data. Segments exist because BTRFS compresses in page-sized chunks
// rather than the whole extent at once.
func decompressLZO(src []byte, decodedLen int) ([]byte, error) {
	if len(src) < 4 {
		return nil, fmt.Errorf("compress: lzo: input too short for header")
	}
	out := make([]byte, 0, decodedLen)
	off := 4 // skip the total-length header; decodedLen is authoritative
	for off < len(src) && len(out) < decodedLen {
		if off+4 > len(src) {
			break
		}
		segLen := int(binary.LittleEndian.Uint32(src[off:]))
		off += 4
		if segLen == 0 || off+segLen > len(src) {
			break
		}
		seg := src[off : off+segLen]
		off += segLen

		decoded, err := lzo.Decompress1X(bytes.NewReader(seg), len(seg), decodedLen-len(out))
		if err != nil {
			return nil, fmt.Errorf("compress: lzo: segment at offset %d: %w", off-segLen, err)
		}
		out = append(out, decoded...)
	}
	if len(out) > decodedLen {
		out = out[:decodedLen]
	}
	return out, nil
}
