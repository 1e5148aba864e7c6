package memengine

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/kvgo/engine"
	"github.com/hupe1980/kvgo/resource"
)

// CompressionType selects the block compression applied to logged values.
type CompressionType uint8

const (
	// CompressionNone stores values uncompressed.
	CompressionNone CompressionType = 0
	// CompressionLZ4 uses LZ4 block compression (fast, modest ratio).
	CompressionLZ4 CompressionType = 1
	// CompressionZSTD uses zstd block compression (better ratio).
	CompressionZSTD CompressionType = 2
)

const (
	walFileName = "memengine.wal"

	walVersion = uint16(1)

	// walHeaderSize is magic(4) + version(2) + compression(1) + reserved(1).
	walHeaderSize = 8

	// walRecordSize is the fixed part of a record:
	// seq(8) op(1) codec(1) cfLen(2) keyLen(4) rawLen(4) storedLen(4) crc(4).
	walRecordSize = 28

	// Values shorter than this are never worth compressing.
	walCompressMin = 64

	// walMaxLen bounds each variable-length field of a record. Anything
	// larger than the engine would ever write marks the record corrupt.
	walMaxLen = 1 << 28
)

var walMagic = [4]byte{'K', 'V', 'W', '1'}

var (
	errWALCorrupt = errors.New("memengine: wal record corrupt")
)

// wal is a single-file append-only write-ahead log. Appends are serialized by
// the engine's write lock; the internal mutex additionally guards the file
// against Close racing an append.
type wal struct {
	mu          sync.Mutex
	f           *os.File
	path        string
	compression CompressionType
	syncWrites  bool
	enc         *zstd.Encoder
	closed      bool
}

func openWAL(dir string, compression CompressionType, level int, syncWrites bool) (*wal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create wal dir: %w", err)
	}

	path := filepath.Join(dir, walFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}

	w := &wal{
		f:           f,
		path:        path,
		compression: compression,
		syncWrites:  syncWrites,
	}

	if compression == CompressionZSTD {
		encLevel := zstd.SpeedDefault
		if level > 0 {
			encLevel = zstd.EncoderLevelFromZstd(level)
		}
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
		if err != nil {
			f.Close()
			return nil, err
		}
		w.enc = enc
	}

	info, err := f.Stat()
	if err != nil {
		w.Close()
		return nil, err
	}

	if info.Size() == 0 {
		var hdr [walHeaderSize]byte
		copy(hdr[0:4], walMagic[:])
		binary.LittleEndian.PutUint16(hdr[4:6], walVersion)
		hdr[6] = byte(compression)
		if _, err := f.Write(hdr[:]); err != nil {
			w.Close()
			return nil, fmt.Errorf("write wal header: %w", err)
		}
		return w, nil
	}

	var hdr [walHeaderSize]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		w.Close()
		return nil, fmt.Errorf("read wal header: %w", err)
	}
	if [4]byte(hdr[0:4]) != walMagic {
		w.Close()
		return nil, errors.New("memengine: not a wal file")
	}
	if v := binary.LittleEndian.Uint16(hdr[4:6]); v != walVersion {
		w.Close()
		return nil, fmt.Errorf("memengine: unsupported wal version %d", v)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

// append writes one record. The value may be stored block-compressed; the
// codec actually used is recorded per record so mixed files stay readable.
func (w *wal) append(seq uint64, op engine.OpType, cf string, key, value []byte) error {
	stored, codec, err := w.compressValue(value)
	if err != nil {
		return err
	}

	rec := make([]byte, walRecordSize+len(cf)+len(key)+len(stored))
	binary.LittleEndian.PutUint64(rec[0:8], seq)
	rec[8] = byte(op)
	rec[9] = byte(codec)
	binary.LittleEndian.PutUint16(rec[10:12], uint16(len(cf)))
	binary.LittleEndian.PutUint32(rec[12:16], uint32(len(key)))
	binary.LittleEndian.PutUint32(rec[16:20], uint32(len(value)))
	binary.LittleEndian.PutUint32(rec[20:24], uint32(len(stored)))

	p := rec[walRecordSize:]
	copy(p, cf)
	copy(p[len(cf):], key)
	copy(p[len(cf)+len(key):], stored)
	binary.LittleEndian.PutUint32(rec[24:28], crc32.ChecksumIEEE(p))

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return engine.ErrClosed
	}
	if _, err := w.f.Write(rec); err != nil {
		return fmt.Errorf("append wal record: %w", err)
	}
	if w.syncWrites {
		return w.f.Sync()
	}
	return nil
}

func (w *wal) compressValue(value []byte) ([]byte, CompressionType, error) {
	if w.compression == CompressionNone || len(value) < walCompressMin {
		return value, CompressionNone, nil
	}

	switch w.compression {
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(value)))
		n, err := lz4.CompressBlock(value, dst, nil)
		if err != nil {
			return nil, 0, err
		}
		if n == 0 || n >= len(value) {
			return value, CompressionNone, nil // incompressible
		}
		return dst[:n], CompressionLZ4, nil

	case CompressionZSTD:
		compressed := w.enc.EncodeAll(value, nil)
		if len(compressed) >= len(value) {
			return value, CompressionNone, nil
		}
		return compressed, CompressionZSTD, nil

	default:
		return value, CompressionNone, nil
	}
}

func decompressValue(stored []byte, codec CompressionType, rawLen uint32, dec *zstd.Decoder) ([]byte, error) {
	switch codec {
	case CompressionNone:
		return stored, nil

	case CompressionLZ4:
		out := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(stored, out)
		if err != nil {
			return nil, err
		}
		if uint32(n) != rawLen {
			return nil, errWALCorrupt
		}
		return out, nil

	case CompressionZSTD:
		out, err := dec.DecodeAll(stored, nil)
		if err != nil {
			return nil, err
		}
		if uint32(len(out)) != rawLen {
			return nil, errWALCorrupt
		}
		return out, nil

	default:
		return nil, fmt.Errorf("memengine: unknown wal codec %d", codec)
	}
}

func (w *wal) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.enc != nil {
		w.enc.Close()
	}
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// newIterator opens an independent read handle over the log. ctrl may be nil.
func (w *wal) newIterator(since uint64, ctrl *resource.Controller) (*walIterator, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return nil, err
	}

	var hdr [walHeaderSize]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("read wal header: %w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &walIterator{
		f:     f,
		r:     bufio.NewReader(f),
		dec:   dec,
		since: since,
		ctrl:  ctrl,
	}, nil
}

// walIterator streams log records in file order, which is sequence order
// because appends happen under the engine's write lock. A torn final record
// (crash mid-append) terminates the stream cleanly; corruption elsewhere is
// reported through Err.
type walIterator struct {
	f      *os.File
	r      *bufio.Reader
	dec    *zstd.Decoder
	since  uint64
	ctrl   *resource.Controller
	err    error
	closed bool
}

var _ engine.LogIterator = (*walIterator)(nil)

func (it *walIterator) Next() (engine.LogEntry, bool) {
	if it.closed || it.err != nil {
		return engine.LogEntry{}, false
	}

	for {
		var fixed [walRecordSize]byte
		if _, err := io.ReadFull(it.r, fixed[:]); err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF {
				it.err = err
			}
			return engine.LogEntry{}, false
		}

		seq := binary.LittleEndian.Uint64(fixed[0:8])
		op := engine.OpType(fixed[8])
		codec := CompressionType(fixed[9])
		cfLen := int(binary.LittleEndian.Uint16(fixed[10:12]))
		keyLen := int(binary.LittleEndian.Uint32(fixed[12:16]))
		rawLen := binary.LittleEndian.Uint32(fixed[16:20])
		storedLen := int(binary.LittleEndian.Uint32(fixed[20:24]))
		crc := binary.LittleEndian.Uint32(fixed[24:28])

		// Length fields are untrusted until the CRC verifies; bound them
		// before allocating so a corrupt header cannot demand gigabytes.
		if keyLen > walMaxLen || storedLen > walMaxLen || rawLen > walMaxLen {
			it.err = errWALCorrupt
			return engine.LogEntry{}, false
		}

		payload := make([]byte, cfLen+keyLen+storedLen)
		if err := it.ctrl.WaitLogRead(context.Background(), walRecordSize+len(payload)); err != nil {
			it.err = err
			return engine.LogEntry{}, false
		}
		if _, err := io.ReadFull(it.r, payload); err != nil {
			// A torn tail record is treated as the end of the log.
			if err != io.EOF && err != io.ErrUnexpectedEOF {
				it.err = err
			}
			return engine.LogEntry{}, false
		}

		if crc32.ChecksumIEEE(payload) != crc {
			it.err = errWALCorrupt
			return engine.LogEntry{}, false
		}

		if seq < it.since {
			continue
		}

		value, err := decompressValue(payload[cfLen+keyLen:], codec, rawLen, it.dec)
		if err != nil {
			it.err = err
			return engine.LogEntry{}, false
		}

		key := make([]byte, keyLen)
		copy(key, payload[cfLen:cfLen+keyLen])

		return engine.LogEntry{
			Seq:          seq,
			Op:           op,
			ColumnFamily: string(payload[:cfLen]),
			Key:          key,
			Value:        value,
		}, true
	}
}

func (it *walIterator) Err() error { return it.err }

func (it *walIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	it.dec.Close()
	return it.f.Close()
}
