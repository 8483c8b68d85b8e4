package artifact

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// DefaultChunkSize matches the largest single message the upload clients send.
const DefaultChunkSize = 2 << 20

// Appender is the part of a store LoadFile needs.
type Appender interface {
	Append(key string, b []byte) error
}

// LoadFile appends the content of path to key in chunks of chunkSize bytes
// and returns the number of bytes appended. The file is mapped read-only
// when possible and read with ReadAt otherwise.
func LoadFile(dst Appender, key, path string, chunkSize int) (int, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := st.Size()
	if size == 0 {
		return 0, nil
	}
	if size > int64(int(^uint(0)>>1)) {
		return 0, fmt.Errorf("load %s: file too large", path)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		defer func() { _ = unix.Munmap(data) }()
		return appendChunks(dst, key, data, chunkSize)
	}

	var n int
	buf := make([]byte, chunkSize)
	for off := int64(0); off < size; {
		m, rerr := f.ReadAt(buf, off)
		if m > 0 {
			if err := dst.Append(key, buf[:m]); err != nil {
				return n, err
			}
			n += m
			off += int64(m)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return n, fmt.Errorf("load %s: %w", path, rerr)
		}
	}
	return n, nil
}

func appendChunks(dst Appender, key string, data []byte, chunkSize int) (int, error) {
	var n int
	for len(data) > 0 {
		m := min(chunkSize, len(data))
		if err := dst.Append(key, data[:m]); err != nil {
			return n, err
		}
		n += m
		data = data[m:]
	}
	return n, nil
}
