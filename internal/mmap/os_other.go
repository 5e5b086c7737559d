//go:build !unix

package mmap

import (
	"os"

	mmapgo "github.com/edsrzf/mmap-go"
)

func osMap(f *os.File, size int, writable bool) ([]byte, func([]byte) error, error) {
	prot := mmapgo.RDONLY
	if writable {
		prot = mmapgo.RDWR
	}

	m, err := mmapgo.MapRegion(f, size, prot, 0, 0)
	if err != nil {
		return nil, nil, err
	}

	return m, func(b []byte) error { return mmapgo.MMap(b).Unmap() }, nil
}

func osSync(data []byte) error {
	return mmapgo.MMap(data).Flush()
}

func osAdvise([]byte, AccessPattern) error {
	return nil
}
