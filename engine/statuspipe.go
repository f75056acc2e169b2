package engine

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// pipeRecord is the fixed wire layout of one status snapshot: little-endian,
// 33 bytes. Field order is part of the interface with status readers.
type pipeRecord struct {
	State      int32
	UISubState int32
	Change     int32

	CurrentLayer uint32
	NumLayers    uint32

	EstimatedSecondsRemaining int32

	ErrorCode int32
	Errno     int32
	IsError   uint8
}

// StatusPipe broadcasts status snapshots over a named pipe. Both ends are
// opened non-blocking within this process so the writer neither waits for a
// reader nor fails when none is attached.
type StatusPipe struct {
	path string
	rfd  int
	wfd  int
}

// OpenStatusPipe creates the pipe if needed and opens both ends. The read
// end is opened first; a write-only non-blocking open of a FIFO with no
// reader would fail outright.
func OpenStatusPipe(path string) (*StatusPipe, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := unix.Mkfifo(path, 0666); err != nil {
			return nil, fmt.Errorf("mkfifo %s: %w", path, err)
		}
	}

	rfd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s for read: %w", path, err)
	}
	wfd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		unix.Close(rfd)
		return nil, fmt.Errorf("open %s for write: %w", path, err)
	}

	return &StatusPipe{path: path, rfd: rfd, wfd: wfd}, nil
}

// Write sends one snapshot. A full pipe (no reader draining) drops the
// snapshot rather than blocking or failing the print phase that caused it.
func (p *StatusPipe) Write(st Status) error {
	rec := pipeRecord{
		State:                     int32(st.State),
		UISubState:                int32(st.UISubState),
		Change:                    int32(st.Change),
		CurrentLayer:              st.CurrentLayer,
		NumLayers:                 st.NumLayers,
		EstimatedSecondsRemaining: st.EstimatedSecondsRemaining,
		ErrorCode:                 int32(st.ErrorCode),
		Errno:                     st.Errno,
		IsError:                   boolByte(st.IsError),
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, rec); err != nil {
		return err
	}

	_, err := unix.Write(p.wfd, buf.Bytes())
	if err == unix.EAGAIN || err == unix.EPIPE {
		return nil
	}
	return err
}

// Close closes both ends and removes the pipe.
func (p *StatusPipe) Close() error {
	unix.Close(p.wfd)
	unix.Close(p.rfd)
	return os.Remove(p.path)
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
