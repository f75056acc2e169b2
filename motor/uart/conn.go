// Package uart frames motor controller register transactions over a serial
// port (or any ReadWriter). The controller reports motion completion and
// setting acknowledgments as single status bytes on the read side.
package uart

import (
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// Frame layout: start byte, register, payload length, payload, additive
// checksum over register+length+payload.
const (
	frameStart byte = 0x7E

	// maxPayload bounds a register write; setting strings are short and
	// action payloads are 5 bytes at most.
	maxPayload = 32
)

// Conn is a framed connection to the motor controller.
type Conn struct {
	rw io.ReadWriter

	mx         sync.Mutex
	interrupts chan byte
	closeCh    chan struct{}
	closeOnce  sync.Once
}

// NewConn creates a Conn using the provided ReadWriter and starts draining
// controller status bytes.
func NewConn(rw io.ReadWriter) *Conn {
	c := &Conn{
		rw:         rw,
		interrupts: make(chan byte),
		closeCh:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Interrupts yields controller status bytes: one per completion interrupt,
// setting acknowledgment or fault. The channel is closed when the port can
// no longer be read, so consumers ranging over it terminate instead of
// waiting on a dead port.
func (c *Conn) Interrupts() <-chan byte {
	return c.interrupts
}

// WriteRegister frames and writes one register transaction.
func (c *Conn) WriteRegister(reg byte, data []byte) error {
	if len(data) > maxPayload {
		return fmt.Errorf("payload too large: %d > %d", len(data), maxPayload)
	}
	frame := make([]byte, 0, len(data)+4)
	frame = append(frame, frameStart, reg, byte(len(data)))
	frame = append(frame, data...)

	var sum byte
	for _, b := range frame[1:] {
		sum += b
	}
	frame = append(frame, sum)

	c.mx.Lock()
	_, err := c.rw.Write(frame)
	c.mx.Unlock()
	return err
}

// WriteByte writes a realtime byte directly, without framing.
//
// Use for the unconditional stop.
func (c *Conn) WriteByte(b byte) error {
	c.mx.Lock()
	_, err := c.rw.Write([]byte{b})
	c.mx.Unlock()
	return err
}

// Close stops the read loop and closes the underlying ReadWriter, if it
// implements io.Closer.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closeCh) })
	if closer, ok := c.rw.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (c *Conn) readLoop() {
	defer close(c.interrupts)

	buf := make([]byte, 1)
	for {
		select {
		case <-c.closeCh:
			return
		default:
		}

		n, err := c.rw.Read(buf)
		if err != nil {
			select {
			case <-c.closeCh:
			default:
				if err != io.EOF {
					logrus.Errorln("uart: read from port:", err)
				}
			}
			return
		}
		if n == 0 {
			continue
		}

		select {
		case c.interrupts <- buf[0]:
		case <-c.closeCh:
			return
		}
	}
}
