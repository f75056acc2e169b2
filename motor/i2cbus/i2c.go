// Package i2cbus drives the motor controller over a Linux I2C character
// device. Completion interrupts arrive on a separate GPIO line; after one
// fires, ReadStatus fetches the status byte.
package i2cbus

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// i2cSlave is the ioctl selecting the peripheral address for subsequent
// reads and writes on the device fd.
const i2cSlave = 0x0703

// Device is an addressed I2C peripheral.
type Device struct {
	fd   int
	addr byte
}

// Open opens the I2C device node and addresses the peripheral.
func Open(dev string, addr byte) (*Device, error) {
	fd, err := unix.Open(dev, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dev, err)
	}
	if err := unix.IoctlSetInt(fd, i2cSlave, int(addr)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("select peripheral 0x%02x: %w", addr, err)
	}
	return &Device{fd: fd, addr: addr}, nil
}

// WriteRegister writes the register address followed by the payload in a
// single bus transaction.
func (d *Device) WriteRegister(reg byte, data []byte) error {
	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, reg)
	buf = append(buf, data...)
	if _, err := unix.Write(d.fd, buf); err != nil {
		return fmt.Errorf("i2c write reg 0x%02x: %w", reg, err)
	}
	return nil
}

// WriteByte writes a single raw byte, used for realtime commands.
func (d *Device) WriteByte(b byte) error {
	if _, err := unix.Write(d.fd, []byte{b}); err != nil {
		return fmt.Errorf("i2c write byte 0x%02x: %w", b, err)
	}
	return nil
}

// ReadStatus reads one status byte from the controller.
func (d *Device) ReadStatus() (byte, error) {
	buf := make([]byte, 1)
	if _, err := unix.Read(d.fd, buf); err != nil {
		return 0, fmt.Errorf("i2c read status: %w", err)
	}
	return buf[0], nil
}

// Close releases the device fd.
func (d *Device) Close() error {
	return unix.Close(d.fd)
}
