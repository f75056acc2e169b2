package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

const gpioRoot = "/sys/class/gpio"

// watchGPIO exports pin, configures it for edge interrupts and invokes fn
// with the pin level ('0' or '1') on every matching edge. With edge "both"
// the level is also reported once at startup, so level-sensitive consumers
// see the initial state. It only returns on error.
func watchGPIO(pin int, edge string, fn func(level byte)) error {
	dir := filepath.Join(gpioRoot, fmt.Sprintf("gpio%d", pin))
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := writeSysfs(filepath.Join(gpioRoot, "export"), strconv.Itoa(pin)); err != nil {
			return fmt.Errorf("export gpio %d: %w", pin, err)
		}
	}
	if err := writeSysfs(filepath.Join(dir, "direction"), "in"); err != nil {
		return fmt.Errorf("gpio %d direction: %w", pin, err)
	}
	if err := writeSysfs(filepath.Join(dir, "edge"), edge); err != nil {
		return fmt.Errorf("gpio %d edge: %w", pin, err)
	}

	fd, err := unix.Open(filepath.Join(dir, "value"), unix.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("gpio %d value: %w", pin, err)
	}
	defer unix.Close(fd)

	buf := make([]byte, 1)
	read := func() error {
		if _, err := unix.Pread(fd, buf, 0); err != nil {
			return fmt.Errorf("gpio %d read: %w", pin, err)
		}
		fn(buf[0])
		return nil
	}

	if edge == "both" {
		if err := read(); err != nil {
			return err
		}
	} else {
		// consume the current level so the first poll waits for an edge
		if _, err := unix.Pread(fd, buf, 0); err != nil {
			return fmt.Errorf("gpio %d read: %w", pin, err)
		}
	}

	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLPRI | unix.POLLERR}}
	for {
		fds[0].Revents = 0
		if _, err := unix.Poll(fds, -1); err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("gpio %d poll: %w", pin, err)
		}
		if err := read(); err != nil {
			return err
		}
	}
}

func writeSysfs(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(value)
	return err
}
