package kryoflux

import (
	"bytes"
	"errors"
	"fmt"
	"os"
)

const (
	fwLoadAddress    = 0x00202000
	fwWriteChunkSize = 16384
	fwReadChunkSize  = 6400
)

// bootloaderCommand formats a SAM-BA style command: one letter, then
// comma separated 8-digit hex arguments, then '#'.
func bootloaderCommand(op byte, args ...uint32) string {
	var b bytes.Buffer
	b.WriteByte(op)
	for i, arg := range args {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%08x", arg)
	}
	b.WriteByte('#')
	return b.String()
}

func (c *Client) sendBootloader(cmd string) error {
	if _, err := c.bulkOut.Write([]byte(cmd)); err != nil {
		return fmt.Errorf("failed to send %s: %w", cmd, err)
	}
	return nil
}

// recvBootloader reads a reply of at most size bytes terminated by LF CR.
func (c *Client) recvBootloader(size int) (string, error) {
	buf := make([]byte, size)
	n := 0
	for n < size {
		got, err := c.bulkIn.Read(buf[n:])
		if err != nil {
			return "", err
		}
		n += got
		if n >= 2 && buf[n-2] == '\n' && buf[n-1] == '\r' {
			break
		}
	}
	return string(buf[:min(n, size-1)]), nil
}

// uploadFirmware writes the firmware to RAM, reads it back for
// comparison and jumps to it.
func (c *Client) uploadFirmware() error {
	if FirmwarePath == "" {
		return errors.New("device is in bootloader mode and no firmware file is configured")
	}
	fw, err := os.ReadFile(FirmwarePath)
	if err != nil {
		return fmt.Errorf("failed to load firmware: %w", err)
	}
	size := uint32(len(fw))

	for _, query := range []string{"N#", "V#"} {
		if err := c.sendBootloader(query); err != nil {
			return err
		}
		if _, err := c.recvBootloader(512); err != nil {
			return fmt.Errorf("failed to query bootloader (%s): %w", query, err)
		}
	}

	if err := c.sendBootloader(bootloaderCommand('S', fwLoadAddress, size)); err != nil {
		return err
	}
	for off := 0; off < len(fw); off += fwWriteChunkSize {
		end := min(off+fwWriteChunkSize, len(fw))
		if _, err := c.bulkOut.Write(fw[off:end]); err != nil {
			return fmt.Errorf("failed to write firmware chunk at offset %d: %w", off, err)
		}
	}

	if err := c.sendBootloader(bootloaderCommand('R', fwLoadAddress, size)); err != nil {
		return err
	}
	buf := make([]byte, fwReadChunkSize)
	for off := 0; off < len(fw); {
		n, err := c.bulkIn.Read(buf[:min(fwReadChunkSize, len(fw)-off)])
		if err != nil {
			return fmt.Errorf("failed to read back firmware at offset %d: %w", off, err)
		}
		if i := firstMismatch(buf[:n], fw[off:]); i >= 0 {
			return fmt.Errorf("firmware verification failed at offset %d", off+i)
		}
		off += n
	}

	return c.sendBootloader(bootloaderCommand('G', fwLoadAddress))
}

// firstMismatch returns the first index where got differs from want, or
// -1 when got is a prefix of want.
func firstMismatch(got, want []byte) int {
	for i, b := range got {
		if i >= len(want) || b != want[i] {
			return i
		}
	}
	return -1
}
