package engine

import (
	"fmt"
	"hash/crc64"
	"io"
)

// crcISO is the CRC64 polynomial used for transfer fingerprints.
var crcISO = crc64.MakeTable(crc64.ISO)

// ChecksumWriter fingerprints the bytes written through it, so a transfer
// is checksummed in the same pass that moves it.
type ChecksumWriter struct {
	dst   io.Writer
	crc   uint64
	count int64
}

func NewChecksumWriter(dst io.Writer) *ChecksumWriter {
	return &ChecksumWriter{dst: dst}
}

// Write forwards p and folds whatever dst accepted into the checksum.
func (c *ChecksumWriter) Write(p []byte) (int, error) {
	n, err := c.dst.Write(p)
	if n > 0 {
		c.crc = crc64.Update(c.crc, crcISO, p[:n])
		c.count += int64(n)
	}
	return n, err
}

// Checksum is the CRC64-ISO of everything written so far.
func (c *ChecksumWriter) Checksum() uint64 { return c.crc }

// BytesWritten counts the bytes folded into Checksum.
func (c *ChecksumWriter) BytesWritten() int64 { return c.count }

// FormatChecksum renders a checksum the way the job ledger stores it.
func FormatChecksum(sum uint64) string {
	return fmt.Sprintf("%016x", sum)
}

// VerifyChecksum reports whether two legs of a transfer saw the same bytes.
func VerifyChecksum(actual, expected uint64) bool {
	return actual == expected
}
