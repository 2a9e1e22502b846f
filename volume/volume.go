// Package volume is a minimal file system that keeps nothing but a labeled,
// checksummed header in block 0. It's enough to exercise the mount and format
// recovery flow against real flash without pulling in a full log-structured
// file system.
package volume

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/dargueta/norblock"
	"github.com/dargueta/norblock/blockdev"
	"github.com/noxer/bytewriter"
	"github.com/sigurn/crc16"
)

// Magic identifies a volume header.
var Magic = [4]byte{'N', 'O', 'R', 'V'}

// Version is the only header version understood.
const Version = 1

// LabelSize is the maximum length of a volume label, in bytes.
const LabelSize = 16

var crcTable = crc16.MakeTable(crc16.CRC16_XMODEM)

// RawHeader is the on-flash layout of the header, little-endian. Checksum
// covers every byte before it.
type RawHeader struct {
	Magic      [4]byte
	Version    uint16
	BlockSize  uint32
	BlockCount uint32
	Generation uint32
	Label      [LabelSize]byte
	Checksum   uint16
}

// HeaderSize is the number of bytes RawHeader takes on flash.
var HeaderSize = binary.Size(RawHeader{})

// Volume implements [norblock.FileSystem].
type Volume struct {
	config  blockdev.Config
	label   string
	header  RawHeader
	mounted bool
}

var _ norblock.FileSystem = (*Volume)(nil)

// New creates an unmounted volume for a block device configured with
// `config`. `label` is written by Format and truncated to [LabelSize] bytes.
func New(config blockdev.Config, label string) *Volume {
	if len(label) > LabelSize {
		label = label[:LabelSize]
	}
	return &Volume{config: config, label: label}
}

// writeHeader encodes `header` into the start of `output`, checksum included.
func writeHeader(output []byte, header RawHeader) error {
	if len(output) < HeaderSize {
		return io.ErrShortBuffer
	}
	writer := bytewriter.New(output)

	// The checksum is computed over everything but itself, so write the header
	// with a zero checksum first and patch it in.
	header.Checksum = 0
	err := binary.Write(writer, binary.LittleEndian, &header)
	if err != nil {
		return err
	}

	checksum := crc16.Checksum(output[:HeaderSize-2], crcTable)
	binary.LittleEndian.PutUint16(output[HeaderSize-2:], checksum)
	return nil
}

func encodeHeader(header RawHeader) ([]byte, error) {
	output := make([]byte, HeaderSize)
	err := writeHeader(output, header)
	if err != nil {
		return nil, err
	}
	return output, nil
}

func decodeHeader(raw []byte) (RawHeader, error) {
	header := RawHeader{}
	err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &header)
	if err != nil {
		return header, norblock.ErrFileSystemCorrupted.Wrap(err)
	}

	if header.Magic != Magic {
		if bytes.Equal(raw, bytes.Repeat([]byte{0xff}, len(raw))) {
			return header, norblock.ErrFileSystemCorrupted.WithMessage("block 0 is blank")
		}
		return header, norblock.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf("bad magic %q", header.Magic[:]))
	}

	checksum := crc16.Checksum(raw[:HeaderSize-2], crcTable)
	if checksum != header.Checksum {
		return header, norblock.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf("header checksum is %#04x, expected %#04x", header.Checksum, checksum))
	}
	if header.Version != Version {
		return header, norblock.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf("unsupported version %d", header.Version))
	}
	return header, nil
}

func (v *Volume) readHeader(device norblock.BlockDevice) (RawHeader, error) {
	raw := make([]byte, HeaderSize)
	err := device.Read(0, 0, raw)
	if err != nil {
		return RawHeader{}, err
	}
	return decodeHeader(raw)
}

// Mount reads and checks the header in block 0. It fails with
// [norblock.ErrFileSystemCorrupted] if the header is missing, damaged, or
// describes a different block layout than the device is configured with.
func (v *Volume) Mount(device norblock.BlockDevice) error {
	v.mounted = false

	header, err := v.readHeader(device)
	if err != nil {
		return err
	}

	if header.BlockSize != v.config.BlockSize || header.BlockCount != v.config.BlockCount {
		return norblock.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"volume has %d blocks of %d bytes, device is configured for %d of %d",
				header.BlockCount,
				header.BlockSize,
				v.config.BlockCount,
				v.config.BlockSize))
	}

	v.header = header
	v.mounted = true
	return nil
}

// Format erases block 0 and writes a fresh header. If a valid header was
// already there, the new one's generation is one higher.
func (v *Volume) Format(device norblock.BlockDevice) error {
	v.mounted = false
	if uint32(HeaderSize) > v.config.BlockSize {
		return norblock.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("block size %d can't hold a %d-byte header", v.config.BlockSize, HeaderSize))
	}

	generation := uint32(1)
	previous, err := v.readHeader(device)
	if err == nil {
		generation = previous.Generation + 1
	}

	header := RawHeader{
		Magic:      Magic,
		Version:    Version,
		BlockSize:  v.config.BlockSize,
		BlockCount: v.config.BlockCount,
		Generation: generation,
	}
	copy(header.Label[:], v.label)

	err = device.Erase(0)
	if err != nil {
		return err
	}
	encoded, err := encodeHeader(header)
	if err != nil {
		return norblock.ErrInvalidArgument.WithMessage("can't encode volume header").Wrap(err)
	}
	err = device.Program(0, 0, encoded)
	if err != nil {
		return err
	}
	return device.Sync()
}

// Mounted reports whether the last Mount succeeded.
func (v *Volume) Mounted() bool {
	return v.mounted
}

// Label returns the label of the mounted volume.
func (v *Volume) Label() string {
	return strings.TrimRight(string(v.header.Label[:]), "\x00")
}

// Generation returns how many times the mounted volume has been formatted.
func (v *Volume) Generation() uint32 {
	return v.header.Generation
}
