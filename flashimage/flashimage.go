// Package flashimage saves and restores raw flash contents.
//
// Images are RLE8-encoded and then gzipped. Erased flash is one long run of
// 0xFF, so a mostly blank 128 MiB chip shrinks to a few kilobytes.
//
// In RLE8, two identical bytes in a row are always followed by a count byte
// giving how many more times the byte repeats, 0-255. Everything else is
// copied through as-is.
package flashimage

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dargueta/norblock"
)

// maxRepeat is the most a single RLE8 group can encode: the two literal bytes
// plus 255 repeats.
const maxRepeat = 257

// encodeRLE8 writes `data` RLE8-encoded to `output`.
func encodeRLE8(data []byte, output io.ByteWriter) error {
	for i := 0; i < len(data); {
		current := data[i]
		runLength := 1
		for i+runLength < len(data) && data[i+runLength] == current && runLength < maxRepeat {
			runLength++
		}
		i += runLength

		if runLength == 1 {
			if err := output.WriteByte(current); err != nil {
				return err
			}
			continue
		}

		for _, b := range []byte{current, current, byte(runLength - 2)} {
			if err := output.WriteByte(b); err != nil {
				return err
			}
		}
	}
	return nil
}

// decodeRLE8 reverses [encodeRLE8].
func decodeRLE8(input io.ByteReader, output *bytes.Buffer) error {
	lastByteRead := -1
	for {
		current, err := input.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if int(current) != lastByteRead {
			output.WriteByte(current)
			lastByteRead = int(current)
			continue
		}

		repeatCount, err := input.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = fmt.Errorf(
					"%w: missing repeat count after two %#02x bytes",
					io.ErrUnexpectedEOF,
					current)
			}
			return err
		}

		// The first of the pair was already written on the previous iteration.
		output.Write(bytes.Repeat([]byte{current}, int(repeatCount)+1))

		// Start a fresh group, or runs longer than 257 bytes would decode with
		// extra bytes.
		lastByteRead = -1
	}
}

// Save compresses `image` and writes it to `output`.
func Save(output io.Writer, image []byte) error {
	gzWriter, err := gzip.NewWriterLevel(output, gzip.BestCompression)
	if err != nil {
		return err
	}

	buffered := bufio.NewWriter(gzWriter)
	err = encodeRLE8(image, buffered)
	if err != nil {
		return err
	}
	err = buffered.Flush()
	if err != nil {
		return err
	}
	return gzWriter.Close()
}

// Load decompresses an image written by [Save]. If `expectedSize` isn't 0,
// the image must be exactly that many bytes.
func Load(input io.Reader, expectedSize int) ([]byte, error) {
	gzReader, err := gzip.NewReader(input)
	if err != nil {
		return nil, norblock.ErrInvalidArgument.WithMessage("not a flash image").Wrap(err)
	}
	defer gzReader.Close()

	output := bytes.Buffer{}
	if expectedSize > 0 {
		output.Grow(expectedSize)
	}

	err = decodeRLE8(bufio.NewReader(gzReader), &output)
	if err != nil {
		return nil, norblock.ErrInvalidArgument.WithMessage("corrupt flash image").Wrap(err)
	}

	if expectedSize > 0 && output.Len() != expectedSize {
		return nil, norblock.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("image is %d bytes, expected %d", output.Len(), expectedSize))
	}
	return output.Bytes(), nil
}

// SaveFile writes a compressed image to `path`, replacing it if it exists.
func SaveFile(path string, image []byte) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}

	err = Save(file, image)
	if err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// LoadFile reads a compressed image from `path`. See [Load].
func LoadFile(path string, expectedSize int) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return Load(file, expectedSize)
}
