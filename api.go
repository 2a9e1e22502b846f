// Package norblock adapts a raw NOR flash chip into a block device that a
// log-structured file system can sit on top of.
//
// The root package holds only what the file system side needs to know about:
// the block-device contract, the file-system contract used by the mount
// recovery flow, and the error taxonomy shared by every layer.
package norblock

// Block is a logical block index as seen by the file system. The byte address
// of a block is always BlockSize * Block.
type Block uint32

// BlockDevice is the interface a log-structured file system needs from its
// storage. These four operations are the entire seam between the file system
// and the flash core.
//
// Implementations are not safe for concurrent use. The file system's own
// block-device contract already serializes calls, so callers must not issue a
// second operation until the first returns.
type BlockDevice interface {
	// Read fills `buffer` with data starting at `offset` bytes into `block`.
	// offset + len(buffer) must not exceed the block size.
	//
	// Reading a range while a program to an overlapping range is outstanding
	// returns undefined data. Sequencing that is the caller's responsibility.
	Read(block Block, offset uint32, buffer []byte) error

	// Program writes `buffer` starting at `offset` bytes into `block`. The
	// target range must have been erased since it was last programmed; the
	// device doesn't track per-byte erase history. Failures are returned as
	// [ErrProgramFailed] and are never retried.
	Program(block Block, offset uint32, buffer []byte) error

	// Erase resets every byte of `block` to the chip's erased value. It
	// returns once the hardware reports completion or failure.
	Erase(block Block) error

	// Sync is a write barrier. It must be callable at any time and must never
	// fail.
	Sync() error
}

// FileSystem is the part of a file system's interface used by the mount
// recovery flow. Implementations own their on-flash layout entirely; the flash
// core never looks inside it.
type FileSystem interface {
	// Mount brings the file system's metadata online. It must fail if the
	// metadata is missing or corrupt, which is the expected outcome on a chip
	// that has never been formatted.
	Mount(device BlockDevice) error

	// Format writes fresh, empty metadata to the device.
	Format(device BlockDevice) error
}
