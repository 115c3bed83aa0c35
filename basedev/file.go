package basedev

import (
	"io"
	"os"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/lattice-storage/go-raid/internal/constants"
	"github.com/lattice-storage/go-raid/internal/interfaces"
)

// blkGetSize64 is the BLKGETSIZE64 ioctl request number (Linux), used to
// probe a block device's byte size when os.Stat reports zero.
const blkGetSize64 = 0x80081272

// File is a base device backed by a regular file or a raw block device
// node, for real backing storage instead of basedev.Memory's RAM disk.
type File struct {
	f          *os.File
	size       int64
	blockSize  int
	ioBoundary int64
	id         uuid.UUID
}

// OpenFile opens path for a base device. If path names a block device,
// its size is probed via BLKGETSIZE64; otherwise the regular file's
// current length is used. The device's identity (DeviceIdentity) is
// loaded from a fixed offset past the superblock region, generating and
// persisting a fresh one on first open so it survives future restarts.
func OpenFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	size := info.Size()
	if info.Mode()&os.ModeDevice != 0 {
		if blkSize, ierr := unix.IoctlGetInt(int(f.Fd()), blkGetSize64); ierr == nil {
			size = int64(blkSize)
		}
	}

	id, err := loadOrAssignIdentity(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &File{
		f:          f,
		size:       size,
		blockSize:  512,
		ioBoundary: 4096,
		id:         id,
	}, nil
}

// loadOrAssignIdentity reads the 16-byte identity record at
// constants.DeviceIdentityOffset, treating a short read or an all-zero
// value as "absent" and persisting a freshly generated UUID in that
// case.
func loadOrAssignIdentity(f *os.File) (uuid.UUID, error) {
	var buf [16]byte
	n, err := f.ReadAt(buf[:], constants.DeviceIdentityOffset)
	if err != nil && err != io.EOF {
		return uuid.UUID{}, err
	}

	var id uuid.UUID
	if n == 16 {
		copy(id[:], buf[:])
	}
	if id != (uuid.UUID{}) {
		return id, nil
	}

	id = uuid.New()
	if _, err := f.WriteAt(id[:], constants.DeviceIdentityOffset); err != nil {
		return uuid.UUID{}, err
	}
	return id, nil
}

// ReadAt implements interfaces.BaseDevice.
func (d *File) ReadAt(p []byte, off int64) (int, error) {
	return d.f.ReadAt(p, off)
}

// WriteAt implements interfaces.BaseDevice.
func (d *File) WriteAt(p []byte, off int64) (int, error) {
	return d.f.WriteAt(p, off)
}

// Size implements interfaces.BaseDevice.
func (d *File) Size() int64 {
	return d.size
}

// Close implements interfaces.BaseDevice.
func (d *File) Close() error {
	return d.f.Close()
}

// Flush implements interfaces.BaseDevice.
func (d *File) Flush() error {
	return d.f.Sync()
}

// Discard implements interfaces.DiscardBackend by punching a hole in the
// backing file. Falls back to a no-op on filesystems/devices that don't
// support FALLOC_FL_PUNCH_HOLE.
func (d *File) Discard(offset, length int64) error {
	err := unix.Fallocate(int(d.f.Fd()), unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, offset, length)
	if err == unix.EOPNOTSUPP {
		return nil
	}
	return err
}

// BlockSize implements interfaces.CapacityProbe.
func (d *File) BlockSize() int {
	return d.blockSize
}

// OptimalIOBoundary implements interfaces.CapacityProbe.
func (d *File) OptimalIOBoundary() int64 {
	return d.ioBoundary
}

// UUID implements interfaces.DeviceIdentity.
func (d *File) UUID() uuid.UUID {
	return d.id
}

var (
	_ interfaces.BaseDevice     = (*File)(nil)
	_ interfaces.DiscardBackend = (*File)(nil)
	_ interfaces.CapacityProbe  = (*File)(nil)
	_ interfaces.DeviceIdentity = (*File)(nil)
)
