// Package stat holds the wire-format stat structure returned by fstat,
// adapted from the teacher's stat package.
package stat

// Len is the encoded byte length Bytes always produces, so callers can
// bounds-check a user buffer before fetching.
const Len = 7 * 8

// Stat_t mirrors a file's metadata as returned to user space.
type Stat_t struct {
	dev    uint
	ino    uint
	mode   uint
	size   uint
	rdev   uint
	nlink  uint
	mtime  uint
}

// Wdev stores the device ID.
func (st *Stat_t) Wdev(v uint) { st.dev = v }

// Wino stores the inode number.
func (st *Stat_t) Wino(v uint) { st.ino = v }

// Wmode stores the file mode (type bits and permission bits).
func (st *Stat_t) Wmode(v uint) { st.mode = v }

// Wsize stores the file size in bytes.
func (st *Stat_t) Wsize(v uint) { st.size = v }

// Wrdev stores the device number for character-device inodes.
func (st *Stat_t) Wrdev(v uint) { st.rdev = v }

// Wnlink stores the hard-link count.
func (st *Stat_t) Wnlink(v uint) { st.nlink = v }

// Wmtime stores the last-modified time, in seconds since the epoch.
func (st *Stat_t) Wmtime(v uint) { st.mtime = v }

// Dev returns the device ID.
func (st *Stat_t) Dev() uint { return st.dev }

// Ino returns the inode number.
func (st *Stat_t) Ino() uint { return st.ino }

// Mode returns the stored mode value.
func (st *Stat_t) Mode() uint { return st.mode }

// Size returns the stored size.
func (st *Stat_t) Size() uint { return st.size }

// Rdev returns the stored device number.
func (st *Stat_t) Rdev() uint { return st.rdev }

// Nlink returns the stored hard-link count.
func (st *Stat_t) Nlink() uint { return st.nlink }

// Mtime returns the stored modification time.
func (st *Stat_t) Mtime() uint { return st.mtime }

// Bytes encodes the structure as a flat little-endian byte slice
// suitable for copying into user memory.
func (st *Stat_t) Bytes() []uint8 {
	const nfields = 7
	out := make([]uint8, nfields*8)
	put := func(i int, v uint) {
		off := i * 8
		for b := 0; b < 8; b++ {
			out[off+b] = uint8(v >> (8 * uint(b)))
		}
	}
	put(0, st.dev)
	put(1, st.ino)
	put(2, st.mode)
	put(3, st.size)
	put(4, st.rdev)
	put(5, st.nlink)
	put(6, st.mtime)
	return out
}
