package source

import "hyperstream/internal/domain"

// FileWindow is the read window used for sources without pieces.
const FileWindow int64 = 1 << 20

// WindowLength returns how many bytes to read at offset without crossing a
// piece boundary (or FileWindow for piece-less sources) and without passing
// end, which is inclusive.
func WindowLength(meta domain.SourceMetadata, offset, end int64) int64 {
	if end < offset {
		return 0
	}
	limit := end + 1
	if meta.PieceSize > 0 {
		abs := meta.FileOffset + offset
		boundary := (abs/meta.PieceSize+1)*meta.PieceSize - meta.FileOffset
		if boundary < limit {
			limit = boundary
		}
	} else if offset+FileWindow < limit {
		limit = offset + FileWindow
	}
	return limit - offset
}
