package anacrolix

import (
	"github.com/anacrolix/torrent"
)

// readaheadPieces is how many pieces after the demanded one are raised along
// with it.
const readaheadPieces = 4

type pieceRange struct {
	start int
	end   int // exclusive
}

// readaheadPlan returns the priorities for pieces index, index+1, ... capped
// at limit (exclusive). The demanded piece gets Now, the next one Next and the
// remainder Readahead.
func readaheadPlan(index, limit int) []torrent.PiecePriority {
	if index < 0 || index >= limit {
		return nil
	}
	n := readaheadPieces + 1
	if index+n > limit {
		n = limit - index
	}
	plan := make([]torrent.PiecePriority, n)
	for i := range plan {
		switch i {
		case 0:
			plan[i] = torrent.PiecePriorityNow
		case 1:
			plan[i] = torrent.PiecePriorityNext
		default:
			plan[i] = torrent.PiecePriorityReadahead
		}
	}
	return plan
}

// pieceSpan maps the byte range [off, off+length) of a file starting at
// fileOffset into the torrent's piece indices.
func pieceSpan(fileOffset, fileLength, off, length, pieceSize int64, numPieces int) (pieceRange, bool) {
	if length <= 0 || pieceSize <= 0 || fileLength <= 0 || numPieces <= 0 {
		return pieceRange{}, false
	}
	start := fileOffset + off
	if start < fileOffset {
		start = fileOffset
	}
	fileEnd := fileOffset + fileLength
	if start >= fileEnd {
		return pieceRange{}, false
	}
	end := start + length
	if end > fileEnd || end < start {
		end = fileEnd
	}

	startPiece := int(start / pieceSize)
	endPiece := int((end + pieceSize - 1) / pieceSize)
	if endPiece <= startPiece {
		endPiece = startPiece + 1
	}
	if startPiece >= numPieces {
		return pieceRange{}, false
	}
	if endPiece > numPieces {
		endPiece = numPieces
	}
	return pieceRange{start: startPiece, end: endPiece}, true
}
