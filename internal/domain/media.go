package domain

import "time"

type SourceKind string

const (
	SourceTorrent SourceKind = "torrent"
	SourceFile    SourceKind = "file"
)

// TorrentSpec identifies a torrent to add to the download engine. Exactly one
// of Magnet or TorrentFile is set.
type TorrentSpec struct {
	Magnet      string `json:"magnet,omitempty"`
	TorrentFile string `json:"torrentFile,omitempty"`
}

// SourceMetadata describes the file behind a content source once it is known.
type SourceMetadata struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	PieceSize  int64  `json:"pieceSize"`
	FileOffset int64  `json:"-"`
	Container  string `json:"container"`
}

// TorrentFile is a file inside a torrent as reported by the download engine.
type TorrentFile struct {
	Index  int
	Path   string
	Length int64
	Offset int64
}

// SessionInfo is a point-in-time snapshot of a stream session.
type SessionInfo struct {
	ID            string      `json:"streamId"`
	Kind          SourceKind  `json:"kind"`
	State         StreamState `json:"state"`
	Name          string      `json:"name,omitempty"`
	Container     string      `json:"container,omitempty"`
	TotalSize     int64       `json:"totalSize"`
	PieceSize     int64       `json:"pieceSize,omitempty"`
	Progress      float64     `json:"progress"`
	Converted     bool        `json:"converted"`
	NeedsConvert  bool        `json:"needsConversion"`
	CreatedAt     time.Time   `json:"createdAt"`
	MetadataError string      `json:"metadataError,omitempty"`
}

// MediaItem is a servable file found under the media root.
type MediaItem struct {
	Name            string    `json:"name"`
	Path            string    `json:"path"`
	Size            int64     `json:"size"`
	NeedsConversion bool      `json:"needsConversion"`
	ContentType     string    `json:"contentType"`
	Converted       bool      `json:"converted"`
	ModifiedAt      time.Time `json:"modifiedAt"`

	Title   string `json:"title,omitempty"`
	Kind    string `json:"kind,omitempty"` // movie | series
	Season  int    `json:"season,omitempty"`
	Episode int    `json:"episode,omitempty"`
	Year    int    `json:"year,omitempty"`
}
