// Package booru implements the content source client for Moebooru-style
// image boards (yande.re API family). It provides metadata queries and
// range-resumable binary downloads for the fetch coordinator.
package booru

import (
	"strconv"
	"strings"
)

// ItemID identifies one post on the board. Post IDs are stable across
// sessions and strictly increasing on Moebooru instances.
type ItemID int64

// String returns the decimal form of the ID, used as cache key.
func (id ItemID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseItemID parses a decimal item identifier.
func ParseItemID(s string) (ItemID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, err
	}
	return ItemID(n), nil
}

// Kind classifies the content of an item.
type Kind uint8

const (
	KindImage Kind = iota
	KindVideo
	KindOther
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	default:
		return "other"
	}
}

var imageExts = map[string]struct{}{
	"jpg": {}, "jpeg": {}, "png": {}, "gif": {}, "webp": {}, "bmp": {},
}

var videoExts = map[string]struct{}{
	"mp4": {}, "webm": {}, "mkv": {}, "avi": {}, "mov": {},
}

// KindForExt maps a file extension from the board metadata to a Kind.
func KindForExt(ext string) Kind {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if _, ok := imageExts[ext]; ok {
		return KindImage
	}
	if _, ok := videoExts[ext]; ok {
		return KindVideo
	}
	return KindOther
}

// post mirrors the subset of the Moebooru post JSON the client consumes.
type post struct {
	ID        int64  `json:"id"`
	FileURL   string `json:"file_url"`
	SampleURL string `json:"sample_url"`
	FileExt   string `json:"file_ext"`
	FileSize  int64  `json:"file_size"`
	Rating    string `json:"rating"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Tags      string `json:"tags"`
}

// Metadata describes one item as reported by the board.
type Metadata struct {
	ID      ItemID
	Size    int64
	Kind    Kind
	FileURL string
	Ext     string
	Rating  string
	Width   int
	Height  int
}

func metadataFromPost(p *post) *Metadata {
	ext := p.FileExt
	if ext == "" {
		if i := strings.LastIndexByte(p.FileURL, '.'); i >= 0 {
			ext = p.FileURL[i+1:]
		}
	}
	return &Metadata{
		ID:      ItemID(p.ID),
		Size:    p.FileSize,
		Kind:    KindForExt(ext),
		FileURL: p.FileURL,
		Ext:     ext,
		Rating:  p.Rating,
		Width:   p.Width,
		Height:  p.Height,
	}
}
