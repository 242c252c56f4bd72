// Package metainfo decodes .torrent files (BEP 3) into the Torrent shape
// consumed by the rest of this emulator: an info-hash, file layout, and the
// tiered announce URLs a real client would try.
package metainfo

import (
	"bytes"
	"crypto/sha1"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/prxssh/phantom/internal/bencode"
)

// ErrInvalidTorrent is wrapped by every parse failure from Parse.
var ErrInvalidTorrent = errors.New("metainfo: invalid torrent")

// File is a single file entry within a multi-file torrent.
type File struct {
	// Path is the file's relative path, expressed as path elements, e.g.
	// []string{"dir1", "dir2", "file.ext"}.
	Path []string
	// Length is the exact size of this file in bytes.
	Length int64
}

// Torrent is the immutable, parsed view of a .torrent file.
type Torrent struct {
	// InfoHash is the SHA-1 of the exact bencoded "info" dictionary bytes
	// as they appeared in the source, not a re-encoding of the parsed
	// tree.
	InfoHash [sha1.Size]byte

	// Name is the suggested display name (file name in single-file mode,
	// directory name in multi-file mode).
	Name string

	// PieceLength is the number of bytes per piece.
	PieceLength int64

	// NumPieces is ceil(TotalSize / PieceLength).
	NumPieces int64

	// TotalSize is the sum of all file lengths.
	TotalSize int64

	// Files is the ordered list of files. In single-file mode it has
	// exactly one entry whose Path is []string{Name}.
	Files []File

	// Announce is the primary tracker URL: AnnounceList[0][0] if
	// AnnounceList is present, otherwise the top-level "announce" value.
	Announce string

	// AnnounceList holds tiered tracker URLs (BEP 12). Each tier is tried
	// in order; within a tier, order may be shuffled at run start.
	AnnounceList [][]string
}

// Parse decodes raw .torrent bytes into a Torrent. It rejects any torrent
// whose total size or piece length is zero, and any announce URL that is
// not http(s).
func Parse(data []byte) (*Torrent, error) {
	decoded, span, err := bencode.DecodeWithInfoSpan(bytes.NewReader(data), "info")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTorrent, err)
	}

	top, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf(
			"%w: top-level value is not a dictionary",
			ErrInvalidTorrent,
		)
	}

	rawInfo, ok := top["info"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf(
			"%w: missing or invalid 'info' dictionary",
			ErrInvalidTorrent,
		)
	}

	infoHash := sha1.Sum(data[span.Start:span.End])

	pieceLength, ok := intFrom(rawInfo, "piece length")
	if !ok || pieceLength <= 0 {
		return nil, fmt.Errorf(
			"%w: missing or invalid 'piece length'",
			ErrInvalidTorrent,
		)
	}

	name, _ := stringFrom(rawInfo, "name")

	files, totalSize, err := parseFiles(rawInfo, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTorrent, err)
	}
	if totalSize <= 0 {
		return nil, fmt.Errorf(
			"%w: total size must be greater than zero",
			ErrInvalidTorrent,
		)
	}

	announce, announceList, err := parseAnnounce(top)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTorrent, err)
	}

	numPieces := int64(math.Ceil(float64(totalSize) / float64(pieceLength)))

	return &Torrent{
		InfoHash:     infoHash,
		Name:         name,
		PieceLength:  pieceLength,
		NumPieces:    numPieces,
		TotalSize:    totalSize,
		Files:        files,
		Announce:     announce,
		AnnounceList: announceList,
	}, nil
}

// ShuffleTiers permutes the order of trackers within each announce-list
// tier in place, leaving tier order itself untouched. Call once per faker
// run, per BEP 12.
func (t *Torrent) ShuffleTiers() {
	for _, tier := range t.AnnounceList {
		rand.Shuffle(len(tier), func(i, j int) {
			tier[i], tier[j] = tier[j], tier[i]
		})
	}
}

func parseFiles(raw map[string]any, name string) ([]File, int64, error) {
	if filesAny, ok := raw["files"].([]any); ok {
		return parseMultiFiles(filesAny)
	}

	length, ok := intFrom(raw, "length")
	if !ok || length < 0 {
		return nil, 0, errors.New(
			"missing or invalid 'length' for single-file torrent",
		)
	}

	return []File{{Path: []string{name}, Length: length}}, length, nil
}

func parseMultiFiles(filesAny []any) ([]File, int64, error) {
	files := make([]File, 0, len(filesAny))
	var total int64

	for i, fe := range filesAny {
		fdict, ok := fe.(map[string]any)
		if !ok {
			return nil, 0, fmt.Errorf(
				"file entry %d is not a dictionary",
				i,
			)
		}

		length, ok := intFrom(fdict, "length")
		if !ok || length < 0 {
			return nil, 0, fmt.Errorf(
				"invalid or missing file length at index %d",
				i,
			)
		}

		pathAny, ok := fdict["path"].([]any)
		if !ok || len(pathAny) == 0 {
			return nil, 0, fmt.Errorf(
				"invalid or missing file path at index %d",
				i,
			)
		}

		path := make([]string, 0, len(pathAny))
		for j, pe := range pathAny {
			ps, ok := pe.(string)
			if !ok {
				return nil, 0, fmt.Errorf(
					"non-string path element at file %d index %d",
					i,
					j,
				)
			}
			path = append(path, ps)
		}

		files = append(files, File{Path: path, Length: length})
		total += length
	}

	return files, total, nil
}

// parseAnnounce builds the primary announce URL and the tiered
// announce-list, validating that every URL is http(s).
func parseAnnounce(top map[string]any) (string, [][]string, error) {
	var tiers [][]string

	if al, ok := top["announce-list"].([]any); ok {
		for _, tierAny := range al {
			tierList, ok := tierAny.([]any)
			if !ok {
				continue
			}

			tier := make([]string, 0, len(tierList))
			for _, u := range tierList {
				s, ok := u.(string)
				if !ok || s == "" {
					continue
				}
				if err := validateAnnounceURL(s); err != nil {
					return "", nil, err
				}
				tier = append(tier, s)
			}
			if len(tier) > 0 {
				tiers = append(tiers, tier)
			}
		}
	}

	if len(tiers) > 0 {
		return tiers[0][0], tiers, nil
	}

	announce, ok := top["announce"].(string)
	if !ok || announce == "" {
		return "", nil, errors.New("missing 'announce' URL")
	}
	if err := validateAnnounceURL(announce); err != nil {
		return "", nil, err
	}

	return announce, nil, nil
}

func validateAnnounceURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid announce url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf(
			"announce url %q: unsupported scheme %q (must be http or https)",
			raw,
			u.Scheme,
		)
	}
	return nil
}

func stringFrom(m map[string]any, key string) (string, bool) {
	v, ok := m[key].(string)
	if !ok {
		return "", false
	}
	if !utf8.ValidString(v) {
		return strings.ToValidUTF8(v, "�"), true
	}
	return v, true
}

func intFrom(m map[string]any, key string) (int64, bool) {
	v, ok := m[key].(int64)
	return v, ok
}
