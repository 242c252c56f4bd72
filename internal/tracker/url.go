package tracker

import (
	"strconv"
	"strings"

	"github.com/prxssh/phantom/internal/identity"
)

// percentEncode keeps bytes of the URL-unreserved set (see isUnreserved)
// and percent-encodes every other byte, printable or not. net/url.QueryEscape is not used here
// because its escaped set differs slightly and, more importantly,
// url.Values.Encode() alphabetizes keys, which would scramble the
// client-specific parameter order this package exists to preserve.
func percentEncode(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b) * 3)

	for _, c := range b {
		if isUnreserved(c) {
			sb.WriteByte(c)
			continue
		}
		sb.WriteByte('%')
		sb.WriteByte(hexDigit(c >> 4))
		sb.WriteByte(hexDigit(c & 0x0f))
	}

	return sb.String()
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z':
		return true
	case c >= 'a' && c <= 'z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_' || c == '.' || c == '~':
		return true
	default:
		return false
	}
}

func hexDigit(n byte) byte {
	const digits = "0123456789ABCDEF"
	return digits[n]
}

// buildAnnounceURL returns the full announce URL for one request,
// appending parameters in exactly the order id.QueryKeyOrder specifies.
// An optional parameter (event) whose value is absent is omitted
// entirely rather than reordered or emitted empty.
func buildAnnounceURL(
	base string,
	id *identity.Identity,
	p AnnounceParams,
) string {
	values := paramValues(id, p)

	var qs strings.Builder
	wrote := false
	for _, key := range id.QueryKeyOrder {
		val, ok := values[key]
		if !ok {
			continue
		}
		if wrote {
			qs.WriteByte('&')
		}
		qs.WriteString(key)
		qs.WriteByte('=')
		qs.WriteString(val)
		wrote = true
	}

	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	if !wrote {
		return base
	}
	return base + sep + qs.String()
}

// paramValues resolves every query key this package knows about to its
// wire value for the given identity and request. Keys absent from the
// returned map are omitted by buildAnnounceURL regardless of whether
// they appear in the client's order table.
func paramValues(
	id *identity.Identity,
	p AnnounceParams,
) map[string]string {
	// info_hash is written with every byte escaped, unreserved or not.
	var infoHash strings.Builder
	for _, c := range p.InfoHash {
		infoHash.WriteByte('%')
		infoHash.WriteByte(hexDigit(c >> 4))
		infoHash.WriteByte(hexDigit(c & 0x0f))
	}

	values := map[string]string{
		"info_hash":  infoHash.String(),
		"peer_id":    percentEncode(id.PeerID[:]),
		"port":       strconv.Itoa(int(p.Port)),
		"uploaded":   strconv.FormatUint(p.Uploaded, 10),
		"downloaded": strconv.FormatUint(p.Downloaded, 10),
		"left":       strconv.FormatUint(p.Left, 10),
		"corrupt":    strconv.FormatUint(p.Corrupt, 10),
		"key":        id.Key,
		"numwant":    strconv.Itoa(int(p.NumWant)),
		"compact":    "1",
		"no_peer_id": "0",
		"supportcrypto": "1",
		"redundant":  "0",
	}

	if p.Event != EventNone {
		values["event"] = p.Event.String()
	}

	return values
}
