package advert

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// Delimiter separates the parts of a channel name.
	Delimiter = "]--,',--["
	// ChannelPrefix starts every direct channel name.
	ChannelPrefix = "OverlayDirectChannel"
)

var (
	// ErrMalformedName indicates a channel name that cannot be parsed.
	ErrMalformedName = errors.New("malformed channel name")
	// ErrInvalidNamePart indicates a name part that would break parsing.
	ErrInvalidNamePart = errors.New("channel name part contains delimiter")
)

// ChannelName is the decoded form of a direct channel name.
type ChannelName struct {
	OwnerName string
	OwnerID   string
	CreatedAt int64 // epoch millis
}

// ChannelQuery is the discovery value matching every direct channel.
func ChannelQuery() string {
	return ChannelPrefix + "*"
}

// EncodeChannelName builds the advertised name of a direct channel.
func EncodeChannelName(n ChannelName) (string, error) {
	if strings.Contains(n.OwnerName, Delimiter) || strings.Contains(n.OwnerID, Delimiter) {
		return "", ErrInvalidNamePart
	}
	if n.OwnerID == "" {
		return "", fmt.Errorf("%w: empty owner id", ErrMalformedName)
	}

	var b strings.Builder
	b.WriteString(ChannelPrefix)
	b.WriteString(Delimiter)
	b.WriteString(n.OwnerName)
	b.WriteString(Delimiter)
	b.WriteString(n.OwnerID)
	b.WriteString(Delimiter)
	b.WriteString(strconv.FormatInt(n.CreatedAt, 10))
	return b.String(), nil
}

// ParseChannelName decodes a direct channel name.
func ParseChannelName(name string) (ChannelName, error) {
	parts := strings.Split(name, Delimiter)
	if len(parts) != 4 {
		return ChannelName{}, fmt.Errorf("%w: %q has %d parts", ErrMalformedName, name, len(parts))
	}
	if parts[0] != ChannelPrefix {
		return ChannelName{}, fmt.Errorf("%w: unexpected prefix %q", ErrMalformedName, parts[0])
	}
	if parts[2] == "" {
		return ChannelName{}, fmt.Errorf("%w: empty owner id", ErrMalformedName)
	}

	ts, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return ChannelName{}, fmt.Errorf("%w: bad timestamp: %v", ErrMalformedName, err)
	}

	return ChannelName{OwnerName: parts[1], OwnerID: parts[2], CreatedAt: ts}, nil
}

// Match reports whether value matches pattern. A trailing "*" in pattern
// matches any suffix.
func Match(pattern, value string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(value, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == value
}
