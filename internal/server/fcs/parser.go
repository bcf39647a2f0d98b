// Package fcs reads the header and TEXT segment of Flow Cytometry Standard
// data files.
package fcs

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrInvalid is returned for anything that is not a well-formed FCS file.
var ErrInvalid = errors.New("invalid FCS file")

const (
	headerSize = 58
	// maxTextSize caps how much of a TEXT segment is read into memory.
	maxTextSize = 16 << 20
)

var supportedVersions = map[string]string{
	"FCS2.0": "2.0",
	"FCS3.0": "3.0",
	"FCS3.1": "3.1",
	"FCS3.2": "3.2",
}

// Metadata is what the parser extracts from a file.
type Metadata struct {
	Version      string
	Parameters   int
	Events       int64
	ChannelNames []string
	Keywords     map[string]string
}

// PnN returns the channel names joined by commas.
func (m *Metadata) PnN() string {
	return strings.Join(m.ChannelNames, ",")
}

type segment struct {
	start, end int64
}

func (s segment) empty() bool { return s.start == 0 && s.end == 0 }

// Parse validates the header, TEXT and DATA offsets of the size bytes
// behind r. Every failure wraps ErrInvalid.
func Parse(r io.ReaderAt, size int64) (*Metadata, error) {
	if size < headerSize {
		return nil, fmt.Errorf("%w: file shorter than header", ErrInvalid)
	}

	header := make([]byte, headerSize)
	if _, err := r.ReadAt(header, 0); err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrInvalid, err)
	}

	version, ok := supportedVersions[string(header[0:6])]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported magic %q", ErrInvalid, header[0:6])
	}
	if strings.TrimSpace(string(header[6:10])) != "" {
		return nil, fmt.Errorf("%w: malformed header padding", ErrInvalid)
	}

	offsets := make([]int64, 4)
	for i := range offsets {
		field := header[10+i*8 : 18+i*8]
		n, err := parseOffset(field)
		if err != nil {
			return nil, fmt.Errorf("%w: header offset %d: %v", ErrInvalid, i, err)
		}
		offsets[i] = n
	}
	text := segment{offsets[0], offsets[1]}
	data := segment{offsets[2], offsets[3]}

	if text.start < headerSize || text.end <= text.start || text.end >= size {
		return nil, fmt.Errorf("%w: TEXT segment out of range", ErrInvalid)
	}
	if text.end-text.start+1 > maxTextSize {
		return nil, fmt.Errorf("%w: TEXT segment too large", ErrInvalid)
	}

	raw := make([]byte, text.end-text.start+1)
	if _, err := r.ReadAt(raw, text.start); err != nil {
		return nil, fmt.Errorf("%w: read TEXT: %v", ErrInvalid, err)
	}

	keywords, err := parseText(raw)
	if err != nil {
		return nil, err
	}

	meta := &Metadata{Version: version, Keywords: keywords}

	par, err := strconv.Atoi(strings.TrimSpace(keywords["$PAR"]))
	if err != nil || par <= 0 {
		return nil, fmt.Errorf("%w: missing or invalid $PAR", ErrInvalid)
	}
	// Each parameter carries its own keywords, so a count above the number
	// of keywords present cannot describe this file.
	if par > len(keywords) {
		return nil, fmt.Errorf("%w: $PAR %d exceeds keyword count %d", ErrInvalid, par, len(keywords))
	}
	meta.Parameters = par

	if tot, ok := keywords["$TOT"]; ok {
		n, err := strconv.ParseInt(strings.TrimSpace(tot), 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: invalid $TOT", ErrInvalid)
		}
		meta.Events = n
	}

	for i := 1; i <= par; i++ {
		if name, ok := keywords["$P"+strconv.Itoa(i)+"N"]; ok {
			meta.ChannelNames = append(meta.ChannelNames, strings.TrimSpace(name))
		}
	}

	// Files larger than 99,999,999 bytes carry their DATA offsets in TEXT.
	if data.empty() {
		data, err = textSegment(keywords, "$BEGINDATA", "$ENDDATA")
		if err != nil {
			return nil, err
		}
	}
	if !data.empty() && (data.start < headerSize || data.end < data.start || data.end >= size) {
		return nil, fmt.Errorf("%w: DATA segment out of range", ErrInvalid)
	}

	return meta, nil
}

func parseOffset(field []byte) (int64, error) {
	s := strings.TrimSpace(string(field))
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("negative offset")
	}
	return n, nil
}

func textSegment(keywords map[string]string, beginKey, endKey string) (segment, error) {
	begin, hasBegin := keywords[beginKey]
	end, hasEnd := keywords[endKey]
	if !hasBegin && !hasEnd {
		return segment{}, nil
	}
	b, err := parseOffset([]byte(begin))
	if err != nil {
		return segment{}, fmt.Errorf("%w: invalid %s", ErrInvalid, beginKey)
	}
	e, err := parseOffset([]byte(end))
	if err != nil {
		return segment{}, fmt.Errorf("%w: invalid %s", ErrInvalid, endKey)
	}
	return segment{b, e}, nil
}

// parseText splits a TEXT segment into keyword/value pairs. The first byte
// is the delimiter; a doubled delimiter stands for a literal one. Keywords
// are case-insensitive and returned upper-cased.
func parseText(raw []byte) (map[string]string, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("%w: empty TEXT segment", ErrInvalid)
	}
	delim := raw[0]

	var (
		tokens []string
		cur    strings.Builder
	)
	for i := 1; i < len(raw); i++ {
		c := raw[i]
		if c != delim {
			cur.WriteByte(c)
			continue
		}
		if i+1 < len(raw) && raw[i+1] == delim {
			cur.WriteByte(delim)
			i++
			continue
		}
		tokens = append(tokens, cur.String())
		cur.Reset()
	}
	// Tolerate a missing trailing delimiter.
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}

	if len(tokens) == 0 || len(tokens)%2 != 0 {
		return nil, fmt.Errorf("%w: unbalanced TEXT keywords", ErrInvalid)
	}

	keywords := make(map[string]string, len(tokens)/2)
	for i := 0; i < len(tokens); i += 2 {
		key := strings.ToUpper(strings.TrimSpace(tokens[i]))
		if key == "" {
			return nil, fmt.Errorf("%w: empty keyword", ErrInvalid)
		}
		keywords[key] = tokens[i+1]
	}
	return keywords, nil
}
