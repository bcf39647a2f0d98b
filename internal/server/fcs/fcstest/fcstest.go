// Package fcstest builds synthetic FCS files for tests.
package fcstest

import (
	"bytes"
	"fmt"
	"strconv"
)

// Options describes the file Build produces.
type Options struct {
	// Version is the header magic, e.g. "FCS3.1". Defaults to FCS3.1.
	Version  string
	Channels []string
	Events   int
	// Size pads the DATA segment so the file is exactly Size bytes. Zero
	// sizes DATA as 4 bytes per channel per event.
	Size int64
	// Extra keywords appended to TEXT.
	Extra [][2]string
}

// Build returns an FCS file with a '/'-delimited TEXT segment directly after
// the header, followed by zero-filled DATA.
func Build(o Options) []byte {
	if o.Version == "" {
		o.Version = "FCS3.1"
	}
	if len(o.Channels) == 0 {
		o.Channels = []string{"FSC-A", "SSC-A"}
	}

	pairs := [][2]string{
		{"$BYTEORD", "1,2,3,4"},
		{"$DATATYPE", "F"},
		{"$MODE", "L"},
		{"$NEXTDATA", "0"},
		{"$PAR", strconv.Itoa(len(o.Channels))},
		{"$TOT", strconv.Itoa(o.Events)},
	}
	for i, name := range o.Channels {
		n := strconv.Itoa(i + 1)
		pairs = append(pairs,
			[2]string{"$P" + n + "N", name},
			[2]string{"$P" + n + "B", "32"},
			[2]string{"$P" + n + "R", "262144"},
		)
	}
	pairs = append(pairs, o.Extra...)

	text := Text('/', pairs)

	textStart := int64(58)
	textEnd := textStart + int64(len(text)) - 1
	dataStart := textEnd + 1

	dataLen := int64(4 * len(o.Channels) * o.Events)
	if o.Size > 0 {
		dataLen = o.Size - dataStart
		if dataLen < 0 {
			panic(fmt.Sprintf("fcstest: size %d smaller than header and TEXT (%d)", o.Size, dataStart))
		}
	}

	var dStart, dEnd int64
	if dataLen > 0 {
		dStart, dEnd = dataStart, dataStart+dataLen-1
	}

	var buf bytes.Buffer
	buf.WriteString(o.Version)
	buf.WriteString("    ")
	fmt.Fprintf(&buf, "%8d%8d%8d%8d%8d%8d", textStart, textEnd, dStart, dEnd, 0, 0)
	buf.Write(text)
	buf.Write(make([]byte, dataLen))
	return buf.Bytes()
}

// Text encodes keyword/value pairs with delim, doubling any delimiter that
// occurs inside a key or value.
func Text(delim byte, pairs [][2]string) []byte {
	esc := func(s string) []byte {
		return bytes.ReplaceAll([]byte(s), []byte{delim}, []byte{delim, delim})
	}
	var buf bytes.Buffer
	buf.WriteByte(delim)
	for _, kv := range pairs {
		buf.Write(esc(kv[0]))
		buf.WriteByte(delim)
		buf.Write(esc(kv[1]))
		buf.WriteByte(delim)
	}
	return buf.Bytes()
}
