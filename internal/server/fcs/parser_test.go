package fcs

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"fcshare/internal/server/fcs/fcstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseBytes(b []byte) (*Metadata, error) {
	return Parse(bytes.NewReader(b), int64(len(b)))
}

func TestParse_Valid(t *testing.T) {
	for _, magic := range []string{"FCS2.0", "FCS3.0", "FCS3.1", "FCS3.2"} {
		t.Run(magic, func(t *testing.T) {
			data := fcstest.Build(fcstest.Options{
				Version:  magic,
				Channels: []string{"FSC-A", "SSC-A", "FITC-A"},
				Events:   10,
			})

			meta, err := parseBytes(data)
			require.NoError(t, err)
			assert.Equal(t, magic[3:], meta.Version)
			assert.Equal(t, 3, meta.Parameters)
			assert.Equal(t, int64(10), meta.Events)
			assert.Equal(t, "FSC-A,SSC-A,FITC-A", meta.PnN())
		})
	}
}

func TestParse_EscapedDelimiter(t *testing.T) {
	data := fcstest.Build(fcstest.Options{
		Channels: []string{"CD4/CD8", "FSC-A"},
		Events:   1,
		Extra:    [][2]string{{"$FIL", "run/01.fcs"}},
	})

	meta, err := parseBytes(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"CD4/CD8", "FSC-A"}, meta.ChannelNames)
	assert.Equal(t, "run/01.fcs", meta.Keywords["$FIL"])
}

func TestParse_KeywordsAreCaseInsensitive(t *testing.T) {
	text := fcstest.Text('|', [][2]string{{"$par", "1"}, {"$tot", "0"}, {"$p1n", "Time"}})
	data := withText("FCS3.0", text, 0)

	meta, err := parseBytes(data)
	require.NoError(t, err)
	assert.Equal(t, 1, meta.Parameters)
	assert.Equal(t, "Time", meta.PnN())
}

func TestParse_MissingTrailingDelimiter(t *testing.T) {
	text := []byte("/$PAR/1/$P1N/FSC-A")
	meta, err := parseBytes(withText("FCS3.1", text, 0))
	require.NoError(t, err)
	assert.Equal(t, "FSC-A", meta.PnN())
}

func TestParse_DataOffsetsInText(t *testing.T) {
	// Header DATA offsets left at zero; TEXT carries them instead.
	textLen := 0
	var text []byte
	for i := 0; i < 3; i++ {
		begin := 58 + textLen
		text = fcstest.Text('/', [][2]string{
			{"$PAR", "1"},
			{"$BEGINDATA", fmt.Sprint(begin)},
			{"$ENDDATA", fmt.Sprint(begin + 3)},
		})
		textLen = len(text)
	}
	data := withText("FCS3.1", text, 4)

	_, err := parseBytes(data)
	require.NoError(t, err)
}

func TestParse_Invalid(t *testing.T) {
	valid := fcstest.Build(fcstest.Options{Events: 2})

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated header", valid[:40]},
		{"plain text", bytes.Repeat([]byte("hello world "), 20)},
		{"unknown version", append([]byte("FCS4.0"), valid[6:]...)},
		{"lowercase magic", append([]byte("fcs3.1"), valid[6:]...)},
		{"non-numeric offset", patch(valid, 10, "   abcde")},
		{"TEXT before header end", patch(valid, 10, "      10")},
		{"TEXT end before start", patch(valid, 18, "      57")},
		{"TEXT past end of file", patch(valid, 18, "99999999")},
		{"truncated body", valid[:len(valid)-4]},
		{"missing $PAR", withText("FCS3.1", fcstest.Text('/', [][2]string{{"$TOT", "1"}}), 0)},
		{"zero $PAR", withText("FCS3.1", fcstest.Text('/', [][2]string{{"$PAR", "0"}}), 0)},
		{"bad $TOT", withText("FCS3.1", fcstest.Text('/', [][2]string{{"$PAR", "1"}, {"$TOT", "many"}}), 0)},
		{"odd keyword count", withText("FCS3.1", []byte("/$PAR/1/$TOT/"), 0)},
		{"empty TEXT", withText("FCS3.1", []byte("/"), 0)},
		{"$PAR beyond keywords", withText("FCS3.1", fcstest.Text('/', [][2]string{{"$PAR", "3"}, {"$P1N", "FSC-A"}}), 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta, err := parseBytes(tt.data)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Nil(t, meta)
		})
	}
}

func TestParse_HugeParameterCountRejectedQuickly(t *testing.T) {
	data := fcstest.Build(fcstest.Options{
		Channels: []string{"FSC-A"},
		Extra:    [][2]string{{"$PAR", "2000000000"}},
	})

	start := time.Now()
	meta, err := parseBytes(data)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Nil(t, meta)
	assert.Less(t, time.Since(start), time.Second)
}

// withText assembles a file with the given TEXT segment and dataLen bytes
// of trailing data, leaving the header DATA offsets empty.
func withText(magic string, text []byte, dataLen int) []byte {
	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.WriteString("    ")
	fmt.Fprintf(&buf, "%8d%8d%8d%8d%8d%8d", 58, 58+len(text)-1, 0, 0, 0, 0)
	buf.Write(text)
	buf.Write(make([]byte, dataLen))
	return buf.Bytes()
}

func patch(b []byte, at int, s string) []byte {
	out := bytes.Clone(b)
	copy(out[at:], s)
	return out
}
