package tabular

import (
	"bytes"
	"fmt"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	xunicode "golang.org/x/text/encoding/unicode"
)

// Encoding names a supported text encoding.
type Encoding string

const (
	EncodingUTF8        Encoding = "utf-8"
	EncodingWindows1251 Encoding = "windows-1251"
	EncodingLatin1      Encoding = "latin-1"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func (e Encoding) codec() encoding.Encoding {
	switch e {
	case EncodingWindows1251:
		return charmap.Windows1251
	case EncodingLatin1:
		return charmap.ISO8859_1
	default:
		return xunicode.UTF8
	}
}

// ParseEncoding parses an encoding name.
func ParseEncoding(s string) (Encoding, error) {
	switch s {
	case "", "utf-8", "utf8":
		return EncodingUTF8, nil
	case "windows-1251", "cp1251":
		return EncodingWindows1251, nil
	case "latin-1", "latin1", "iso-8859-1":
		return EncodingLatin1, nil
	default:
		return "", fmt.Errorf("unsupported encoding: %s", s)
	}
}

// DetectEncoding guesses the encoding of data. Valid UTF-8 wins. Otherwise
// Windows-1251 is chosen when most non-ASCII bytes decode to Cyrillic and
// appear in runs, as they do in Cyrillic words; Latin-1 accents tend to sit
// alone between ASCII letters.
func DetectEncoding(data []byte) Encoding {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return EncodingUTF8
	}

	cyr, clustered, high := 0, 0, 0
	for i, b := range data {
		if b < 0x80 {
			continue
		}
		high++
		if unicode.Is(unicode.Cyrillic, charmap.Windows1251.DecodeByte(b)) {
			cyr++
		}
		if (i > 0 && data[i-1] >= 0x80) || (i+1 < len(data) && data[i+1] >= 0x80) {
			clustered++
		}
	}
	if high > 0 && cyr*10 >= high*7 && clustered*2 >= high {
		return EncodingWindows1251
	}
	return EncodingLatin1
}

// Decode converts data in enc to a UTF-8 string, dropping a UTF-8 BOM.
func Decode(data []byte, enc Encoding) (string, error) {
	if enc == EncodingUTF8 || enc == "" {
		return string(bytes.TrimPrefix(data, utf8BOM)), nil
	}
	out, err := enc.codec().NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decoding %s: %w", enc, err)
	}
	return string(out), nil
}

// Encode converts s to enc. Characters enc cannot represent are an error.
func Encode(s string, enc Encoding) ([]byte, error) {
	if enc == EncodingUTF8 || enc == "" {
		return []byte(s), nil
	}
	out, err := enc.codec().NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", enc, err)
	}
	return out, nil
}
