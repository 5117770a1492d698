// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package imagerepair

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"
	"strings"
)

// pngEndMarkers are the base64 renderings of the PNG IEND chunk and its CRC
// at each of the three byte alignments it can fall on.
var pngEndMarkers = []string{
	"AElFTkSuQmCC",
	"BJRU5ErkJggg==",
	"SUVORK5CYII=",
}

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// NeedsRepair reports whether raw is not a clean base64 payload: it holds
// characters outside the base64 alphabet, padding followed by more data, a
// length of 1 mod 4, or for PNG a byte stream that does not end with a
// complete IEND chunk.
func NeedsRepair(raw, mime string) bool {
	if invalidIndex(raw) >= 0 {
		return true
	}
	if i := strings.IndexByte(raw, '='); i >= 0 && strings.TrimRight(raw[i:], "=") != "" {
		return true
	}
	if len(raw)%4 == 1 {
		return true
	}
	if isPNG(mime) {
		data, err := decode(raw)
		return err != nil || !completePNG(data)
	}
	return false
}

// Repair returns the best available clean version of raw. Candidates are
// tried in order: cut right after a PNG end marker, cut at the first invalid
// character, strip every invalid character. The first candidate that decodes
// (and for PNG holds a complete chunk stream) wins. When none does, raw is
// cut after its first padding run, or returned unchanged if it has none.
func Repair(raw, mime string) (repaired string) {
	defer func() {
		if r := recover(); r != nil {
			repaired = raw
		}
	}()

	if !NeedsRepair(raw, mime) {
		return raw
	}

	var candidates []string
	if isPNG(mime) {
		for _, marker := range pngEndMarkers {
			if i := strings.Index(raw, marker); i >= 0 {
				candidates = append(candidates, raw[:i+len(marker)])
			}
		}
	}
	if i := firstBadIndex(raw); i >= 0 {
		candidates = append(candidates, fixPadding(raw[:i]))
	} else {
		candidates = append(candidates, fixPadding(raw))
	}
	candidates = append(candidates, fixPadding(stripInvalid(raw)))

	for _, c := range candidates {
		if valid(c, mime) {
			return c
		}
	}

	if i := strings.IndexByte(raw, '='); i >= 0 {
		end := i
		for end < len(raw) && raw[end] == '=' {
			end++
		}
		return raw[:end]
	}
	return raw
}

func isPNG(mime string) bool {
	mime = strings.ToLower(strings.TrimSpace(mime))
	return mime == "image/png" || mime == "png"
}

func isBase64Char(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '+' || c == '/'
}

// invalidIndex returns the index of the first byte that is neither base64
// alphabet nor padding, or -1.
func invalidIndex(s string) int {
	for i := 0; i < len(s); i++ {
		if !isBase64Char(s[i]) && s[i] != '=' {
			return i
		}
	}
	return -1
}

// firstBadIndex is invalidIndex that also stops at data following padding.
func firstBadIndex(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '=' {
			end := i
			for end < len(s) && s[end] == '=' {
				end++
			}
			if end < len(s) {
				return end
			}
			return -1
		}
		if !isBase64Char(c) {
			return i
		}
	}
	return -1
}

func stripInvalid(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if isBase64Char(s[i]) {
			sb.WriteByte(s[i])
		}
	}
	return sb.String()
}

// fixPadding drops existing padding and a dangling 1 mod 4 character, then
// pads to a multiple of four.
func fixPadding(s string) string {
	s = strings.TrimRight(s, "=")
	if len(s)%4 == 1 {
		s = s[:len(s)-1]
	}
	if r := len(s) % 4; r != 0 {
		s += strings.Repeat("=", 4-r)
	}
	return s
}

func decode(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

func valid(candidate, mime string) bool {
	if candidate == "" {
		return false
	}
	data, err := decode(candidate)
	if err != nil || len(data) == 0 {
		return false
	}
	if isPNG(mime) {
		return completePNG(data)
	}
	return true
}

// completePNG reports whether data is a PNG signature followed by well formed
// chunks, the last of which is IEND and ends exactly at the end of data.
func completePNG(data []byte) bool {
	if !bytes.HasPrefix(data, pngSignature) {
		return false
	}
	pos := len(pngSignature)
	for pos+12 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[pos:]))
		if length < 0 || length > len(data)-pos-12 {
			return false
		}
		typeAndData := data[pos+4 : pos+8+length]
		crc := binary.BigEndian.Uint32(data[pos+8+length:])
		if crc32.ChecksumIEEE(typeAndData) != crc {
			return false
		}
		next := pos + 12 + length
		if string(data[pos+4:pos+8]) == "IEND" {
			return next == len(data)
		}
		pos = next
	}
	return false
}
