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

import "strings"

const base64Marker = ";base64,"

// ParseDataURL splits a base64 data URL into its MIME type and payload.
func ParseDataURL(s string) (mime, payload string, ok bool) {
	rest, found := strings.CutPrefix(s, "data:")
	if !found {
		return "", "", false
	}
	mime, payload, found = strings.Cut(rest, base64Marker)
	if !found {
		return "", "", false
	}
	return mime, payload, true
}

// FormatDataURL builds a base64 data URL.
func FormatDataURL(mime, payload string) string {
	return "data:" + mime + base64Marker + payload
}

// DataURLNeedsRepair reports whether the payload of a base64 data URL needs
// repair. Strings that are not base64 data URLs never do.
func DataURLNeedsRepair(s string) bool {
	mime, payload, ok := ParseDataURL(s)
	return ok && NeedsRepair(payload, mime)
}

// RepairDataURL repairs the payload of a base64 data URL and reports whether
// it changed. Strings that are not base64 data URLs are returned unchanged.
func RepairDataURL(s string) (string, bool) {
	mime, payload, ok := ParseDataURL(s)
	if !ok || !NeedsRepair(payload, mime) {
		return s, false
	}
	repaired := Repair(payload, mime)
	if repaired == payload {
		return s, false
	}
	return FormatDataURL(mime, repaired), true
}
