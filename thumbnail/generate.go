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


package thumbnail

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"
	"strings"

	"github.com/poiesic/chatvault/imagerepair"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// DefaultShortEdge bounds the shorter side of a thumbnail in pixels.
	DefaultShortEdge = 256

	// DefaultQuality is the JPEG quality of generated thumbnails.
	DefaultQuality = 80
)

// Result is a generated thumbnail. Width and Height are the dimensions of
// the source image, not of the thumbnail.
type Result struct {
	DataURL string
	Width   int
	Height  int
}

// Generate decodes a base64 image data URL, scales it so that its short
// edge is at most shortEdge and re-encodes it as a JPEG data URL. Smaller
// images keep their size. Damaged payloads go through imagerepair first.
func Generate(dataURL string, shortEdge, quality int) (*Result, error) {
	if shortEdge <= 0 || quality <= 0 || quality > 100 {
		return nil, fmt.Errorf("%w: short edge %d, quality %d", ErrInvalidSize, shortEdge, quality)
	}
	mime, payload, ok := imagerepair.ParseDataURL(dataURL)
	if !ok {
		return nil, ErrNotDataURL
	}
	if imagerepair.NeedsRepair(payload, mime) {
		payload = imagerepair.Repair(payload, mime)
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeFailed, err)
	}
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeFailed, err)
	}

	bounds := src.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrDecodeFailed)
	}
	w, h := scaledSize(bounds.Dx(), bounds.Dy(), shortEdge)

	// JPEG has no alpha channel; transparent pixels land on white.
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return &Result{
		DataURL: imagerepair.FormatDataURL("image/jpeg", base64.StdEncoding.EncodeToString(buf.Bytes())),
		Width:   bounds.Dx(),
		Height:  bounds.Dy(),
	}, nil
}

// scaledSize returns w x h scaled so that min(w, h) <= shortEdge, keeping
// the aspect ratio.
func scaledSize(w, h, shortEdge int) (int, int) {
	short := min(w, h)
	if short <= shortEdge {
		return w, h
	}
	ratio := float64(shortEdge) / float64(short)
	sw := max(1, int(math.Round(float64(w)*ratio)))
	sh := max(1, int(math.Round(float64(h)*ratio)))
	return sw, sh
}
