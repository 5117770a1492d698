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


package main

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand/v2"
	"time"

	"github.com/poiesic/chatvault/core"
	"github.com/poiesic/chatvault/imagerepair"
	"github.com/poiesic/chatvault/storage"
	"github.com/urfave/cli/v2"
)

var sentences = []string{
	"The quick brown fox jumps over the lazy dog.",
	"A gentle breeze rustled the leaves of the old oak tree.",
	"She found a hidden key in the dusty attic.",
	"The city skyline glowed under the starry night sky.",
	"Rain drummed on the rooftop, creating a soothing rhythm.",
	"A bright comet streaked across the horizon at midnight.",
	"The ancient library held stories that never faded.",
	"Beneath the waves, coral gardens shimmered in colors unseen.",
	"A mysterious map led them to a forgotten treasure.",
	"The old clock chimed thirteen times in an abandoned town.",
	"The desert dunes shifted silently under a pale moon.",
	"The lighthouse beam cut through fog, guiding sailors safely.",
	"The abandoned lighthouse still broadcasts its warning every third Tuesday.",
	"Seventeen geese unanimously voted to relocate the pond.",
	"The server room developed opinions about the backup schedule.",
	"The cat debugged the production database at 3 AM.",
	"The rubber duck solved the halting problem but won't tell anyone.",
	"The cache invalidation problem solved itself out of spite.",
	"The mutex died of loneliness.",
	"Git blame pointed at everyone simultaneously.",
	"The watchdog timer fell asleep.",
	"Immutable data structures quietly changed their minds.",
}

var models = []string{"atlas-7b", "borealis-large", "cirrus-mini", "dune-pro"}

func seedCommand(c *cli.Context) error {
	count := c.Int("chats")
	if count <= 0 {
		return fmt.Errorf("chats must be greater than 0")
	}
	seed := c.Int64("seed")
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	s := newSeeder(uint64(seed))
	var previous core.ID
	for i := range count {
		title, msgs, err := s.chat(i)
		if err != nil {
			return err
		}
		opts := storage.CreateOptions{Timestamp: s.start.Add(time.Duration(i) * time.Hour)}
		// Every fifth chat continues the one before it.
		if i%5 == 4 {
			opts.ContinuedFrom = previous
		}
		id, err := db.ChatStore().CreateChat(c.Context, title, msgs, opts)
		if err != nil {
			return fmt.Errorf("failed to create chat %d: %w", i, err)
		}
		previous = id
	}
	db.WaitBackground()

	stats, err := db.Stats(c.Context)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Seeded %d chats (seed %d); database now holds %d chats, %d blobs\n",
		count, seed, stats.Chats, stats.Blobs)
	return nil
}

type seeder struct {
	rng   *rand.Rand
	start time.Time
}

func newSeeder(seed uint64) *seeder {
	return &seeder{
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		start: time.Now().UTC().Add(-30 * 24 * time.Hour).Truncate(time.Millisecond),
	}
}

func (s *seeder) sentence() string {
	return sentences[s.rng.IntN(len(sentences))]
}

func (s *seeder) model() string {
	return models[s.rng.IntN(len(models))]
}

func (s *seeder) text(role core.Role, text string) *core.Message {
	return &core.Message{
		Role:    role,
		Payload: &core.PlainPayload{Contents: []core.ContentGroup{core.TextGroup(text)}},
	}
}

// chat builds the i-th sample chat, cycling through the message variants.
func (s *seeder) chat(i int) (string, []*core.Message, error) {
	title := s.sentence()
	msgs := []*core.Message{s.text(core.RoleUser, s.sentence())}

	switch i % 4 {
	case 0:
		reply := &core.PlainPayload{}
		for range 1 + s.rng.IntN(3) {
			reply.Contents = append(reply.Contents, core.ContentGroup{
				{Type: core.PartThought, Content: s.sentence(), Model: s.model()},
				{Type: core.PartText, Content: s.sentence(), Model: s.model()},
			})
		}
		msgs = append(msgs, &core.Message{Role: core.RoleAssistant, Payload: reply})
	case 1:
		msgs = append(msgs, &core.Message{
			Role: core.RoleAssistant,
			Payload: &core.ArenaPayload{
				ModelA: core.ArenaResponse{Name: s.model(), Messages: []core.ContentGroup{core.TextGroup(s.sentence())}},
				ModelB: core.ArenaResponse{Name: s.model(), Messages: []core.ContentGroup{core.TextGroup(s.sentence())}},
				Choice: core.ArenaModelA,
			},
		})
	case 2:
		responses := make(map[string]core.CouncilResponse)
		for _, m := range models[:2+s.rng.IntN(len(models)-1)] {
			responses[m] = core.CouncilResponse{Name: m, Parts: core.TextGroup(s.sentence())}
		}
		msgs = append(msgs, &core.Message{
			Role: core.RoleAssistant,
			Payload: &core.CouncilPayload{
				Responses:      responses,
				Contents:       []core.ContentGroup{core.TextGroup(s.sentence())},
				CollectorModel: s.model(),
			},
		})
	case 3:
		img, err := s.image()
		if err != nil {
			return "", nil, err
		}
		msgs[0].Images = []string{img}
		msgs = append(msgs, s.text(core.RoleAssistant, s.sentence()))
	}

	msgs = append(msgs, s.text(core.RoleUser, s.sentence()))
	return title, msgs, nil
}

// image renders a small random gradient as a PNG data URL.
func (s *seeder) image() (string, error) {
	w, h := 64+s.rng.IntN(192), 64+s.rng.IntN(192)
	from := color.RGBA{uint8(s.rng.IntN(256)), uint8(s.rng.IntN(256)), uint8(s.rng.IntN(256)), 255}
	to := color.RGBA{uint8(s.rng.IntN(256)), uint8(s.rng.IntN(256)), uint8(s.rng.IntN(256)), 255}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			t := float64(x+y) / float64(w+h-2)
			img.Set(x, y, color.RGBA{
				R: lerp(from.R, to.R, t),
				G: lerp(from.G, to.G, t),
				B: lerp(from.B, to.B, t),
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return imagerepair.FormatDataURL("image/png", base64.StdEncoding.EncodeToString(buf.Bytes())), nil
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*t)
}
