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
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/poiesic/chatvault"
	"github.com/poiesic/chatvault/config"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "chatvault",
		Usage: "Chat transcript storage maintenance",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML configuration file",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "export",
				Usage:  "Write every chat and its images to a JSON archive",
				Action: exportCommand,
				Flags: []cli.Flag{
					dbFlag(),
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Archive file to write, - for stdout",
						Value:   "-",
					},
				},
			},
			{
				Name:   "import",
				Usage:  "Load a JSON archive, skipping chats already present",
				Action: importCommand,
				Flags: []cli.Flag{
					dbFlag(),
					&cli.StringFlag{
						Name:    "input",
						Aliases: []string{"i"},
						Usage:   "Archive file to read, - for stdin",
						Value:   "-",
					},
				},
			},
			{
				Name:   "migrate-blobs",
				Usage:  "Move inline image data left in messages into the blob store",
				Action: migrateBlobsCommand,
				Flags: append([]cli.Flag{
					dbFlag(),
					&cli.BoolFlag{
						Name:  "restart",
						Usage: "Discard the saved checkpoint and sweep from the beginning",
					},
				}, batchFlags()...),
			},
			{
				Name:   "repair-blobs",
				Usage:  "Repair corrupted base64 image data in the blob store",
				Action: repairBlobsCommand,
				Flags: append([]cli.Flag{
					dbFlag(),
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Report damaged blobs without rewriting them",
					},
				}, batchFlags()...),
			},
			{
				Name:   "gc-blobs",
				Usage:  "Drop stale blob owners and delete blobs nothing references",
				Action: gcBlobsCommand,
				Flags:  []cli.Flag{dbFlag()},
			},
			{
				Name:   "reindex",
				Usage:  "Rebuild the search and media indexes and regenerate thumbnails",
				Action: reindexCommand,
				Flags:  []cli.Flag{dbFlag()},
			},
			{
				Name:      "search",
				Usage:     "Find chats whose title or content contains every query word",
				ArgsUsage: "QUERY...",
				Action:    searchCommand,
				Flags: []cli.Flag{
					dbFlag(),
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Usage:   "Maximum number of results, 0 for all",
						Value:   10,
					},
				},
			},
			{
				Name:   "stats",
				Usage:  "Print record counts of every store",
				Action: statsCommand,
				Flags:  []cli.Flag{dbFlag()},
			},
			{
				Name:   "seed",
				Usage:  "Write sample chats of every message variant",
				Action: seedCommand,
				Flags: []cli.Flag{
					dbFlag(),
					&cli.IntFlag{
						Name:    "chats",
						Aliases: []string{"n"},
						Usage:   "Number of chats to create",
						Value:   10,
					},
					&cli.Int64Flag{
						Name:  "seed",
						Usage: "Random seed, 0 picks one from the clock",
					},
				},
			},
		},
	}
}

func dbFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "db",
		Aliases: []string{"d"},
		Usage:   "Path to BadgerDB database directory (overrides the config file)",
		EnvVars: []string{"CHATVAULT_DB"},
	}
}

func batchFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "batch-size",
			Usage: "Number of records to process in each batch",
			Value: 100,
		},
		&cli.IntFlag{
			Name:  "report-interval",
			Usage: "Report progress every N records",
			Value: 100,
		},
		&cli.IntFlag{
			Name:  "max-retries",
			Usage: "Maximum retry attempts for failed operations",
			Value: 3,
		},
		&cli.DurationFlag{
			Name:  "retry-delay",
			Usage: "Base delay for exponential backoff",
			Value: 1 * time.Second,
		},
	}
}

// loadConfig builds the configuration from the --config file, if any, and
// the --db flag. Background sweeping is left to the migrate-blobs command.
func loadConfig(c *cli.Context, opts ...config.ConfigOption) (*config.Config, error) {
	opts = append([]config.ConfigOption{config.WithBackgroundSweep(false)}, opts...)
	if dbPath := c.String("db"); dbPath != "" {
		opts = append(opts, config.WithPath(dbPath))
	}

	if path := c.String("config"); path != "" {
		return config.Load(path, opts...)
	}
	return config.NewConfig(opts...), nil
}

func openDatabase(c *cli.Context, opts ...config.ConfigOption) (*chatvault.Database, error) {
	cfg, err := loadConfig(c, opts...)
	if err != nil {
		return nil, err
	}
	db, err := chatvault.NewDatabase("", chatvault.WithConfig(cfg), chatvault.WithLogger(slog.Default()))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func setupLogger(c *cli.Context) error {
	level, err := config.ParseLevel(c.String("log-level"))
	if err != nil {
		return err
	}

	// Configure slog with the specified level
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
