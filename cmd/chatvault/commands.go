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
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/poiesic/chatvault/archive"
	"github.com/poiesic/chatvault/config"
	"github.com/poiesic/chatvault/sweep"
	"github.com/urfave/cli/v2"
)

func exportCommand(c *cli.Context) error {
	db, err := openDatabase(c, config.WithThumbnails(false))
	if err != nil {
		return err
	}
	defer db.Close()

	a, err := db.Export(c.Context)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	out := c.App.Writer
	var f *os.File
	if path := c.String("output"); path != "-" {
		f, err = os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create archive: %w", err)
		}
		defer f.Close()
		out = f
	}
	if err := a.Write(out); err != nil {
		return err
	}
	if f != nil {
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to write archive: %w", err)
		}
	}

	fmt.Fprintf(c.App.ErrWriter, "Exported %d chats and %d blobs\n", len(a.Chats), len(a.Blobs))
	return nil
}

func importCommand(c *cli.Context) error {
	in := c.App.Reader
	if path := c.String("input"); path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open archive: %w", err)
		}
		defer f.Close()
		in = f
	}
	a, err := archive.Read(in)
	if err != nil {
		return err
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := db.Import(c.Context, a)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Imported %d chats, skipped %d already present\n", res.Imported, res.Skipped)
	return nil
}

func sweepConfig(c *cli.Context) (*sweep.Config, error) {
	cfg := &sweep.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
	}

	// Validate config
	if cfg.BatchSize <= 0 {
		return nil, errors.New("batch-size must be greater than 0")
	}
	if cfg.ReportInterval <= 0 {
		return nil, errors.New("report-interval must be greater than 0")
	}
	if cfg.MaxRetries <= 0 {
		return nil, errors.New("max-retries must be greater than 0")
	}
	return cfg, nil
}

func migrateBlobsCommand(c *cli.Context) error {
	sweepCfg, err := sweepConfig(c)
	if err != nil {
		return err
	}
	db, err := openDatabase(c, config.WithThumbnails(false))
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := db.Stats(c.Context)
	if err != nil {
		return err
	}
	migrator, err := db.NewBlobMigrator(
		sweep.WithConfig(sweepCfg),
		sweep.WithProgress(c.App.ErrWriter, stats.Messages),
	)
	if err != nil {
		return err
	}
	if c.Bool("restart") {
		if err := migrator.Restart(c.Context); err != nil {
			return fmt.Errorf("failed to reset sweep: %w", err)
		}
	}

	result, err := migrator.Run(c.Context)
	if err != nil {
		return fmt.Errorf("inline image sweep failed: %w", err)
	}
	if result.Skipped {
		fmt.Fprintln(c.App.Writer, "Inline image sweep already completed; use --restart to run it again")
		return nil
	}
	fmt.Fprintf(c.App.Writer, "Scanned %d messages, converted %d, %d failed batches\n",
		result.Scanned, result.Converted, result.FailedBatches)
	if result.FailedBatches > 0 {
		return fmt.Errorf("%d batches failed; run migrate-blobs again", result.FailedBatches)
	}
	return nil
}

func repairBlobsCommand(c *cli.Context) error {
	sweepCfg, err := sweepConfig(c)
	if err != nil {
		return err
	}
	db, err := openDatabase(c, config.WithThumbnails(false))
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := db.Stats(c.Context)
	if err != nil {
		return err
	}
	maintainer, err := db.NewMaintainer(
		sweep.WithConfig(sweepCfg),
		sweep.WithProgress(c.App.ErrWriter, stats.Blobs),
	)
	if err != nil {
		return err
	}

	dryRun := c.Bool("dry-run")
	result, err := maintainer.RepairBlobs(c.Context, dryRun)
	if err != nil {
		return fmt.Errorf("blob repair failed: %w", err)
	}
	verb := "repaired"
	if dryRun {
		verb = "would repair"
	}
	fmt.Fprintf(c.App.Writer, "Scanned %d blobs, %d damaged, %s %d, %d failed\n",
		result.Scanned, result.Damaged, verb, result.Repaired, result.Failed)
	return nil
}

func gcBlobsCommand(c *cli.Context) error {
	db, err := openDatabase(c, config.WithThumbnails(false))
	if err != nil {
		return err
	}
	defer db.Close()

	maintainer, err := db.NewMaintainer()
	if err != nil {
		return err
	}
	result, err := maintainer.ReconcileBlobs(c.Context)
	if err != nil {
		return fmt.Errorf("blob reconcile failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Scanned %d blobs, removed %d stale owners, deleted %d blobs\n",
		result.Scanned, result.OwnersRemoved, result.BlobsDeleted)
	return nil
}

func reindexCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	docs, media, err := db.Reindex(c.Context)
	if err != nil {
		return fmt.Errorf("reindex failed: %w", err)
	}
	db.WaitBackground()
	fmt.Fprintf(c.App.Writer, "Rebuilt %d search documents and %d media entries\n", docs, media)
	return nil
}

func searchCommand(c *cli.Context) error {
	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return errors.New("a search query is required")
	}

	db, err := openDatabase(c, config.WithThumbnails(false))
	if err != nil {
		return err
	}
	defer db.Close()

	searcher, err := db.NewSearcher()
	if err != nil {
		return err
	}
	results, err := searcher.Search(c.Context, query, c.Int("limit"))
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "Found %d chats\n", len(results))
	for i, hit := range results {
		title := hit.Title
		if chat, err := db.ChatStore().GetChat(c.Context, hit.ChatID); err == nil && chat != nil {
			title = chat.Title
		}
		fmt.Fprintf(c.App.Writer, "%d: %q (%d) %s\n", i, title, hit.ChatID, hit.Timestamp.Format("2006-01-02 15:04"))
	}
	return nil
}

func statsCommand(c *cli.Context) error {
	db, err := openDatabase(c, config.WithThumbnails(false))
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := db.Stats(c.Context)
	if err != nil {
		return err
	}
	w := c.App.Writer
	fmt.Fprintf(w, "Schema version: %d\n", stats.SchemaVersion)
	fmt.Fprintf(w, "Chats:          %d\n", stats.Chats)
	fmt.Fprintf(w, "Messages:       %d\n", stats.Messages)
	fmt.Fprintf(w, "Blobs:          %d\n", stats.Blobs)
	fmt.Fprintf(w, "Search docs:    %d\n", stats.SearchDocs)
	fmt.Fprintf(w, "Media entries:  %d\n", stats.MediaEntries)
	fmt.Fprintf(w, "Thumbnails:     %d\n", stats.Thumbnails)
	return nil
}
