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


package search

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/poiesic/chatvault/core"
	"github.com/poiesic/chatvault/storage"
)

// Result is one chat matching a query.
type Result struct {
	ChatID       core.ID
	Title        string // normalized title
	Timestamp    time.Time
	TitleMatch   bool
	ContentMatch bool
}

// Searcher matches queries against the search documents.
type Searcher struct {
	index  storage.SearchIndex
	logger *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// NewSearcher creates a new searcher.
func NewSearcher(index storage.SearchIndex, opts ...Option) (*Searcher, error) {
	if index == nil {
		return nil, ErrSearchIndexRequired
	}

	s := &Searcher{
		index:  index,
		logger: slog.Default(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Search returns chats whose title or content contains every query token,
// newest first. A limit of zero or less returns every match.
func (s *Searcher) Search(ctx context.Context, query string, limit int) ([]*Result, error) {
	return s.SearchWithMonitor(ctx, query, limit, nil)
}

// SearchWithMonitor is Search with callbacks at each stage.
func (s *Searcher) SearchWithMonitor(ctx context.Context, query string, limit int, monitor SearchMonitor) ([]*Result, error) {
	// Use noop monitor if none provided
	if monitor == nil {
		monitor = &noopMonitor{}
	}

	monitor.Start(query)

	tokens := queryTokens(query)
	monitor.AfterTokenize(tokens)
	if len(tokens) == 0 {
		monitor.Finish(nil)
		return []*Result{}, nil
	}

	var results []*Result
	scanned := 0
	err := s.index.ForEachSearchDoc(ctx, func(doc *core.SearchDoc) bool {
		scanned++
		titleMatch := containsAllQueryWords(doc.SearchTitle, tokens)
		contentMatch := containsAllQueryWords(doc.Content, tokens)
		if !titleMatch && !contentMatch && !containsAllQueryWords(doc.SearchTitle+" "+doc.Content, tokens) {
			return true
		}
		r := &Result{
			ChatID:       doc.ChatID,
			Title:        doc.SearchTitle,
			Timestamp:    doc.Timestamp,
			TitleMatch:   titleMatch,
			ContentMatch: contentMatch,
		}
		monitor.Hit(r)
		results = append(results, r)
		return true
	})
	if err != nil {
		s.logger.Error("error scanning search documents", "err", err)
		return nil, err
	}

	slices.SortStableFunc(results, func(a, b *Result) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(a.Title, b.Title)
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	s.logger.Debug("search complete", "query", query, "tokens", len(tokens), "scanned", scanned, "hits", len(results))
	monitor.Finish(results)
	if results == nil {
		results = []*Result{}
	}
	return results, nil
}
