package main

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/stancelab/hansard-cli/internal/model"
	"github.com/stancelab/hansard-cli/internal/resolve"
	"github.com/stancelab/hansard-cli/internal/speech"
)

// loadLines reads one entry per line, skipping blanks and # comments.
func loadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open input file %s", path)
	}
	defer f.Close() //nolint:errcheck

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrapf(err, "read input file %s", path)
	}
	return lines, nil
}

// loadWorkItems reads members.txt and topics.txt from the input directory,
// resolves member names against the corpus, and returns the cross product
// of resolved members and topics. Unresolvable names are logged and skipped.
func loadWorkItems(ctx context.Context, speeches speech.Store) ([]model.WorkItem, error) {
	inputDir := cfg.Paths.InputDir()

	names, err := loadLines(filepath.Join(inputDir, "members.txt"))
	if err != nil {
		return nil, err
	}
	topics, err := loadLines(filepath.Join(inputDir, "topics.txt"))
	if err != nil {
		return nil, err
	}
	if len(names) == 0 || len(topics) == 0 {
		return nil, eris.New("members.txt and topics.txt must each name at least one entry")
	}

	resolver, err := resolve.NewResolver(speeches,
		filepath.Join(cfg.Paths.CacheDir(), "member_resolution.json"))
	if err != nil {
		return nil, err
	}
	resolved, err := resolver.ResolveAll(ctx, names)
	if err != nil {
		return nil, err
	}
	if len(resolved) == 0 {
		return nil, eris.New("no member names could be resolved")
	}

	seen := make(map[int]bool, len(resolved))
	ids := make([]int, 0, len(resolved))
	for _, id := range resolved {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)

	items := make([]model.WorkItem, 0, len(ids)*len(topics))
	for _, id := range ids {
		for _, topic := range topics {
			items = append(items, model.WorkItem{MemberID: id, Topic: topic})
		}
	}

	zap.L().Info("work items loaded",
		zap.Int("members", len(resolved)),
		zap.Int("topics", len(topics)),
		zap.Int("pairs", len(items)))
	return items, nil
}
