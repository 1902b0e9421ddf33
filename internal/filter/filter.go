// Package filter writes copies of logs with selected topics removed.
package filter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/animus-labs/replay-testing/internal/domain"
	"github.com/animus-labs/replay-testing/internal/logstore"
)

// Filter copies inputPath to outputPath without the excluded topics. Topic
// declarations, timestamps, sequence numbers and payloads of the kept topics are
// preserved and messages keep their file order. outputPath only appears once the
// copy is complete.
func Filter(ctx context.Context, store logstore.Store, inputPath, outputPath string, excluded []string) error {
	drop := make(map[string]struct{}, len(excluded))
	for _, t := range excluded {
		drop[t] = struct{}{}
	}

	in, err := store.Open(inputPath)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrFilter, err)
	}
	defer in.Close()

	topics, err := in.Topics()
	if err != nil {
		return fmt.Errorf("%w: list topics of %s: %v", domain.ErrFilter, inputPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrFilter, err)
	}
	partial := outputPath + ".part"
	if err := copyTopics(ctx, in, store, partial, topics, drop); err != nil {
		_ = os.Remove(partial)
		return err
	}
	if err := os.Rename(partial, outputPath); err != nil {
		_ = os.Remove(partial)
		return fmt.Errorf("%w: %v", domain.ErrFilter, err)
	}
	return nil
}

func copyTopics(ctx context.Context, in logstore.Reader, store logstore.Store, path string, topics []logstore.Topic, drop map[string]struct{}) (err error) {
	out, err := store.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrFilter, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: close %s: %v", domain.ErrFilter, path, cerr)
		}
	}()

	kept := make([]string, 0, len(topics))
	for _, t := range topics {
		if _, ok := drop[t.Name]; ok {
			continue
		}
		t.MessageCount = 0
		if err := out.CreateTopic(t); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrFilter, err)
		}
		kept = append(kept, t.Name)
	}
	if len(kept) == 0 {
		return nil
	}

	for msg, err := range in.Messages(kept...) {
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrFilter, err)
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrFilter, err)
		}
		if err := out.Write(msg); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrFilter, err)
		}
	}
	return nil
}
