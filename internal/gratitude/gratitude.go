// Package gratitude counts thanks and WikiLove messages sent by a user from
// the per-language CSV exports. Exports live under
// {lang}/outputs/ in a storage backend and carry at least the columns
// timestamp and sender_id.
package gratitude

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/civilservant/gratsample/internal/storage"
)

// Kind selects an export.
type Kind string

const (
	Thank Kind = "thank"
	Love  Kind = "love"
)

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"20060102150405",
	"2006-01-02",
}

type event struct {
	at     time.Time
	sender int64
}

// Store loads each export once and answers counts from memory.
type Store struct {
	store storage.Storage

	mu     sync.Mutex
	loaded map[string][]event
}

func NewStore(store storage.Storage) *Store {
	return &Store{store: store, loaded: make(map[string][]event)}
}

// Count returns how many kind events senderID sent in [start, end). ok is
// false when lang has no export of that kind.
func (s *Store) Count(ctx context.Context, lang string, kind Kind, senderID int64, start, end time.Time) (n int, ok bool, err error) {
	key, err := s.find(ctx, lang, kind)
	if err != nil || key == "" {
		return 0, false, err
	}
	events, err := s.load(ctx, key)
	if err != nil {
		return 0, false, err
	}
	for _, e := range events {
		if e.sender == senderID && !e.at.Before(start) && e.at.Before(end) {
			n++
		}
	}
	return n, true, nil
}

func (s *Store) find(ctx context.Context, lang string, kind Kind) (string, error) {
	keys, err := s.store.List(ctx, lang+"/outputs")
	if err != nil {
		return "", fmt.Errorf("gratitude: list %s exports: %w", lang, err)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.Contains(path.Base(k), string(kind)) {
			return k, nil
		}
	}
	return "", nil
}

func (s *Store) load(ctx context.Context, key string) ([]event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if events, ok := s.loaded[key]; ok {
		return events, nil
	}
	data, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("gratitude: read %s: %w", key, err)
	}
	events, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("gratitude: parse %s: %w", key, err)
	}
	s.loaded[key] = events
	return events, nil
}

func parse(data []byte) ([]event, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, err
	}
	tsCol, senderCol := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(h) {
		case "timestamp":
			tsCol = i
		case "sender_id":
			senderCol = i
		}
	}
	if tsCol < 0 || senderCol < 0 {
		return nil, errors.New("missing timestamp or sender_id column")
	}

	var events []event
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if tsCol >= len(rec) || senderCol >= len(rec) {
			continue
		}
		// ids in columns with gaps are exported as floats, e.g. "123.0"
		sender, err := strconv.ParseFloat(strings.TrimSpace(rec[senderCol]), 64)
		if err != nil {
			continue
		}
		at, err := parseTime(strings.TrimSpace(rec[tsCol]))
		if err != nil {
			return nil, err
		}
		events = append(events, event{at: at, sender: int64(sender)})
	}
	return events, nil
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
