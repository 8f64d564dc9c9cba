// Package review keeps raw records that failed normalization so an operator
// can inspect them. Each case id gets its own JSON Lines file.
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JustJay7/court-lead-harvester/pkg/logger"
	"github.com/google/uuid"
)

// Entry is one line of a review file
type Entry struct {
	ID        string          `json:"id"`
	CaseID    string          `json:"case_id"`
	RawRecord json.RawMessage `json:"raw_record"`
	Reason    string          `json:"reason"`
	Timestamp time.Time       `json:"timestamp"`
}

// FileSink appends review entries under a directory
type FileSink struct {
	dir    string
	logger *logger.Logger
	mu     sync.Mutex
	now    func() time.Time
}

func NewFileSink(dir string, log *logger.Logger) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create review directory: %w", err)
	}
	return &FileSink{dir: dir, logger: log, now: time.Now}, nil
}

// fileName escapes caseID reversibly so distinct ids never share a file
func fileName(caseID string) string {
	return url.PathEscape(caseID) + ".jsonl"
}

// Write appends raw with the reason it was rejected
func (s *FileSink) Write(ctx context.Context, caseID string, raw any, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(raw)
	if err != nil {
		body, _ = json.Marshal(fmt.Sprintf("%+v", raw))
	}
	line, err := json.Marshal(Entry{
		ID:        uuid.NewString(),
		CaseID:    caseID,
		RawRecord: body,
		Reason:    reason,
		Timestamp: s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode review entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, fileName(caseID))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open review file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write review entry: %w", err)
	}

	s.logger.Warn("Record sent to review", "case_id", caseID, "reason", reason, "path", path)
	return nil
}

// Entries reads back the review entries of one case
func (s *FileSink) Entries(caseID string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, fileName(caseID)))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("corrupt review entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// CaseIDs lists the cases that have review entries
func (s *FileSink) CaseIDs() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(s.dir, "*.jsonl"))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(files))
	for _, f := range files {
		name := strings.TrimSuffix(filepath.Base(f), ".jsonl")
		if id, err := url.PathUnescape(name); err == nil {
			name = id
		}
		ids = append(ids, name)
	}
	sort.Strings(ids)
	return ids, nil
}
