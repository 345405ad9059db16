// Package journal provides the append-only JSONL logs backing the party
// queues.
//
// Every state transition is written as a full record on its own line and
// records are never rewritten in place. Recovery replays the file and folds
// records by id keeping the latest, which is compaction performed lazily at
// read time.
package journal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Journal appends JSON records to a line-delimited log file.
//
// Journal is not safe for concurrent use; callers serialize appends under
// their own lock so log order matches memory order.
type Journal struct {
	path string
	file *os.File
}

// Open opens the log at path for appending, creating parent directories and
// the file as needed.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	return &Journal{path: path, file: file}, nil
}

// Path returns the log file location.
func (j *Journal) Path() string {
	return j.path
}

// Append marshals record and writes it as one line.
func (j *Journal) Append(record any) error {
	if j == nil || j.file == nil {
		return errors.New("journal is not open")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal journal record: %w", err)
	}
	data = append(data, '\n')
	if _, err := j.file.Write(data); err != nil {
		return fmt.Errorf("append journal record: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (j *Journal) Close() error {
	if j == nil || j.file == nil {
		return nil
	}
	return j.file.Close()
}

// Replay reads the log at path line by line, unmarshalling each record into a
// fresh T and passing it to apply. A missing file is an empty log. Blank lines
// are skipped; a malformed line stops the replay with an error so corruption
// is surfaced rather than silently truncated.
func Replay[T any](path string, apply func(T)) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open journal %s: %w", path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var record T
		if err := json.Unmarshal(raw, &record); err != nil {
			return fmt.Errorf("replay journal %s line %d: %w", path, line, err)
		}
		apply(record)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read journal %s: %w", path, err)
	}
	return nil
}
