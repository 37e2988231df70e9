package adsb

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/yegors/co-atc-safety/internal/safety"
)

// ErrExhausted is returned once a recording has been fully replayed
var ErrExhausted = errors.New("recording exhausted")

const maxSnapshotLine = 16 << 20

// FileSource replays a recording with one aircraft.json document per line
type FileSource struct {
	name string
	path string

	mu      sync.Mutex
	file    *os.File
	scanner *bufio.Scanner
	line    int
}

// NewFileSource opens a recording
func NewFileSource(name, path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recording %s: %w", path, err)
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxSnapshotLine)

	return &FileSource{name: name, path: path, file: f, scanner: scanner}, nil
}

// Name returns the configured source name
func (s *FileSource) Name() string {
	return s.name
}

// Fetch returns the aircraft of the next recorded snapshot
func (s *FileSource) Fetch(ctx context.Context) ([]safety.AircraftState, error) {
	snap, err := s.Next(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Aircraft, nil
}

// Next decodes the next non-empty line. Snapshots without "now" are stamped with the current time.
func (s *FileSource) Next(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return Snapshot{}, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return Snapshot{}, fmt.Errorf("failed to read %s: %w", s.path, err)
			}
			return Snapshot{}, ErrExhausted
		}
		s.line++

		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		snap, err := DecodeAircraftJSON(line, time.Now().UTC())
		if err != nil {
			return Snapshot{}, fmt.Errorf("%s line %d: %w", s.path, s.line, err)
		}
		return snap, nil
	}
}

// Close releases the underlying file
func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
