// Package eventlog reads and writes session logs stored as JSON Lines.
package eventlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/stravu/crystal-sub000/internal/model"
)

// ErrStop can be returned from an Iterate callback to end iteration early
// without an error.
var ErrStop = errors.New("stop iteration")

// ReadFile loads every event of the session file at path.
func ReadFile(path string) ([]model.RawEvent, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open session file: %w", err)
	}
	defer file.Close() //nolint:errcheck

	return Read(file)
}

// Read loads every event from r.
func Read(r io.Reader) ([]model.RawEvent, error) {
	var events []model.RawEvent
	err := Scan(r, func(_ int, ev model.RawEvent) error {
		events = append(events, ev)
		return nil
	})
	return events, err
}

// Iterate walks the session file at path and calls fn for each event.
func Iterate(path string, fn func(line int, ev model.RawEvent) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open session file: %w", err)
	}
	defer file.Close() //nolint:errcheck

	return Scan(file, fn)
}

// Scan decodes one event per non-blank line. Lines that are not JSON are
// passed on as json events whose data does not parse, so transformers can
// log and drop them.
func Scan(r io.Reader, fn func(line int, ev model.RawEvent) error) error {
	scanner := newScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		rec := bytes.TrimSpace(scanner.Bytes())
		if len(rec) == 0 {
			continue
		}

		ev, err := model.NewRecord(rec)
		if err != nil {
			ev = model.NewWrapped(model.EventJSON, string(rec), "")
		}
		if err := fn(line, ev); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan session: %w", err)
	}
	return nil
}

// Write encodes events as JSON Lines. Records are written as read, without
// HTML escaping.
func Write(w io.Writer, events []model.RawEvent) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for i, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("encode event %d: %w", i, err)
		}
	}
	return bw.Flush()
}

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	// Allow large payloads such as tool outputs and instruction blocks.
	const maxCapacity = 8 * 1024 * 1024
	buf := make([]byte, 1024)
	scanner.Buffer(buf, maxCapacity)
	return scanner
}
