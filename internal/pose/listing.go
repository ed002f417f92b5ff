package pose

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// RecordMarker separates records in a pose listing.
const RecordMarker = "#"

// Record is one parsed pose entry.
type Record struct {
	ImageID     string
	Orientation Quaternion
}

// ParseError reports a malformed record in a pose listing.
type ParseError struct {
	Record int // 1-based record ordinal
	Image  string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Image == "" {
		return fmt.Sprintf("pose record %d: %s", e.Record, e.Reason)
	}
	return fmt.Sprintf("pose record %d (%s): %s", e.Record, e.Image, e.Reason)
}

// ParseListing reads a pose listing and returns image name -> orientation.
// Text before the first marker is ignored. Each record is an image name line
// followed by a line of four whitespace separated floats; later lines in a
// record are ignored. If a name appears twice the last record wins.
func ParseListing(r io.Reader) (map[string]Quaternion, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	chunks := strings.Split(string(raw), RecordMarker)
	poses := make(map[string]Quaternion, len(chunks))

	for i, chunk := range chunks[1:] {
		rec, err := parseRecord(i+1, chunk)
		if err != nil {
			return nil, err
		}

		if _, ok := poses[rec.ImageID]; ok {
			log.WithFields(log.Fields{"image": rec.ImageID, "record": i + 1}).
				Debug("duplicate pose record, keeping the last one")
		}
		poses[rec.ImageID] = rec.Orientation
	}

	return poses, nil
}

func parseRecord(ordinal int, chunk string) (Record, error) {
	lines := strings.Split(strings.ReplaceAll(chunk, "\r\n", "\n"), "\n")

	name := strings.TrimSpace(lines[0])
	if name == "" {
		return Record{}, &ParseError{Record: ordinal, Reason: "missing image name"}
	}
	if len(lines) < 2 {
		return Record{}, &ParseError{Record: ordinal, Image: name, Reason: "missing quaternion line"}
	}

	fields := strings.Fields(lines[1])
	if len(fields) != 4 {
		return Record{}, &ParseError{Record: ordinal, Image: name,
			Reason: fmt.Sprintf("expected 4 quaternion components, got %d", len(fields))}
	}

	var q Quaternion
	for j, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return Record{}, &ParseError{Record: ordinal, Image: name,
				Reason: fmt.Sprintf("component %d: %q is not a number", j, f)}
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Record{}, &ParseError{Record: ordinal, Image: name,
				Reason: fmt.Sprintf("component %d is not finite", j)}
		}
		q[j] = v
	}

	return Record{ImageID: name, Orientation: q}, nil
}
