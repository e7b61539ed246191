// Package ranges maps the symbolic range keys accepted by the API to a
// look-back window and a bucket width.
package ranges

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxBuckets bounds the size of a single series response.
const MaxBuckets = 1440

// CalendarMonth buckets samples by the first day of their UTC month.
const CalendarMonth = "month"

var ErrInvalidRange = errors.New("invalid range")

//go:embed ranges.yaml
var defaultTable []byte

// Spec describes one range key.
type Spec struct {
	Key         string        `yaml:"key"`
	Lookback    time.Duration `yaml:"lookback"`
	BucketWidth time.Duration `yaml:"bucket"`
	// Points > 0 marks a fixed-cardinality range: the output always holds
	// exactly Points buckets, empty ones included.
	Points   int    `yaml:"points"`
	Calendar string `yaml:"calendar"`
}

func (s Spec) Fixed() bool {
	return s.Points > 0
}

// Cutoff is the oldest instant included in the window ending at now.
func (s Spec) Cutoff(now time.Time) time.Time {
	return now.Add(-s.Lookback)
}

// BucketStart returns the start of the bucket t falls into.
func (s Spec) BucketStart(t time.Time) time.Time {
	t = t.UTC()
	if s.Calendar == CalendarMonth {
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	w := int64(s.BucketWidth / time.Second)
	sec := t.Unix()
	b := sec / w * w
	if sec < 0 && sec%w != 0 {
		b -= w
	}
	return time.Unix(b, 0).UTC()
}

// Grid returns every bucket start of a fixed-cardinality range, oldest first,
// with the last one being the bucket that contains now. It returns nil for
// raw ranges.
func (s Spec) Grid(now time.Time) []time.Time {
	if !s.Fixed() {
		return nil
	}
	last := s.BucketStart(now)
	grid := make([]time.Time, s.Points)
	for i := 0; i < s.Points; i++ {
		back := s.Points - 1 - i
		if s.Calendar == CalendarMonth {
			grid[i] = last.AddDate(0, -back, 0)
		} else {
			grid[i] = last.Add(-time.Duration(back) * s.BucketWidth)
		}
	}
	return grid
}

func (s Spec) validate() error {
	if s.Key == "" {
		return errors.New("range without key")
	}
	if s.Lookback <= 0 {
		return fmt.Errorf("range %s: lookback must be positive", s.Key)
	}
	switch s.Calendar {
	case "":
		if s.BucketWidth < time.Second || s.BucketWidth%time.Second != 0 {
			return fmt.Errorf("range %s: bucket width must be a whole number of seconds", s.Key)
		}
		if n := int(s.Lookback / s.BucketWidth); n < 1 || n > MaxBuckets {
			return fmt.Errorf("range %s: %d buckets outside [1, %d]", s.Key, n, MaxBuckets)
		}
		if s.Fixed() && time.Duration(s.Points)*s.BucketWidth > s.Lookback {
			return fmt.Errorf("range %s: %d points do not fit the lookback", s.Key, s.Points)
		}
	case CalendarMonth:
		if !s.Fixed() {
			return fmt.Errorf("range %s: calendar ranges need points", s.Key)
		}
	default:
		return fmt.Errorf("range %s: unknown calendar %q", s.Key, s.Calendar)
	}
	if s.Points > MaxBuckets {
		return fmt.Errorf("range %s: %d points exceed %d", s.Key, s.Points, MaxBuckets)
	}
	return nil
}

// Policy is the immutable range table.
type Policy struct {
	specs map[string]Spec
	keys  []string
}

type table struct {
	Ranges []Spec `yaml:"ranges"`
}

// Load decodes and validates a YAML range table.
func Load(r io.Reader) (*Policy, error) {
	var t table
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("decode range table: %w", err)
	}
	if len(t.Ranges) == 0 {
		return nil, errors.New("range table is empty")
	}

	p := &Policy{specs: make(map[string]Spec, len(t.Ranges))}
	for _, s := range t.Ranges {
		if err := s.validate(); err != nil {
			return nil, err
		}
		if _, dup := p.specs[s.Key]; dup {
			return nil, fmt.Errorf("range %s defined twice", s.Key)
		}
		p.specs[s.Key] = s
		p.keys = append(p.keys, s.Key)
	}
	return p, nil
}

// LoadFile reads a range table from path, or the built-in table when path
// is empty.
func LoadFile(path string) (*Policy, error) {
	if path == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open range table: %w", err)
	}
	defer f.Close()
	return Load(f)
}

func Default() (*Policy, error) {
	return Load(bytes.NewReader(defaultTable))
}

// Resolve looks key up. Unknown keys yield ErrInvalidRange; no default is
// substituted.
func (p *Policy) Resolve(key string) (Spec, error) {
	s, ok := p.specs[key]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q", ErrInvalidRange, key)
	}
	return s, nil
}

// Keys returns the range keys in table order.
func (p *Policy) Keys() []string {
	return append([]string(nil), p.keys...)
}
