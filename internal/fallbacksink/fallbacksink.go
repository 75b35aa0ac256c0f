// Package fallbacksink implements the daily-rolling JSONL file sink (C5)
// that the coordinator writes to when the primary store is unreachable or
// degraded, and that the recovery worker later reads back from.
package fallbacksink

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/fieldpulse/daqagent/internal/logging"
	"github.com/fieldpulse/daqagent/internal/sample"
)

const (
	filePrefix    = "data_"
	fileExt       = ".jsonl"
	dateLayout    = "20060102"
	archiveSubdir = "archive"
)

// Sink writes Samples to a local, append-only, daily-rolling JSONL file and
// later reads them back for C6's replay pass. Writes are serialized by mu,
// per spec.md §4.5.
type Sink struct {
	mu  sync.Mutex
	dir string
}

// New constructs a Sink rooted at dir, creating dir (and its archive
// subdirectory) if absent.
func New(dir string) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create fallback directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, archiveSubdir), 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	return &Sink{dir: dir}, nil
}

// lineRecord is the on-disk representation of one Sample: one JSON object
// per line, no embedded newlines.
type lineRecord struct {
	ServerID       string     `json:"serverId"`
	ServerName     string     `json:"serverName,omitempty"`
	ReceiveTimeUTC time.Time  `json:"receiveTimeUtc"`
	NodeID         string     `json:"nodeId"`
	DisplayName    string     `json:"displayName,omitempty"`
	BrowsePath     string     `json:"browsePath,omitempty"`
	DataType       string     `json:"dataType,omitempty"`
	Value          valueWire  `json:"value"`
	SourceTime     *time.Time `json:"sourceTime,omitempty"`
	ServerTime     *time.Time `json:"serverTime,omitempty"`
	StatusCode     uint32     `json:"statusCode"`
	Quality        string     `json:"quality"`
}

// valueWire carries sample.Value's Kind tag alongside its encoded payload
// so a round trip through the file reproduces the original union member.
type valueWire struct {
	Kind  int             `json:"kind"`
	Bool  bool            `json:"bool,omitempty"`
	I64   int64           `json:"i64,omitempty"`
	U64   uint64          `json:"u64,omitempty"`
	F32   float32         `json:"f32,omitempty"`
	F64   float64         `json:"f64,omitempty"`
	Str   string          `json:"str,omitempty"`
	Bytes []byte          `json:"bytes,omitempty"`
	Time  time.Time       `json:"time,omitempty"`
	Array []valueWire     `json:"array,omitempty"`
}

func encodeValue(v sample.Value) valueWire {
	w := valueWire{Kind: int(v.Kind)}
	switch v.Kind {
	case sample.KindBool:
		w.Bool = v.Bool
	case sample.KindInt64:
		w.I64 = v.Int64
	case sample.KindUint64:
		w.U64 = v.Uint64
	case sample.KindFloat32:
		w.F32 = v.Float32
	case sample.KindFloat64:
		w.F64 = v.Float64
	case sample.KindDecimal:
		w.Str = v.Decimal
	case sample.KindString:
		w.Str = v.Str
	case sample.KindBytes:
		w.Bytes = v.Bytes
	case sample.KindTimestamp:
		w.Time = v.Time
	case sample.KindUUID:
		w.Str = v.UUID.String()
	case sample.KindArray:
		w.Array = make([]valueWire, len(v.Array))
		for i, e := range v.Array {
			w.Array[i] = encodeValue(e)
		}
	}
	return w
}

func decodeValue(w valueWire) (sample.Value, error) {
	switch sample.Kind(w.Kind) {
	case sample.KindNull:
		return sample.NewNull(), nil
	case sample.KindBool:
		return sample.NewBool(w.Bool), nil
	case sample.KindInt64:
		return sample.NewInt64(w.I64), nil
	case sample.KindUint64:
		return sample.NewUint64(w.U64), nil
	case sample.KindFloat32:
		return sample.NewFloat32(w.F32), nil
	case sample.KindFloat64:
		return sample.NewFloat64(w.F64), nil
	case sample.KindDecimal:
		return sample.NewDecimal(w.Str), nil
	case sample.KindString:
		return sample.NewString(w.Str), nil
	case sample.KindBytes:
		return sample.NewBytes(w.Bytes), nil
	case sample.KindTimestamp:
		return sample.NewTimestamp(w.Time), nil
	case sample.KindUUID:
		id, err := uuid.Parse(w.Str)
		if err != nil {
			return sample.Value{}, fmt.Errorf("parse uuid %q: %w", w.Str, err)
		}
		return sample.NewUUID(id), nil
	case sample.KindArray:
		elems := make([]sample.Value, len(w.Array))
		for i, e := range w.Array {
			v, err := decodeValue(e)
			if err != nil {
				return sample.Value{}, err
			}
			elems[i] = v
		}
		return sample.NewArray(elems), nil
	default:
		return sample.Value{}, fmt.Errorf("unknown value kind %d", w.Kind)
	}
}

func toRecord(s sample.Sample) lineRecord {
	return lineRecord{
		ServerID:       s.ServerID,
		ServerName:     s.ServerName,
		ReceiveTimeUTC: s.ReceiveTimeUTC,
		NodeID:         s.NodeID,
		DisplayName:    s.DisplayName,
		BrowsePath:     s.BrowsePath,
		DataType:       s.DataType,
		Value:          encodeValue(s.Value),
		SourceTime:     s.SourceTime,
		ServerTime:     s.ServerTime,
		StatusCode:     s.StatusCode,
		Quality:        string(s.Quality),
	}
}

func fromRecord(r lineRecord) (sample.Sample, error) {
	v, err := decodeValue(r.Value)
	if err != nil {
		return sample.Sample{}, err
	}
	return sample.Sample{
		ServerID:       r.ServerID,
		ServerName:     r.ServerName,
		ReceiveTimeUTC: r.ReceiveTimeUTC,
		NodeID:         r.NodeID,
		DisplayName:    r.DisplayName,
		BrowsePath:     r.BrowsePath,
		DataType:       r.DataType,
		Value:          v,
		SourceTime:     r.SourceTime,
		ServerTime:     r.ServerTime,
		StatusCode:     r.StatusCode,
		Quality:        sample.Quality(r.Quality),
	}, nil
}

func currentFileName() string {
	return filePrefix + time.Now().UTC().Format(dateLayout) + fileExt
}

// Write appends every Sample in batch as one JSON line each to the file
// for the current UTC date, creating it if absent, and best-effort flushes
// before returning.
func (s *Sink) Write(batch []sample.Sample) error {
	if len(batch) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, currentFileName())
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open fallback file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, smp := range batch {
		line, err := json.Marshal(toRecord(smp))
		if err != nil {
			return fmt.Errorf("marshal sample: %w", err)
		}
		if _, err := w.Write(line); err != nil {
			return fmt.Errorf("write line: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return f.Sync()
}

// ListPending returns pending file paths in the fallback directory, sorted
// chronologically (lexicographic on the YYYYMMDD filename component, per
// spec.md §4.5).
func (s *Sink) ListPending() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list fallback directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileExt) {
			paths = append(paths, filepath.Join(s.dir, name))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// ReadFile yields the Samples in path, tolerant of individual malformed
// lines — a bad line is skipped with a warning, not fatal to the file.
func (s *Sink) ReadFile(path string) ([]sample.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var out []sample.Sample
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var rec lineRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			logging.Warn().Err(err).Str("file", path).Int("line", lineNum).Msg("fallback sink: skipping malformed line")
			continue
		}
		smp, err := fromRecord(rec)
		if err != nil {
			logging.Warn().Err(err).Str("file", path).Int("line", lineNum).Msg("fallback sink: skipping line with invalid value")
			continue
		}
		out = append(out, smp)
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("scan %s: %w", path, err)
	}
	return out, nil
}

// Archive atomically renames path into the sink's archive subdirectory,
// uniquifying on collision by suffixing the current UTC time-of-day.
func (s *Sink) Archive(path string) error {
	base := filepath.Base(path)
	dest := filepath.Join(s.dir, archiveSubdir, base)

	if _, err := os.Stat(dest); err == nil {
		suffix := time.Now().UTC().Format("_150405")
		ext := filepath.Ext(base)
		name := strings.TrimSuffix(base, ext)
		dest = filepath.Join(s.dir, archiveSubdir, name+suffix+ext)
	}

	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("archive %s: %w", path, err)
	}
	return nil
}

// HealthCheck verifies writability by creating and deleting a probe file.
func (s *Sink) HealthCheck() error {
	probe := filepath.Join(s.dir, ".healthcheck")
	f, err := os.Create(probe)
	if err != nil {
		return fmt.Errorf("probe create: %w", err)
	}
	_ = f.Close()
	if err := os.Remove(probe); err != nil {
		return fmt.Errorf("probe remove: %w", err)
	}
	return nil
}
