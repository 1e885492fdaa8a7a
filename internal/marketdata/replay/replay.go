// Package replay loads bar files and plays them back at a configurable speed.
//
// Two file formats are understood: a JSON array of
// {timestamp, open, high, low, close, volume} objects, and the same records
// as a msgpack array. Every record must carry all six fields; incomplete or
// invalid records are skipped.
package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"chartcore/internal/model"
)

// ErrUnknownFormat is returned when a file's format cannot be determined.
var ErrUnknownFormat = errors.New("unknown replay format")

// Format names a bar file encoding.
type Format string

const (
	FormatJSON    Format = "json"
	FormatMsgpack Format = "msgpack"
)

// maxGap caps a single scaled sleep between two bars.
const maxGap = 5 * time.Second

// record mirrors one file entry. Pointers distinguish a missing field from
// a zero value.
type record struct {
	Timestamp *float64 `json:"timestamp" msgpack:"timestamp"`
	Open      *float64 `json:"open" msgpack:"open"`
	High      *float64 `json:"high" msgpack:"high"`
	Low       *float64 `json:"low" msgpack:"low"`
	Close     *float64 `json:"close" msgpack:"close"`
	Volume    *float64 `json:"volume" msgpack:"volume"`
}

func (r record) bar() (model.Bar, bool) {
	if r.Timestamp == nil || r.Open == nil || r.High == nil ||
		r.Low == nil || r.Close == nil || r.Volume == nil {
		return model.Bar{}, false
	}
	b := model.Bar{
		Timestamp: *r.Timestamp,
		Open:      *r.Open,
		High:      *r.High,
		Low:       *r.Low,
		Close:     *r.Close,
		Volume:    *r.Volume,
	}
	return b, b.Validate() == nil
}

// Stats reports what Decode kept and dropped.
type Stats struct {
	Records int
	Skipped int
}

// Decode reads bars from r. An empty format sniffs the first non-space
// byte: '[' means JSON, anything else msgpack.
func Decode(r io.Reader, format Format) ([]model.Bar, Stats, error) {
	br := bufio.NewReader(r)
	if format == "" {
		var err error
		if format, err = sniff(br); err != nil {
			return nil, Stats{}, err
		}
	}

	// Elements are decoded one at a time so a malformed record is skipped
	// instead of failing the whole file.
	var raws [][]byte
	switch format {
	case FormatJSON:
		var elems []json.RawMessage
		if err := json.NewDecoder(br).Decode(&elems); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, Stats{}, nil
			}
			return nil, Stats{}, fmt.Errorf("replay: decode json: %w", err)
		}
		for _, e := range elems {
			raws = append(raws, e)
		}
	case FormatMsgpack:
		var elems []msgpack.RawMessage
		if err := msgpack.NewDecoder(br).Decode(&elems); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, Stats{}, nil
			}
			return nil, Stats{}, fmt.Errorf("replay: decode msgpack: %w", err)
		}
		for _, e := range elems {
			raws = append(raws, e)
		}
	default:
		return nil, Stats{}, fmt.Errorf("%w: %q", ErrUnknownFormat, string(format))
	}

	st := Stats{Records: len(raws)}
	bars := make([]model.Bar, 0, len(raws))
	for i, raw := range raws {
		var rec record
		var err error
		if format == FormatJSON {
			err = json.Unmarshal(raw, &rec)
		} else {
			err = msgpack.Unmarshal(raw, &rec)
		}
		if err != nil {
			slog.Debug("replay: skipping malformed record", slog.Int("index", i), slog.Any("err", err))
			st.Skipped++
			continue
		}
		b, ok := rec.bar()
		if !ok {
			st.Skipped++
			continue
		}
		bars = append(bars, b)
	}
	return bars, st, nil
}

func sniff(br *bufio.Reader) (Format, error) {
	for {
		c, err := br.ReadByte()
		if err == io.EOF {
			return FormatJSON, nil
		}
		if err != nil {
			return "", fmt.Errorf("replay: read: %w", err)
		}
		if c == ' ' || c == '\t' || c == '\r' || c == '\n' {
			continue
		}
		if err := br.UnreadByte(); err != nil {
			return "", err
		}
		if c == '[' {
			return FormatJSON, nil
		}
		return FormatMsgpack, nil
	}
}

// FormatFor picks a format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".msgpack", ".mpk", ".mp":
		return FormatMsgpack, nil
	case "":
		return "", nil
	default:
		return "", fmt.Errorf("%w: extension %q", ErrUnknownFormat, filepath.Ext(path))
	}
}

// LoadFile decodes a bar file, choosing the format by extension.
func LoadFile(path string) ([]model.Bar, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("replay: open: %w", err)
	}
	defer f.Close()

	bars, st, err := Decode(f, format)
	if err != nil {
		return nil, err
	}
	if st.Skipped > 0 {
		slog.Warn("replay: skipped incomplete bars",
			slog.String("path", path),
			slog.Int("skipped", st.Skipped),
			slog.Int("records", st.Records))
	}
	slog.Info("replay: loaded bars", slog.String("path", path), slog.Int("bars", len(bars)))
	return bars, nil
}

// Encode writes bars in the given format.
func Encode(w io.Writer, bars []model.Bar, format Format) error {
	switch format {
	case FormatJSON:
		return json.NewEncoder(w).Encode(bars)
	case FormatMsgpack:
		if err := msgpack.NewEncoder(w).Encode(bars); err != nil {
			return fmt.Errorf("replay: encode msgpack: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, string(format))
	}
}

// BarTicks expands a bar into the four-tick path a live feed would most
// plausibly have printed: open, low, high, close for a green bar and open,
// high, low, close for a red one. Volume is split evenly.
func BarTicks(b model.Bar) []model.Tick {
	first, second := b.Low, b.High
	if !b.IsGreen() {
		first, second = b.High, b.Low
	}
	v := b.Volume / 4
	return []model.Tick{
		{Timestamp: b.Timestamp, Price: b.Open, Volume: v},
		{Timestamp: b.Timestamp, Price: first, Volume: v},
		{Timestamp: b.Timestamp, Price: second, Volume: v},
		{Timestamp: b.Timestamp, Price: b.Close, Volume: v},
	}
}

// Replayer emits bars with their original spacing scaled by Speed.
type Replayer struct {
	// Speed is the playback rate: 1 is real time, 10 is 10x, 0 is as fast
	// as possible.
	Speed float64

	// sleep waits for d or until ctx ends; swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewReplayer creates a replayer.
func NewReplayer(speed float64) (*Replayer, error) {
	if speed < 0 {
		return nil, fmt.Errorf("%w: replay speed %v", model.ErrInvalidParameter, speed)
	}
	return &Replayer{Speed: speed, sleep: sleepCtx}, nil
}

// Run sends bars to outCh in order, sleeping between them in proportion to
// the timestamp gap. Each sleep is capped at five seconds. It returns
// ctx.Err() if cancelled before the last bar.
func (r *Replayer) Run(ctx context.Context, bars []model.Bar, outCh chan<- model.Bar) error {
	if len(bars) == 0 {
		slog.Info("replay: nothing to replay")
		return nil
	}
	slog.Info("replay: starting", slog.Int("bars", len(bars)), slog.Float64("speed", r.Speed))

	emitted := 0
	for i, b := range bars {
		if i > 0 && r.Speed > 0 {
			gap := time.Duration((b.Timestamp - bars[i-1].Timestamp) / r.Speed * float64(time.Second))
			if gap > maxGap {
				gap = maxGap
			}
			if gap > 0 {
				if err := r.sleep(ctx, gap); err != nil {
					slog.Info("replay: cancelled", slog.Int("emitted", emitted))
					return err
				}
			}
		}
		select {
		case outCh <- b:
			emitted++
		case <-ctx.Done():
			slog.Info("replay: cancelled", slog.Int("emitted", emitted))
			return ctx.Err()
		}
	}

	slog.Info("replay: completed", slog.Int("emitted", emitted))
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
