package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/dali-core/internal/dali"
	"github.com/nerrad567/dali-core/internal/infrastructure/database"
)

// Recorder row-logs bus activity to SQLite for commissioning and
// diagnosis. It implements FrameLog.
//
// Writes are synchronous single-row inserts; at 1200 baud the bus
// cannot outrun SQLite.
type Recorder struct {
	db *database.DB
}

// NewRecorder creates a recorder backed by the given database.
// The bus_telegrams and bus_decode_errors tables come from migrations.
func NewRecorder(db *database.DB) *Recorder {
	return &Recorder{db: db}
}

// RecordFrame inserts one observed or transmitted frame.
func (r *Recorder) RecordFrame(ctx context.Context, direction string, f dali.Frame, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO bus_telegrams (observed_at, direction, bits, code) VALUES (?, ?, ?, ?)",
		at.UTC().Format(time.RFC3339Nano),
		direction,
		int(f.Length),
		int64(f.Code),
	)
	if err != nil {
		return fmt.Errorf("recording frame: %w", err)
	}
	return nil
}

// RecordDecodeError inserts one decode failure, including the symbol
// trail leading up to it.
func (r *Recorder) RecordDecodeError(ctx context.Context, e *dali.DecodeError) error {
	symbols := make([]string, len(e.Symbols))
	for i, s := range e.Symbols {
		symbols[i] = s.String()
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO bus_decode_errors (observed_at, kind, position, symbols) VALUES (?, ?, ?, ?)",
		e.At.UTC().Format(time.RFC3339Nano),
		e.Kind.String(),
		e.Position,
		strings.Join(symbols, ","),
	)
	if err != nil {
		return fmt.Errorf("recording decode error: %w", err)
	}
	return nil
}
