package storage

import (
	"context"
	"fmt"

	"github.com/roman-kulish/spectrum-scanner/internal/spectrum"
)

// RecordingSink adapts a Store to the engine's row sink interface, recording
// every published row under one session.
type RecordingSink struct {
	store     Store
	sessionID int64
}

// NewRecordingSink creates a sink recording rows under sessionID.
func NewRecordingSink(store Store, sessionID int64) *RecordingSink {
	return &RecordingSink{store: store, sessionID: sessionID}
}

func (s *RecordingSink) HandleRow(ctx context.Context, row spectrum.Row) error {
	if err := s.store.StoreRow(ctx, s.sessionID, &row); err != nil {
		return fmt.Errorf("recording spectrum row: %w", err)
	}
	return nil
}
