package storage

import (
	"time"
)

type spectrumData struct {
	ID         int64
	SessionID  int64
	Timestamp  time.Time
	CenterFreq int64
	SampleRate int64
	BinCount   int
	Bins       []byte
}
