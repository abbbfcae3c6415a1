package storage

const (
	initSchemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    start_time  DATETIME NOT NULL,
    device_type TEXT NOT NULL,
    device_id   TEXT NOT NULL,
    config      TEXT
);

CREATE TABLE IF NOT EXISTS spectra (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id  INTEGER NOT NULL REFERENCES sessions (id),
    timestamp   DATETIME NOT NULL,
    center_freq INTEGER NOT NULL,
    sample_rate INTEGER NOT NULL,
    bin_count   INTEGER NOT NULL,
    bins        BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_spectra_session_time ON spectra (session_id, timestamp);`

	insertSessionSQL = `
INSERT INTO sessions (
                      start_time,
                      device_type,
                      device_id,
                      config)
VALUES (CURRENT_TIMESTAMP, ?, ?, ?)`

	selectSessionSQL = `
SELECT
    id,
    start_time,
    device_type,
    device_id,
    config
FROM sessions
WHERE
    id = ?`

	selectSessionsSQL = `
SELECT
    id,
    start_time,
    device_type,
    device_id,
    config
FROM sessions
ORDER BY start_time, id`

	insertSpectrumSQL = `
INSERT INTO spectra (session_id,
                     timestamp,
                     center_freq,
                     sample_rate,
                     bin_count,
                     bins)
VALUES (?, ?, ?, ?, ?, ?)`

	selectSpectraSQL = `
SELECT
    timestamp,
    center_freq,
    sample_rate,
    bin_count,
    bins
FROM spectra
WHERE
    session_id = ?
ORDER BY timestamp, id`
)
