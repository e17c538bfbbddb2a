package model

import "fmt"

// RowStatus is the one-character status column of a staging row.
type RowStatus string

const (
	// RowStatusValid marks a validated row awaiting migration. The engine reads only these.
	RowStatusValid RowStatus = "V"
	// RowStatusInvalid is set upstream by validation; the engine never touches it.
	RowStatusInvalid RowStatus = "I"
	// RowStatusMigrated is written after the target procedure returned 0.
	RowStatusMigrated RowStatus = "P"
	// RowStatusDuplicated is set upstream; the engine never touches it.
	RowStatusDuplicated RowStatus = "D"
	// RowStatusError is written after a failed procedure call.
	RowStatusError RowStatus = "E"
)

var rowStatusDescriptions = map[RowStatus]string{
	RowStatusValid:      "Valid",
	RowStatusInvalid:    "Invalid",
	RowStatusMigrated:   "Migrated",
	RowStatusDuplicated: "Duplicated",
	RowStatusError:      "Error",
}

func (s RowStatus) String() string {
	return string(s)
}

// Description returns a human readable label, used by the migration report.
func (s RowStatus) Description() string {
	if d, ok := rowStatusDescriptions[s]; ok {
		return d
	}
	return "Unknown"
}

// IsWritableByEngine reports whether the engine may write s (P or E only).
func (s RowStatus) IsWritableByEngine() bool {
	return s == RowStatusMigrated || s == RowStatusError
}

// ParseRowStatus validates a raw status value.
func ParseRowStatus(raw string) (RowStatus, error) {
	s := RowStatus(raw)
	if _, ok := rowStatusDescriptions[s]; !ok {
		return "", fmt.Errorf("unknown row status %q", raw)
	}
	return s, nil
}
