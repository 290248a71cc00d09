package ledger

import "strings"

// Entry is a decrypted ledger line.
type Entry struct {
	DocumentType string
	Field        string
	Amount       string
}

// Snapshot is the decrypted view of one session's ledger at read time.
// Entries keep the cipher-key order returned by GetAll, so two reads of the
// same stored data produce identical snapshots.
type Snapshot struct {
	Entries []Entry
	// Skipped counts entries dropped because they could not be decrypted.
	Skipped int
}

// Text renders the snapshot as "field: amount" pairs joined by ", ". It is the
// document handed to the oracle and the input of the cache fingerprint.
func (s *Snapshot) Text() string {
	if s == nil {
		return ""
	}
	parts := make([]string, 0, len(s.Entries))
	for _, e := range s.Entries {
		parts = append(parts, e.Field+": "+e.Amount)
	}
	return strings.Join(parts, ", ")
}

// Items returns field→amount for entries whose document type satisfies match.
// A field repeated under several matching document types keeps the last value.
func (s *Snapshot) Items(match func(documentType string) bool) map[string]string {
	out := make(map[string]string)
	if s == nil {
		return out
	}
	for _, e := range s.Entries {
		if match(e.DocumentType) {
			out[e.Field] = e.Amount
		}
	}
	return out
}
