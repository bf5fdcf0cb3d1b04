package scenario

import (
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint is the remembered server state of one scenario's scripts
type Fingerprint struct {
	EditedAt *time.Time
	Hash     string
}

// Equal reports whether two fingerprints describe the same server state
func (f Fingerprint) Equal(other Fingerprint) bool {
	if f.Hash != other.Hash {
		return false
	}
	switch {
	case f.EditedAt == nil && other.EditedAt == nil:
		return true
	case f.EditedAt == nil || other.EditedAt == nil:
		return false
	default:
		return f.EditedAt.Equal(*other.EditedAt)
	}
}

// FingerprintOf hashes the four script bodies in slot order
func FingerprintOf(state ScriptState) Fingerprint {
	h := xxhash.New()
	for _, slot := range ScriptSlots {
		_, _ = h.WriteString(state.Scripts.Value(slot))
		_, _ = h.Write([]byte{0})
	}
	var editedAt *time.Time
	if state.EditedAt != nil {
		t := *state.EditedAt
		editedAt = &t
	}
	return Fingerprint{
		EditedAt: editedAt,
		Hash:     strconv.FormatUint(h.Sum64(), 16),
	}
}
