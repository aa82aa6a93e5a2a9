// Package textops applies edit operations to a content payload.
//
// Positions and lengths are counted in Unicode code points. Apply is pure: it
// returns a new payload and never mutates its input, so callers can swap the
// result in atomically.
package textops

import (
	"github.com/dalemusser/coedit/internal/app/system/syncerr"
	"github.com/dalemusser/coedit/internal/domain/models"
)

// Len returns the payload length in code points.
func Len(payload string) int {
	n := 0
	for range payload {
		n++
	}
	return n
}

// Validate checks op against a payload of n code points.
func Validate(op models.Operation, n int) error {
	if !models.IsValidOpType(op.Type) {
		return syncerr.E(syncerr.InvalidOperation, "unknown operation type %q", op.Type)
	}
	if op.Position != nil && *op.Position < 0 {
		return syncerr.E(syncerr.InvalidOperation, "negative position %d", *op.Position)
	}
	if op.Length != nil && *op.Length < 0 {
		return syncerr.E(syncerr.InvalidOperation, "negative length %d", *op.Length)
	}

	pos, length := op.Pos(), op.Len()
	switch op.Type {
	case models.OpInsert:
		if op.Position == nil {
			return syncerr.E(syncerr.InvalidOperation, "insert requires a position")
		}
		if op.Text == "" {
			return syncerr.E(syncerr.InvalidOperation, "insert requires text")
		}
		if pos > n {
			return syncerr.E(syncerr.InvalidOperation, "position %d out of range [0,%d]", pos, n)
		}
	case models.OpDelete, models.OpFormat:
		if op.Position == nil || op.Length == nil {
			return syncerr.E(syncerr.InvalidOperation, "%s requires position and length", op.Type)
		}
		if length == 0 {
			return syncerr.E(syncerr.InvalidOperation, "%s requires a positive length", op.Type)
		}
		if pos+length > n {
			return syncerr.E(syncerr.InvalidOperation, "range [%d,%d) out of range [0,%d]", pos, pos+length, n)
		}
		if op.Type == models.OpFormat && len(op.Meta) == 0 {
			return syncerr.E(syncerr.InvalidOperation, "format requires attributes in meta")
		}
	case models.OpCursor, models.OpSelection:
		if op.Position == nil {
			return syncerr.E(syncerr.InvalidOperation, "%s requires a position", op.Type)
		}
		if pos+length > n {
			return syncerr.E(syncerr.InvalidOperation, "range [%d,%d) out of range [0,%d]", pos, pos+length, n)
		}
	}
	return nil
}

// Apply validates op and returns the payload after applying it. Format,
// cursor and selection operations leave the payload unchanged.
func Apply(payload string, op models.Operation) (string, error) {
	runes := []rune(payload)
	if err := Validate(op, len(runes)); err != nil {
		return payload, err
	}

	pos := op.Pos()
	switch op.Type {
	case models.OpInsert:
		ins := []rune(op.Text)
		out := make([]rune, 0, len(runes)+len(ins))
		out = append(out, runes[:pos]...)
		out = append(out, ins...)
		out = append(out, runes[pos:]...)
		return string(out), nil
	case models.OpDelete:
		end := pos + op.Len()
		out := make([]rune, 0, len(runes)-op.Len())
		out = append(out, runes[:pos]...)
		out = append(out, runes[end:]...)
		return string(out), nil
	}
	return payload, nil
}

// Replay applies ops in order on top of base.
func Replay(base string, ops []models.Operation) (string, error) {
	cur := base
	for _, op := range ops {
		next, err := Apply(cur, op)
		if err != nil {
			return cur, err
		}
		cur = next
	}
	return cur, nil
}
