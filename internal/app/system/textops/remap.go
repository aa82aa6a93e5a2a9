package textops

import "github.com/dalemusser/coedit/internal/domain/models"

// Remap moves the range [offset, offset+length) through ops that were applied
// after the range was anchored. ok is false when the anchored text was
// deleted entirely, in which case the comment is shown as orphaned.
func Remap(offset, length int, ops []models.Operation) (newOffset, newLength int, ok bool) {
	start, end := offset, offset+length
	for _, op := range ops {
		pos := op.Pos()
		switch op.Type {
		case models.OpInsert:
			n := Len(op.Text)
			switch {
			case pos <= start:
				start += n
				end += n
			case pos < end:
				end += n
			}
		case models.OpDelete:
			dEnd := pos + op.Len()
			start = shiftForDelete(start, pos, dEnd)
			end = shiftForDelete(end, pos, dEnd)
		}
	}
	if length > 0 && end <= start {
		return start, 0, false
	}
	return start, end - start, true
}

// shiftForDelete maps a single point through the deletion of [from, to).
func shiftForDelete(p, from, to int) int {
	switch {
	case p <= from:
		return p
	case p >= to:
		return p - (to - from)
	}
	return from
}
