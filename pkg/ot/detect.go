package ot

// Detect converts a pre/post text snapshot plus the caret position after
// the edit into a single Operation, the way a thin client-side "change
// detector" widget would. It assumes a single-caret, single-contiguous
// edit; multi-region edits are not produced (callers that batch edits must
// call Detect once per contiguous region themselves).
//
// Per the baseline choice recorded in DESIGN.md, a same-length replacement
// (len(old) == len(new) but old != new) is reported as no change: this
// core does not support replacement edits.
func Detect(old, new string, caretAfter int, userID string) (Operation, bool) {
	if old == new {
		return Operation{}, false
	}

	oldLen, newLen := len(old), len(new)

	switch {
	case newLen > oldLen:
		insertedLen := newLen - oldLen
		position := caretAfter - insertedLen
		if position < 0 || position+insertedLen > newLen {
			return Operation{}, false
		}
		return Operation{
			Type:     Insert,
			UserID:   userID,
			Position: position,
			Text:     new[position : position+insertedLen],
		}, true

	case oldLen > newLen:
		deletedLen := oldLen - newLen
		position := caretAfter
		if position < 0 || position > oldLen {
			return Operation{}, false
		}
		return Operation{
			Type:     Delete,
			UserID:   userID,
			Position: position,
			Length:   deletedLen,
		}, true

	default:
		// Same length, different content: replacement, unsupported.
		return Operation{}, false
	}
}
