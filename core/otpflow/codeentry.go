package otpflow

import "strings"

// CodeEntry collects a code as N single digit cells.
// It is an input affordance only: codes are validated from String().
type CodeEntry struct {
	cells []byte // 0 when empty
	focus int
}

func NewCodeEntry(n int) *CodeEntry {
	if n < 1 {
		n = 1
	}
	return &CodeEntry{cells: make([]byte, n)}
}

// CodeEntryFrom fills a CodeEntry of len(digits) cells in order.
// Cells whose input is rejected stay empty.
func CodeEntryFrom(digits []string) *CodeEntry {
	e := NewCodeEntry(len(digits))
	for i, d := range digits {
		e.SetFocus(i)
		e.Input(d)
	}
	return e
}

func (e *CodeEntry) Len() int   { return len(e.cells) }
func (e *CodeEntry) Focus() int { return e.focus }

// SetFocus moves focus to cell i, clamped to the available cells.
func (e *CodeEntry) SetFocus(i int) {
	switch {
	case i < 0:
		i = 0
	case i >= len(e.cells):
		i = len(e.cells) - 1
	}
	e.focus = i
}

// Input types s into the focused cell. Only a single decimal digit is accepted;
// accepting it advances focus to the next cell.
func (e *CodeEntry) Input(s string) bool {
	if len(s) != 1 || s[0] < '0' || s[0] > '9' {
		return false
	}
	e.cells[e.focus] = s[0]
	if e.focus < len(e.cells)-1 {
		e.focus++
	}
	return true
}

// Backspace clears the focused cell, or moves focus back when it is already empty.
func (e *CodeEntry) Backspace() {
	if e.cells[e.focus] != 0 {
		e.cells[e.focus] = 0
		return
	}
	if e.focus > 0 {
		e.focus--
	}
}

// Cell returns the digit of cell i, "" when empty.
func (e *CodeEntry) Cell(i int) string {
	if i < 0 || i >= len(e.cells) || e.cells[i] == 0 {
		return ""
	}
	return string(e.cells[i])
}

func (e *CodeEntry) Complete() bool {
	for _, c := range e.cells {
		if c == 0 {
			return false
		}
	}
	return true
}

// String concatenates the filled cells.
func (e *CodeEntry) String() string {
	var sb strings.Builder
	for _, c := range e.cells {
		if c != 0 {
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
