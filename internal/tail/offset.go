package tail

// Offset counts the bytes of a remote file that have already been consumed.
// It only moves forward.
type Offset struct {
	n int64
}

// Value returns the number of bytes consumed so far.
func (o *Offset) Value() int64 { return o.n }

// Advance records that content was consumed and returns the new value.
func (o *Offset) Advance(content string) int64 {
	o.n += int64(len(content))
	return o.n
}
