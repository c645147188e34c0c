// Package serial implements RFC 1982 serial number arithmetic for 16-bit
// sequence numbers, the comparison rule uTP sequence numbers use under
// wrap-around.
package serial

// Number is a 16-bit serial number. Comparisons between two Numbers follow
// RFC 1982 (width 16), not plain integer ordering: a value near 65535 can
// still be "less than" a small value like 2 if the wrap happened between
// them.
type Number uint16

// halfRange is 2^15, the width-16 threshold RFC 1982 compares distances
// against.
const halfRange = 1 << 15

// Less reports whether a precedes b in serial order.
//
//	a < b iff (a != b) and
//	          ((a < b and b-a < 2^15) or (a > b and a-b > 2^15))
//
// Subtraction here is unsigned 16-bit and wraps, which is exactly the
// arithmetic RFC 1982 assumes.
func (a Number) Less(b Number) bool {
	if a == b {
		return false
	}
	if a < b {
		return uint16(b-a) < halfRange
	}
	return uint16(a-b) > halfRange
}

// LessOrEqual reports whether a precedes or equals b in serial order.
func (a Number) LessOrEqual(b Number) bool {
	return a == b || a.Less(b)
}

// After reports whether a follows b in serial order.
func (a Number) After(b Number) bool {
	return b.Less(a)
}

// Add returns a+n, wrapping modulo 2^16.
func (a Number) Add(n uint16) Number {
	return a + Number(n)
}

// Next is shorthand for a.Add(1), the common "advance by one segment" step.
func (a Number) Next() Number {
	return a.Add(1)
}
