// Package kutil holds the small numeric helpers used across this module,
// adapted from the util package: the byte-packing helpers (Readn/Writen)
// that package also carried have no wire format to serve here and were
// dropped, but the alignment helpers are exactly what TLB range flushing
// needs to round arbitrary byte ranges onto page boundaries before
// handing them to the hardware.
package kutil

// / Int is satisfied by all built-in integer types.
type Int interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// / Rounddown aligns v down to the nearest multiple of b.
func Rounddown[T Int](v, b T) T {
	return v - (v % b)
}

// / Roundup aligns v up to the nearest multiple of b.
func Roundup[T Int](v, b T) T {
	return Rounddown(v+b-1, b)
}
