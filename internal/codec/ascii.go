/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package codec implements the zero-copy ASCII numeric/decimal codec used to
parse and emit FIX tag values directly over a raw byte window.

Every function here is O(length) and allocation-free: callers supply the
byte buffer (a Window) and an offset range, and decoding/encoding happens in
place. This is the hot path feeding the replicated cluster agent, so no
function here may allocate.
*/
package codec

import "fmt"

// SOH is the FIX field separator, 0x01.
const SOH byte = 0x01

// MinInt32Literal is the decimal literal for math.MinInt32, used so that
// emitting MinInt32 never negates it (negating MinInt32 overflows int32).
const MinInt32Literal = "-2147483648"

// MinInt64Literal is the decimal literal for math.MinInt64, same reasoning.
const MinInt64Literal = "-9223372036854775808"

// Err is the codec's error taxonomy. These are all classified Malformed
// per the gateway's error taxonomy (see internal/errors).
type Err struct {
	Op  string
	Msg string
}

func (e *Err) Error() string { return fmt.Sprintf("codec: %s: %s", e.Op, e.Msg) }

func errBadDigit(op string) error { return &Err{Op: op, Msg: "bad digit"} }
func errOverflow(op string) error { return &Err{Op: op, Msg: "value does not fit in destination width"} }
func errEmptyRange(op string) error { return &Err{Op: op, Msg: "empty range"} }
func errBadDecimal(op string) error { return &Err{Op: op, Msg: "malformed decimal"} }

// Window is a raw byte buffer shared between the transport's receive buffer
// and the codec. It never copies; every decode reads directly out of buf,
// and every encode writes directly into buf.
type Window struct {
	buf []byte
}

// NewWindow wraps buf for zero-copy decode/encode. The caller retains
// ownership of buf; Window never reallocates it.
func NewWindow(buf []byte) *Window {
	return &Window{buf: buf}
}

// Bytes returns the underlying buffer.
func (w *Window) Bytes() []byte { return w.buf }

// Len returns the length of the underlying buffer.
func (w *Window) Len() int { return len(w.buf) }

// GetNatural decodes an unsigned decimal integer from buf[start:end]. It
// fails with a bad-digit error if any byte in the range is not an ASCII
// digit, or if the range is empty.
func (w *Window) GetNatural(start, end int) (uint32, error) {
	if start >= end || end > len(w.buf) || start < 0 {
		return 0, errEmptyRange("get_natural")
	}
	var v uint32
	for i := start; i < end; i++ {
		c := w.buf[i]
		if c < '0' || c > '9' {
			return 0, errBadDigit("get_natural")
		}
		v = v*10 + uint32(c-'0')
	}
	return v, nil
}

// GetInt decodes a signed decimal integer from buf[start:end], with an
// optional leading '-'.
func (w *Window) GetInt(start, end int) (int32, error) {
	if start >= end || end > len(w.buf) || start < 0 {
		return 0, errEmptyRange("get_int")
	}
	neg := false
	i := start
	if w.buf[i] == '-' {
		neg = true
		i++
	}
	if i >= end {
		return 0, errBadDigit("get_int")
	}
	var v int32
	for ; i < end; i++ {
		c := w.buf[i]
		if c < '0' || c > '9' {
			return 0, errBadDigit("get_int")
		}
		v = v*10 + int32(c-'0')
	}
	if neg {
		v = -v
	}
	return v, nil
}

// DecimalFloat is the fixed-point decimal FIX uses for Price-like fields:
// value * 10^-scale.
type DecimalFloat struct {
	Value int64
	Scale int32
}

// GetFloat decodes a FIX "Price" field into dst. It trims leading/trailing
// '0' or ' ' runs (so "  12.340 " round-trips on the way in), accepts at
// most one '.', and sets Scale to the number of digits after the dot. A
// leading '-' sets the sign. The leading-zero trim applies only
// to runs at the edges of the field, never mid-number (so "0005" parses as
// 5 but a mid-number '0' is significant, e.g. "10005" stays 10005).
func (w *Window) GetFloat(dst *DecimalFloat, start, length int) error {
	end := start + length
	if length <= 0 || end > len(w.buf) || start < 0 {
		return errEmptyRange("get_float")
	}

	lo, hi := start, end
	// Trim leading spaces, then leading zeros (but never past a '.' or
	// into the last digit of an all-zero integer part).
	for lo < hi && w.buf[lo] == ' ' {
		lo++
	}
	negHi := hi
	for negHi > lo && w.buf[negHi-1] == ' ' {
		negHi--
	}
	hi = negHi
	if lo >= hi {
		return errBadDecimal("get_float")
	}

	neg := false
	if w.buf[lo] == '-' {
		neg = true
		lo++
	}

	// Trim leading zeros in the integer part, stopping at '.' or end, and
	// always leaving at least one digit before the dot.
	dot := -1
	for i := lo; i < hi; i++ {
		if w.buf[i] == '.' {
			dot = i
			break
		}
	}
	intStart := lo
	intEnd := hi
	if dot >= 0 {
		intEnd = dot
	}
	for intStart < intEnd-1 && w.buf[intStart] == '0' {
		intStart++
	}
	if intStart == intEnd && dot < 0 {
		// No digits at all (a lone "-"). An empty integer part before a
		// '.' (".5") contributes 0 through the loop below.
		return errBadDecimal("get_float")
	}

	var value int64
	for i := intStart; i < intEnd; i++ {
		c := w.buf[i]
		if c < '0' || c > '9' {
			return errBadDigit("get_float")
		}
		value = value*10 + int64(c-'0')
	}

	scale := int32(0)
	if dot >= 0 {
		fracStart := dot + 1
		fracEnd := hi
		// Trim trailing zeros in the fractional part only; a trailing
		// zero run there is not significant to the canonical value.
		for fracEnd > fracStart && w.buf[fracEnd-1] == '0' {
			fracEnd--
		}
		for i := fracStart; i < fracEnd; i++ {
			c := w.buf[i]
			if c < '0' || c > '9' {
				return errBadDigit("get_float")
			}
			value = value*10 + int64(c-'0')
			scale++
		}
	}

	if neg {
		value = -value
	}
	dst.Value = value
	dst.Scale = scale
	return nil
}

// Scan searches buf[from:to] (inclusive of `to`) for byte, returning the
// leftmost match, or -1 if not found.
func (w *Window) Scan(from, toIncl int, b byte) int {
	if from < 0 {
		from = 0
	}
	if toIncl >= len(w.buf) {
		toIncl = len(w.buf) - 1
	}
	for i := from; i <= toIncl; i++ {
		if w.buf[i] == b {
			return i
		}
	}
	return -1
}

// ScanBack searches buf[from:to] (inclusive of `to`) for byte, returning the
// rightmost match, or -1 if not found.
func (w *Window) ScanBack(from, toIncl int, b byte) int {
	if from < 0 {
		from = 0
	}
	if toIncl >= len(w.buf) {
		toIncl = len(w.buf) - 1
	}
	for i := toIncl; i >= from; i-- {
		if w.buf[i] == b {
			return i
		}
	}
	return -1
}

// ComputeChecksum implements the FIX tag-10 algorithm: the sum of bytes in
// buf[start:end], mod 256.
func (w *Window) ComputeChecksum(start, end int) byte {
	var sum int
	if end > len(w.buf) {
		end = len(w.buf)
	}
	for i := start; i < end; i++ {
		sum += int(w.buf[i])
	}
	return byte(sum % 256)
}

// PutAsciiInt emits the decimal representation of v at offset, writing
// right-to-left, and returns the number of bytes written. v == 0 emits a
// single '0'. v == math.MinInt32 emits the precomputed literal to avoid
// negating an unrepresentable magnitude; other negatives negate safely via
// the -|v| identity trick and prefix '-'.
func (w *Window) PutAsciiInt(offset int, v int32) (int, error) {
	if v == 0 {
		if offset >= len(w.buf) {
			return 0, errOverflow("put_ascii_int")
		}
		w.buf[offset] = '0'
		return 1, nil
	}
	if v == -2147483648 {
		return w.putLiteral(offset, MinInt32Literal)
	}

	neg := v < 0
	mag := v
	if neg {
		mag = -mag
	}
	return w.putUnsignedDigitsThenSign(offset, uint64(mag), neg, "put_ascii_int")
}

// PutAsciiLong is PutAsciiInt's int64 counterpart.
func (w *Window) PutAsciiLong(offset int, v int64) (int, error) {
	if v == 0 {
		if offset >= len(w.buf) {
			return 0, errOverflow("put_ascii_long")
		}
		w.buf[offset] = '0'
		return 1, nil
	}
	if v == -9223372036854775808 {
		return w.putLiteral(offset, MinInt64Literal)
	}

	neg := v < 0
	mag := v
	if neg {
		mag = -mag
	}
	return w.putUnsignedDigitsThenSign(offset, uint64(mag), neg, "put_ascii_long")
}

func (w *Window) putLiteral(offset int, lit string) (int, error) {
	if offset+len(lit) > len(w.buf) {
		return 0, errOverflow("put_ascii")
	}
	copy(w.buf[offset:], lit)
	return len(lit), nil
}

// putUnsignedDigitsThenSign writes mag's decimal digits right-to-left
// starting at offset, then a leading '-' if neg, and returns bytes written.
// Digits are produced into a small on-stack scratch array (no heap
// allocation) before being copied forward into place.
func (w *Window) putUnsignedDigitsThenSign(offset int, mag uint64, neg bool, op string) (int, error) {
	var scratch [20]byte
	pos := len(scratch)
	for mag > 0 {
		pos--
		scratch[pos] = byte('0' + mag%10)
		mag /= 10
	}
	digits := scratch[pos:]

	total := len(digits)
	if neg {
		total++
	}
	if offset+total > len(w.buf) {
		return 0, errOverflow(op)
	}

	i := offset
	if neg {
		w.buf[i] = '-'
		i++
	}
	copy(w.buf[i:], digits)
	return total, nil
}

// PutAsciiFloat emits value's decimal digits into scratch, then writes the
// integer part, a '.' (unless scale == 0), and the fractional part into the
// window at offset. Returns bytes written.
func (w *Window) PutAsciiFloat(offset int, f DecimalFloat) (int, error) {
	var scratch [24]byte
	n, err := (&Window{buf: scratch[:]}).PutAsciiLong(0, f.Value)
	if err != nil {
		return 0, err
	}
	digits := scratch[:n]

	neg := false
	if len(digits) > 0 && digits[0] == '-' {
		neg = true
		digits = digits[1:]
	}

	scale := int(f.Scale)
	if scale < 0 {
		scale = 0
	}
	for len(digits) <= scale {
		// Left-pad with zeros so there's always an integer digit.
		var padded [24]byte
		padded[0] = '0'
		copy(padded[1:], digits)
		digits = padded[:len(digits)+1]
	}

	intLen := len(digits) - scale
	total := intLen
	if neg {
		total++
	}
	if scale > 0 {
		total += 1 + scale // dot + fraction
	}
	if offset+total > len(w.buf) {
		return 0, errOverflow("put_ascii_float")
	}

	i := offset
	if neg {
		w.buf[i] = '-'
		i++
	}
	copy(w.buf[i:], digits[:intLen])
	i += intLen
	if scale > 0 {
		w.buf[i] = '.'
		i++
		copy(w.buf[i:], digits[intLen:])
		i += scale
	}
	return total, nil
}

// PutNatural emits v right-justified, zero-padded to exactly width bytes.
// It fails with Overflow if v needs more than width digits.
func (w *Window) PutNatural(offset, width int, v uint32) error {
	if offset+width > len(w.buf) {
		return errOverflow("put_natural")
	}
	n := v
	needed := 1
	for n >= 10 {
		n /= 10
		needed++
	}
	if needed > width {
		return errOverflow("put_natural")
	}
	for i := width - 1; i >= 0; i-- {
		w.buf[offset+i] = byte('0' + v%10)
		v /= 10
	}
	return nil
}
