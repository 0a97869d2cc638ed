package codec

import "testing"

func TestGetNatural(t *testing.T) {
	w := NewWindow([]byte("12345"))
	v, err := w.GetNatural(0, 5)
	if err != nil || v != 12345 {
		t.Fatalf("got %d, %v", v, err)
	}

	if _, err := NewWindow([]byte("12a45")).GetNatural(0, 5); err == nil {
		t.Fatal("expected bad digit error")
	}
}

func TestGetInt(t *testing.T) {
	cases := []struct {
		in   string
		want int32
	}{
		{"123", 123},
		{"-123", -123},
		{"0", 0},
		{"-2147483648", -2147483648},
	}
	for _, c := range cases {
		w := NewWindow([]byte(c.in))
		got, err := w.GetInt(0, len(c.in))
		if err != nil {
			t.Fatalf("%s: %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("%s: got %d want %d", c.in, got, c.want)
		}
	}
}

func TestGetFloatCanonicalExample(t *testing.T) {
	w := NewWindow([]byte("0000123.45"))
	var d DecimalFloat
	if err := w.GetFloat(&d, 0, 10); err != nil {
		t.Fatal(err)
	}
	if d.Value != 12345 || d.Scale != 2 {
		t.Fatalf("got %+v", d)
	}
}

func TestGetFloatTrim(t *testing.T) {
	w := NewWindow([]byte("  000.1200 "))
	var d DecimalFloat
	if err := w.GetFloat(&d, 0, w.Len()); err != nil {
		t.Fatal(err)
	}
	if d.Value != 12 || d.Scale != 2 {
		t.Fatalf("got %+v", d)
	}
}

func TestGetFloatMidNumberZeroNotDispensable(t *testing.T) {
	w := NewWindow([]byte("10005"))
	var d DecimalFloat
	if err := w.GetFloat(&d, 0, 5); err != nil {
		t.Fatal(err)
	}
	if d.Value != 10005 || d.Scale != 0 {
		t.Fatalf("got %+v, want 10005 scale 0 (mid-number zeros are significant)", d)
	}
}

func TestPutGetIntRoundTrip(t *testing.T) {
	vals := []int32{0, 1, -1, 123456, -123456, 2147483647, -2147483648}
	for _, v := range vals {
		buf := make([]byte, 16)
		win := NewWindow(buf)
		n, err := win.PutAsciiInt(0, v)
		if err != nil {
			t.Fatalf("put %d: %v", v, err)
		}
		got, err := win.GetInt(0, n)
		if err != nil {
			t.Fatalf("get %d: %v", v, err)
		}
		if got != v {
			t.Errorf("round trip %d -> %d", v, got)
		}
	}
}

func TestPutAsciiIntMinLiteral(t *testing.T) {
	buf := make([]byte, 16)
	win := NewWindow(buf)
	n, err := win.PutAsciiInt(0, -2147483648)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != MinInt32Literal {
		t.Fatalf("got %q want %q", buf[:n], MinInt32Literal)
	}
}

func TestPutAsciiLongMinLiteral(t *testing.T) {
	buf := make([]byte, 24)
	win := NewWindow(buf)
	n, err := win.PutAsciiLong(0, -9223372036854775808)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != MinInt64Literal {
		t.Fatalf("got %q want %q", buf[:n], MinInt64Literal)
	}
}

func TestPutAsciiFloatRoundTrip(t *testing.T) {
	// Round-trip holds for canonical values: a trailing zero in the
	// fraction (e.g. value 500 at scale 2, "5.00") normalizes away on
	// parse, so the domain here excludes it.
	cases := []DecimalFloat{
		{Value: 12345, Scale: 2},
		{Value: 12, Scale: 2},
		{Value: 0, Scale: 0},
		{Value: -525, Scale: 2},
		{Value: -3, Scale: 4},
		{Value: 7, Scale: 0},
	}
	for _, c := range cases {
		buf := make([]byte, 32)
		win := NewWindow(buf)
		n, err := win.PutAsciiFloat(0, c)
		if err != nil {
			t.Fatalf("put %+v: %v", c, err)
		}
		var got DecimalFloat
		if err := win.GetFloat(&got, 0, n); err != nil {
			t.Fatalf("get %+v: %v", c, err)
		}
		if got != c {
			t.Errorf("round trip %+v -> %+v (%q)", c, got, buf[:n])
		}
	}
}

func TestPutAsciiFloatCanonicalEmission(t *testing.T) {
	buf := make([]byte, 16)
	win := NewWindow(buf)
	n, err := win.PutAsciiFloat(0, DecimalFloat{Value: 12345, Scale: 2})
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "123.45" {
		t.Fatalf("got %q want %q", buf[:n], "123.45")
	}
}

func TestPutAsciiFloatNoScaleNoDot(t *testing.T) {
	buf := make([]byte, 16)
	win := NewWindow(buf)
	n, err := win.PutAsciiFloat(0, DecimalFloat{Value: 42, Scale: 0})
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "42" {
		t.Fatalf("got %q", buf[:n])
	}
}

func TestScanAndScanBack(t *testing.T) {
	buf := []byte("a\x01b\x01c")
	w := NewWindow(buf)
	if got := w.Scan(0, len(buf)-1, SOH); got != 1 {
		t.Fatalf("scan got %d want 1", got)
	}
	if got := w.ScanBack(0, len(buf)-1, SOH); got != 3 {
		t.Fatalf("scan_back got %d want 3", got)
	}
	if got := w.Scan(0, len(buf)-1, '!'); got != -1 {
		t.Fatalf("scan absent got %d want -1", got)
	}
}

func TestComputeChecksum(t *testing.T) {
	buf := []byte("8=FIX.4.4\x019=5\x01")
	w := NewWindow(buf)
	var sum int
	for _, b := range buf {
		sum += int(b)
	}
	want := byte(sum % 256)
	if got := w.ComputeChecksum(0, len(buf)); got != want {
		t.Fatalf("got %d want %d", got, want)
	}
}

func TestPutNaturalWidthAndOverflow(t *testing.T) {
	buf := make([]byte, 8)
	w := NewWindow(buf)
	if err := w.PutNatural(0, 4, 42); err != nil {
		t.Fatal(err)
	}
	if string(buf[:4]) != "0042" {
		t.Fatalf("got %q", buf[:4])
	}

	if err := w.PutNatural(0, 2, 123); err == nil {
		t.Fatal("expected overflow error")
	}
}
