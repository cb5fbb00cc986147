package schedule

import "testing"

func mustInterval(t *testing.T, start, end string) Interval {
	t.Helper()
	s, err := ParseClock(start)
	if err != nil {
		t.Fatalf("parse %s: %v", start, err)
	}
	e, err := ParseClock(end)
	if err != nil {
		t.Fatalf("parse %s: %v", end, err)
	}
	iv, err := NewInterval(s, e)
	if err != nil {
		t.Fatalf("interval %s-%s: %v", start, end, err)
	}
	return iv
}

func TestOverlaps(t *testing.T) {
	cases := []struct {
		name string
		a, b [2]string
		want bool
	}{
		{"identical", [2]string{"09:00", "10:00"}, [2]string{"09:00", "10:00"}, true},
		{"partial overlap", [2]string{"09:00", "10:00"}, [2]string{"09:30", "10:30"}, true},
		{"contained", [2]string{"09:00", "12:00"}, [2]string{"10:00", "11:00"}, true},
		{"back to back", [2]string{"09:00", "10:00"}, [2]string{"10:00", "11:00"}, false},
		{"disjoint", [2]string{"09:00", "10:00"}, [2]string{"11:00", "12:00"}, false},
		{"one minute overlap", [2]string{"09:00", "10:01"}, [2]string{"10:00", "11:00"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := mustInterval(t, tc.a[0], tc.a[1])
			b := mustInterval(t, tc.b[0], tc.b[1])
			if got := a.Overlaps(b); got != tc.want {
				t.Errorf("Overlaps(%v, %v) = %v, want %v", a, b, got, tc.want)
			}
			// symmetry
			if got := b.Overlaps(a); got != tc.want {
				t.Errorf("Overlaps(%v, %v) = %v, want %v", b, a, got, tc.want)
			}
		})
	}
}

func TestNewIntervalRejectsDegenerate(t *testing.T) {
	for _, pair := range [][2]string{{"10:00", "10:00"}, {"11:00", "10:00"}} {
		s, _ := ParseClock(pair[0])
		e, _ := ParseClock(pair[1])
		if _, err := NewInterval(s, e); err == nil {
			t.Errorf("NewInterval(%s, %s) accepted a degenerate interval", pair[0], pair[1])
		}
	}
}

func TestParseClock(t *testing.T) {
	got, err := ParseClock("09:30")
	if err != nil {
		t.Fatal(err)
	}
	if got != 9*60+30 {
		t.Errorf("ParseClock(09:30) = %d, want %d", got, 9*60+30)
	}
	if got.String() != "09:30" {
		t.Errorf("String() = %q, want 09:30", got.String())
	}
	if _, err := ParseClock("25:00"); err == nil {
		t.Error("ParseClock(25:00) should fail")
	}
}
