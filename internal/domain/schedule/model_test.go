package schedule

import "testing"

func TestPeriodContainsOrdinary(t *testing.T) {
	p := Period{StartHour: 9, StartMinute: 0, EndHour: 17, EndMinute: 0}
	cases := map[int]bool{
		MinutesOfDay(9, 0):  true,
		MinutesOfDay(12, 0): true,
		MinutesOfDay(16, 59): true,
		MinutesOfDay(17, 0): false,
		MinutesOfDay(8, 59): false,
	}
	for now, want := range cases {
		if got := p.Contains(now); got != want {
			t.Errorf("Contains(%d) = %v, want %v", now, got, want)
		}
	}
}

func TestPeriodContainsOvernight(t *testing.T) {
	p := Period{StartHour: 22, StartMinute: 0, EndHour: 6, EndMinute: 0}
	cases := map[int]bool{
		MinutesOfDay(22, 0):  true,
		MinutesOfDay(23, 59): true,
		MinutesOfDay(0, 0):   true,
		MinutesOfDay(5, 59):  true,
		MinutesOfDay(6, 0):   false,
		MinutesOfDay(12, 0):  false,
	}
	for now, want := range cases {
		if got := p.Contains(now); got != want {
			t.Errorf("Contains(%d) = %v, want %v", now, got, want)
		}
	}
}

func TestPeriodEmptyWhenEqual(t *testing.T) {
	p := Period{StartHour: 10, StartMinute: 30, EndHour: 10, EndMinute: 30}
	if p.Contains(MinutesOfDay(10, 30)) {
		t.Fatal("expected empty period to never match")
	}
}

func TestScheduleContainsAnyPeriod(t *testing.T) {
	s := Schedule{Periods: []Period{
		{StartHour: 1, EndHour: 2},
		{StartHour: 22, EndHour: 6},
	}}
	if !s.Contains(MinutesOfDay(23, 0)) {
		t.Fatal("expected overnight period to match")
	}
	if s.Contains(MinutesOfDay(12, 0)) {
		t.Fatal("expected no match at noon")
	}
}
