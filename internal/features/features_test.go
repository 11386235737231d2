package features

import (
	"testing"
	"time"
)

func TestParseIntervalVariants(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"1h", time.Hour},
		{"15m", 15 * time.Minute},
		{"1d", 24 * time.Hour},
		{"2 hours", 2 * time.Hour},
		{"30min", 30 * time.Minute},
	}
	for _, c := range cases {
		got, err := parseInterval(c.in)
		if err != nil {
			t.Errorf("parseInterval(%q) error = %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("parseInterval(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestParseIntervalMalformedReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := parseInterval("not-an-interval"); err == nil {
		t.Error("expected an error for an unparsable interval string")
	}
}

func TestPgIntervalRendersSeconds(t *testing.T) {
	t.Parallel()
	if got := pgInterval(90 * time.Minute); got != "5400 seconds" {
		t.Errorf("pgInterval() = %q, want %q", got, "5400 seconds")
	}
}

func TestLevelsPayloadScanDecodesJSON(t *testing.T) {
	t.Parallel()
	var p levelsPayload
	if err := p.Scan([]byte(`{"levels":[{"price":0.5,"size":10},{"price":0.4,"size":5}]}`)); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(p.Levels) != 2 || p.Levels[0].Size != 10 {
		t.Errorf("Scan() = %+v", p.Levels)
	}
}

func TestLevelsPayloadScanHandlesNil(t *testing.T) {
	t.Parallel()
	var p levelsPayload
	if err := p.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) error = %v", err)
	}
	if p.Levels != nil {
		t.Errorf("expected nil levels, got %+v", p.Levels)
	}
}
