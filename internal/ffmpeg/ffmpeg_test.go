package ffmpeg

import "testing"

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		rate string
		want float64
	}{
		{"25/1", 25},
		{"30000/1001", 29.97002997002997},
		{"30", 30},
		{"0/0", 0},
		{"garbage", 0},
	}
	for _, tt := range tests {
		if got := parseFrameRate(tt.rate); got != tt.want {
			t.Errorf("parseFrameRate(%q) = %v, want %v", tt.rate, got, tt.want)
		}
	}
}

func TestFormatSec(t *testing.T) {
	if got := formatSec(60); got != "60.000" {
		t.Errorf("formatSec(60) = %q", got)
	}
	if got := formatSec(12.3456); got != "12.346" {
		t.Errorf("formatSec(12.3456) = %q", got)
	}
}

func TestTail(t *testing.T) {
	if got := tail("short", 10); got != "short" {
		t.Errorf("tail = %q", got)
	}
	if got := tail("0123456789", 4); got != "...6789" {
		t.Errorf("tail = %q", got)
	}
}
