//go:build linux

package netycat

import (
	"math"
	"testing"
	"time"
)

func TestEpollTimeout(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int
	}{
		{in: -1, want: -1},
		{in: 0, want: 0},
		{in: time.Nanosecond, want: 1},
		{in: time.Millisecond, want: 1},
		{in: 1500 * time.Microsecond, want: 2},
		{in: time.Second, want: 1000},
		{in: 1000 * 24 * time.Hour, want: math.MaxInt32},
		{in: math.MaxInt64, want: math.MaxInt32},
	}

	for _, tt := range tests {
		if got := epollTimeout(tt.in); got != tt.want {
			t.Errorf("epollTimeout(%v): expected %d, got: %d", tt.in, tt.want, got)
		}
	}
}
