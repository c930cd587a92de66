package bus

import (
	"testing"

	"github.com/petal-labs/callstream/runtime"
)

func TestRing(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		pushes   int
		want     []uint64
	}{
		{"empty", 3, 0, nil},
		{"partial", 3, 2, []uint64{1, 2}},
		{"exactly full", 3, 3, []uint64{1, 2, 3}},
		{"wrapped once", 3, 4, []uint64{2, 3, 4}},
		{"wrapped many", 3, 10, []uint64{8, 9, 10}},
		{"zero capacity", 0, 4, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRing(tt.capacity)
			for i := 1; i <= tt.pushes; i++ {
				r.push(runtime.LogEvent{Seq: uint64(i)})
			}
			got := r.items()
			if len(got) != len(tt.want) {
				t.Fatalf("items() len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].Seq != tt.want[i] {
					t.Errorf("items()[%d].Seq = %d, want %d", i, got[i].Seq, tt.want[i])
				}
			}
		})
	}
}
