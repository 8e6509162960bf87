package media

import (
	"strings"
	"testing"
	"time"
)

func TestChunkStarts(t *testing.T) {
	cases := []struct {
		name     string
		duration time.Duration
		length   time.Duration
		overlap  time.Duration
		want     []time.Duration
	}{
		{
			name:     "shorter than one chunk",
			duration: 4 * time.Minute,
			length:   10 * time.Minute,
			want:     []time.Duration{0},
		},
		{
			name:     "exact multiple",
			duration: 20 * time.Minute,
			length:   10 * time.Minute,
			want:     []time.Duration{0, 10 * time.Minute},
		},
		{
			name:     "partial final chunk",
			duration: 25 * time.Minute,
			length:   10 * time.Minute,
			want:     []time.Duration{0, 10 * time.Minute, 20 * time.Minute},
		},
		{
			name:     "with overlap the stride shrinks",
			duration: 25 * time.Minute,
			length:   10 * time.Minute,
			overlap:  2 * time.Minute,
			want:     []time.Duration{0, 8 * time.Minute, 16 * time.Minute, 24 * time.Minute},
		},
		{
			name:     "zero duration still yields one chunk",
			duration: 0,
			length:   10 * time.Minute,
			want:     []time.Duration{0},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := chunkStarts(tc.duration, tc.length, tc.overlap)
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("start[%d] = %v, want %v", i, got[i], tc.want[i])
				}
			}
		})
	}
}

// TestTranscodeArgsAudioProfile pins the audio conversion profile the
// transcription API expects: no video, mono, 16 kHz.
func TestTranscodeArgsAudioProfile(t *testing.T) {
	joined := strings.Join(transcodeArgs("/tmp/input.mp4"), " ")
	for _, want := range []string{"-vn", "-ac 1", "-ar 16000", "-i /tmp/input.mp4"} {
		if !strings.Contains(joined, want) {
			t.Errorf("transcode args %q missing %q", joined, want)
		}
	}
}

func TestFormatSeconds(t *testing.T) {
	if got := formatSeconds(600 * time.Second); got != "600.000" {
		t.Errorf("formatSeconds(600s) = %q, want 600.000", got)
	}
	if got := formatSeconds(1500 * time.Millisecond); got != "1.500" {
		t.Errorf("formatSeconds(1.5s) = %q, want 1.500", got)
	}
}
