package recording

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func TestEncodeWAVRoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		sampleRate int
		channels   int
	}{
		{"mono 44.1k", 44100, 1},
		{"stereo 48k", 48000, 2},
		{"mono 8k", 8000, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples := make([]int16, 300*tt.channels)
			for i := range samples {
				samples[i] = int16((i*7919)%65536 - 32768)
			}
			pcm := samplesToPCM(samples)

			data, err := EncodeWAV(pcm, tt.sampleRate, tt.channels, 16)
			if err != nil {
				t.Fatalf("EncodeWAV() error = %v", err)
			}

			if got := len(data); got != WAVHeaderSize+len(pcm) {
				t.Errorf("len(data) = %d, want %d", got, WAVHeaderSize+len(pcm))
			}
			if got := binary.LittleEndian.Uint32(data[40:44]); int(got) != len(pcm) {
				t.Errorf("data chunk size = %d, want %d", got, len(pcm))
			}
			if got := binary.LittleEndian.Uint32(data[4:8]); int(got) != 36+len(pcm) {
				t.Errorf("RIFF chunk size = %d, want %d", got, 36+len(pcm))
			}

			dec := wav.NewDecoder(bytes.NewReader(data))
			if !dec.IsValidFile() {
				t.Fatal("decoder reports invalid WAV file")
			}

			var buf *goaudio.IntBuffer
			buf, err = dec.FullPCMBuffer()
			if err != nil {
				t.Fatalf("FullPCMBuffer() error = %v", err)
			}
			if int(dec.SampleRate) != tt.sampleRate {
				t.Errorf("SampleRate = %d, want %d", dec.SampleRate, tt.sampleRate)
			}
			if int(dec.NumChans) != tt.channels {
				t.Errorf("NumChans = %d, want %d", dec.NumChans, tt.channels)
			}
			if dec.BitDepth != 16 {
				t.Errorf("BitDepth = %d, want 16", dec.BitDepth)
			}
			if len(buf.Data) != len(samples) {
				t.Fatalf("decoded %d samples, want %d", len(buf.Data), len(samples))
			}
			for i, s := range samples {
				if buf.Data[i] != int(s) {
					t.Fatalf("sample %d = %d, want %d", i, buf.Data[i], s)
				}
			}
		})
	}
}

func TestEncodeWAVRejectsEmptyPayload(t *testing.T) {
	data, err := EncodeWAV(nil, 44100, 1, 16)
	if !errors.Is(err, ErrEmptyPayload) {
		t.Errorf("EncodeWAV(nil) error = %v, want ErrEmptyPayload", err)
	}
	if data != nil {
		t.Errorf("EncodeWAV(nil) returned %d bytes, want none", len(data))
	}
}

func TestEncodeWAVRejectsPartialFrames(t *testing.T) {
	if _, err := EncodeWAV([]byte{1, 2, 3}, 44100, 2, 16); err == nil {
		t.Error("EncodeWAV() accepted a payload that is not a whole number of frames")
	}
}

func TestEncodeWAVDeterministic(t *testing.T) {
	pcm := samplesToPCM([]int16{1, -1, 100, -100})
	a, err := EncodeWAV(pcm, 16000, 1, 16)
	if err != nil {
		t.Fatal(err)
	}
	b, err := EncodeWAV(pcm, 16000, 1, 16)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("EncodeWAV() output differs between identical calls")
	}
	if string(a[0:4]) != "RIFF" || string(a[8:12]) != "WAVE" || string(a[12:16]) != "fmt " || string(a[36:40]) != "data" {
		t.Errorf("unexpected chunk identifiers in header % x", a[:44])
	}
}
