package main

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestParseObjectURL(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{name: "nested key", raw: "bm://photos/2024/cat.jpg", wantBucket: "photos", wantKey: "2024/cat.jpg"},
		{name: "flat key", raw: "bm://photos/cat.jpg", wantBucket: "photos", wantKey: "cat.jpg"},
		{name: "wrong scheme", raw: "s3://photos/cat.jpg", wantErr: true},
		{name: "missing key", raw: "bm://photos", wantErr: true},
		{name: "empty key", raw: "bm://photos/", wantErr: true},
		{name: "missing bucket", raw: "bm:///cat.jpg", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, key, err := parseObjectURL(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseObjectURL(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if bucket != tt.wantBucket || key != tt.wantKey {
				t.Errorf("parseObjectURL(%q) = %q, %q, want %q, %q", tt.raw, bucket, key, tt.wantBucket, tt.wantKey)
			}
		})
	}
}

func TestRangeFlags(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantStart *int64
		wantEnd   *int64
	}{
		{name: "none", args: nil},
		{name: "start only", args: []string{"--start=10"}, wantStart: ptr(10)},
		{name: "both", args: []string{"--start=0", "--end=5"}, wantStart: ptr(0), wantEnd: ptr(5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
			flags.Int64("start", 0, "")
			flags.Int64("end", 0, "")
			if err := flags.Parse(tt.args); err != nil {
				t.Fatal(err)
			}

			start, end, err := rangeFlags(flags)
			if err != nil {
				t.Fatal(err)
			}
			if !equalPtr(start, tt.wantStart) || !equalPtr(end, tt.wantEnd) {
				t.Errorf("rangeFlags(%v) = %v, %v", tt.args, start, end)
			}
		})
	}
}

func TestParseOffsets(t *testing.T) {
	start, end, err := parseOffsets([]string{"4096", "8192"})
	if err != nil || start != 4096 || end != 8192 {
		t.Fatalf("parseOffsets = %d, %d, %v", start, end, err)
	}
	if _, _, err := parseOffsets([]string{"x", "1"}); err == nil {
		t.Error("expected error for invalid start")
	}
}

func ptr(v int64) *int64 { return &v }

func equalPtr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
