package service_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/zzenonn/blockmap/internal/rangeutil"
)

var benchmarkSizes = []struct {
	name string
	size int
}{
	{"1KB", 1024},
	{"100KB", 100 * 1024},
	{"1MB", 1024 * 1024},
	{"10MB", 10 * 1024 * 1024},
}

func BenchmarkFileService_Upload(b *testing.B) {
	for _, size := range benchmarkSizes {
		b.Run(size.name, func(b *testing.B) {
			f := setupFileService(b, 4, 1<<20)
			data := randomBytes(b, size.size)
			ctx := context.Background()

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				if _, err := f.files.Upload(ctx, testBucket(2), "benchmark/test-file", bytes.NewReader(data)); err != nil {
					b.Fatalf("Upload failed: %v", err)
				}
			}
		})
	}
}

func BenchmarkFileService_Download(b *testing.B) {
	for _, size := range benchmarkSizes {
		b.Run(size.name, func(b *testing.B) {
			f := setupFileService(b, 4, 1<<20)
			ctx := context.Background()
			if _, err := f.files.Upload(ctx, testBucket(2), "benchmark/test-file", bytes.NewReader(randomBytes(b, size.size))); err != nil {
				b.Fatalf("Upload failed: %v", err)
			}

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				if err := f.files.Download(ctx, "photos", "benchmark/test-file", nil, nil, io.Discard); err != nil {
					b.Fatalf("Download failed: %v", err)
				}
			}
		})
	}
}

// BenchmarkObjectMapper_ReadMappings measures range lookups on an object
// with many parts.
func BenchmarkObjectMapper_ReadMappings(b *testing.B) {
	for _, parts := range []int{10, 100, 1000} {
		b.Run(fmt.Sprintf("%dparts", parts), func(b *testing.B) {
			f := setupFileService(b, 4, 1<<20)
			ctx := context.Background()
			obj := testObject(int64(parts) * 100)
			for i := 0; i < parts; i++ {
				start := int64(i) * 100
				if _, err := f.mapper.Allocate(ctx, testBucket(1), obj, start, start+100, 100, testCrypt); err != nil {
					b.Fatalf("Allocate failed: %v", err)
				}
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				start := int64(i%parts) * 100
				if _, err := f.mapper.ReadMappings(ctx, obj, rangeutil.Offset(start), rangeutil.Offset(start+250)); err != nil {
					b.Fatalf("ReadMappings failed: %v", err)
				}
			}
		})
	}
}
