package cache

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/kjstillabower/wind-field-service/internal/models"
)

// globalDocs builds a document pair the size of a 1-degree global grid.
func globalDocs() models.WindDocuments {
	const nx, ny = 360, 181
	u := make(models.Cells, nx*ny)
	v := make(models.Cells, nx*ny)
	for i := range u {
		u[i] = rand.Float64()*40 - 20
		v[i] = rand.Float64()*40 - 20
	}
	h := models.GridHeader{Nx: nx, Ny: ny, Dx: 1, Dy: 1}
	return models.WindDocuments{{Header: h, Data: u}, {Header: h, Data: v}}
}

// BenchmarkInMemoryCache_Get_Hit benchmarks cache Get operation on cache hit.
func BenchmarkInMemoryCache_Get_Hit(b *testing.B) {
	c := NewInMemoryCache(DefaultMaxAge, nil)
	ctx := context.Background()
	_ = c.Set(ctx, testKey(3), globalDocs())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = c.Get(ctx, testKey(3))
	}
}

// BenchmarkInMemoryCache_Get_Miss benchmarks cache Get operation on cache miss.
func BenchmarkInMemoryCache_Get_Miss(b *testing.B) {
	c := NewInMemoryCache(DefaultMaxAge, nil)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = c.Get(ctx, testKey(3))
	}
}

// BenchmarkFileCache_Set benchmarks writing a global document pair to disk.
func BenchmarkFileCache_Set(b *testing.B) {
	c, err := NewFileCache(b.TempDir(), time.Hour, nil)
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()
	docs := globalDocs()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := c.Set(ctx, testKey(3), docs); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkFileCache_Get_Hit benchmarks reading and decoding a global document pair.
func BenchmarkFileCache_Get_Hit(b *testing.B) {
	c, err := NewFileCache(b.TempDir(), time.Hour, nil)
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()
	if err := c.Set(ctx, testKey(3), globalDocs()); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, ok, err := c.Get(ctx, testKey(3)); err != nil || !ok {
			b.Fatalf("Get() = %v, %v", ok, err)
		}
	}
}
