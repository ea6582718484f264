package client

import (
	"fmt"
	"strings"
	"testing"
)

// BenchmarkParseInventory benchmarks parsing a full-size pressure-level index.
func BenchmarkParseInventory(b *testing.B) {
	var sb strings.Builder
	for i := 1; i <= 700; i++ {
		fmt.Fprintf(&sb, "%d:%d:d=2024031000:UGRD:%d mb:3 hour fcst:\n", i, i*400000, i)
	}
	index := sb.String()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = ParseInventory(strings.NewReader(index))
	}
}

// BenchmarkGFSClient_BuildGrid benchmarks flipping and rolling a 0.25 degree u/v pair.
func BenchmarkGFSClient_BuildGrid(b *testing.B) {
	c, _ := NewGFSClient(GFSOptions{})
	nx, ny := c.Dims()
	vals := make([]float32, 2*nx*ny)
	for i := range vals {
		vals[i] = float32(i % 40)
	}
	names := []string{"u", "v"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.buildGrid(vals, names)
	}
}
