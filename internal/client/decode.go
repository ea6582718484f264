package client

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// undefinedThreshold sits just under the GRIB missing value 9.999e20, which float32 rounds down.
const undefinedThreshold = 9.99e20

// Decoder turns a GRIB2 message sequence into raw grid values, record after record,
// each record West-to-East then South-to-North.
type Decoder interface {
	Decode(ctx context.Context, grib []byte) ([]float32, error)
}

// Wgrib2Decoder decodes with the external wgrib2 binary ("-no_header -bin").
type Wgrib2Decoder struct {
	// Path is the wgrib2 executable; looked up in PATH when it has no separator.
	Path string
	// TempDir holds the scratch files; empty uses the OS default.
	TempDir string
}

// Decode writes grib to a scratch file, runs wgrib2 and reads back the little-endian float32 output.
func (d Wgrib2Decoder) Decode(ctx context.Context, grib []byte) ([]float32, error) {
	path := d.Path
	if path == "" {
		path = "wgrib2"
	}
	dir, err := os.MkdirTemp(d.TempDir, "wgrib2-*")
	if err != nil {
		return nil, fmt.Errorf("%w: scratch dir: %v", ErrDecode, err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.grb2")
	out := filepath.Join(dir, "out.bin")
	if err := os.WriteFile(in, grib, 0o600); err != nil {
		return nil, fmt.Errorf("%w: write grib: %v", ErrDecode, err)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, "-no_header", "-bin", out, in)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: wgrib2: %v: %s", ErrDecode, err, strings.TrimSpace(stderr.String()))
	}

	f, err := os.Open(out)
	if err != nil {
		return nil, fmt.Errorf("%w: open output: %v", ErrDecode, err)
	}
	defer f.Close()
	return readFloat32s(f)
}

// readFloat32s reads a headerless little-endian float32 stream.
func readFloat32s(r io.Reader) ([]float32, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read output: %v", ErrDecode, err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("%w: output length %d not a multiple of 4", ErrDecode, len(raw))
	}
	vals := make([]float32, len(raw)/4)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, vals); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return vals, nil
}

// toNorthFirst converts one South-to-North record to float64 rows ordered North-to-South,
// mapping the GRIB undefined sentinel to NaN.
func toNorthFirst(rec []float32, nx, ny int) []float64 {
	out := make([]float64, nx*ny)
	for j := 0; j < ny; j++ {
		src := rec[j*nx : (j+1)*nx]
		dst := out[(ny-1-j)*nx : (ny-j)*nx]
		for i, v := range src {
			if math.Abs(float64(v)) >= undefinedThreshold {
				dst[i] = math.NaN()
				continue
			}
			dst[i] = float64(v)
		}
	}
	return out
}
