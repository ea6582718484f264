package models

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
)

// GridHeader is the metadata block of a wire grid document.
type GridHeader struct {
	Discipline            int     `json:"discipline"`
	DisciplineName        string  `json:"disciplineName"`
	ParameterCategory     int     `json:"parameterCategory"`
	ParameterCategoryName string  `json:"parameterCategoryName"`
	ParameterNumber       int     `json:"parameterNumber"`
	ParameterNumberName   string  `json:"parameterNumberName"`
	ParameterUnit         string  `json:"parameterUnit"`
	ForecastTime          int     `json:"forecastTime"`
	RefTime               string  `json:"refTime"`
	Surface1Type          int     `json:"surface1Type"`
	Surface1TypeName      string  `json:"surface1TypeName"`
	Surface1Value         int     `json:"surface1Value"`
	GridDefinition        string  `json:"gridDefinition"`
	Nx                    int     `json:"nx"`
	Ny                    int     `json:"ny"`
	Lo1                   float64 `json:"lo1"`
	La1                   float64 `json:"la1"`
	Lo2                   float64 `json:"lo2"`
	La2                   float64 `json:"la2"`
	Dx                    float64 `json:"dx"`
	Dy                    float64 `json:"dy"`
	Unit                  string  `json:"unit"`
}

// GridDocument is one scalar component of the wind field as sent to clients.
type GridDocument struct {
	Header GridHeader `json:"header"`
	Data   Cells      `json:"data"`
}

// WindDocuments is the [u, v] document pair returned for every lookup.
type WindDocuments [2]GridDocument

// U returns the eastward component document.
func (d WindDocuments) U() GridDocument { return d[0] }

// V returns the northward component document.
func (d WindDocuments) V() GridDocument { return d[1] }

// Cells is a flat row-major data buffer. Non-finite values encode as JSON null
// and null decodes as NaN.
type Cells []float64

// MarshalJSON implements json.Marshaler.
func (c Cells) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte("[]"), nil
	}
	buf := make([]byte, 0, len(c)*8+2)
	buf = append(buf, '[')
	for i, v := range c {
		if i > 0 {
			buf = append(buf, ',')
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			buf = append(buf, "null"...)
			continue
		}
		buf = strconv.AppendFloat(buf, v, 'g', -1, 64)
	}
	buf = append(buf, ']')
	return buf, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Cells) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*c = nil
		return nil
	}
	var raw []*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Cells, len(raw))
	for i, p := range raw {
		if p == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *p
	}
	*c = out
	return nil
}

// Equal reports whether both buffers hold the same values, treating NaN cells
// as equal to each other.
func (c Cells) Equal(other Cells) bool {
	if len(c) != len(other) {
		return false
	}
	for i := range c {
		a, b := c[i], other[i]
		if math.IsNaN(a) || math.IsNaN(b) {
			if math.IsNaN(a) != math.IsNaN(b) {
				return false
			}
			continue
		}
		if a != b {
			return false
		}
	}
	return true
}
