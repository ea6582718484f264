package validation

import (
	"errors"
	"net/url"
	"testing"
	"time"
)

func ptr[T any](v T) *T { return &v }

func TestParseTargetTime(t *testing.T) {
	want := time.Date(2024, 3, 10, 5, 0, 0, 0, time.UTC)
	tests := []struct {
		input string
		want  time.Time
	}{
		{"2024-03-10T05:00:00Z", want},
		{"2024-03-10T05:00:00", want},
		{"2024-03-10 05:00:00", want},
		{"2024-03-10T05:00", want},
		{"2024-03-10T05:00:00.000Z", want},
		{"2024-03-10T00:00:00-05:00", want},
		{"2024-03-10T10:30:00+05:30", want},
		{"  2024-03-10T05:00:00Z ", want},
		{"2024-03-10", time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := ParseTargetTime(tt.input)
		if err != nil {
			t.Errorf("ParseTargetTime(%q) error = %v", tt.input, err)
			continue
		}
		if !got.Equal(tt.want) || got.Location() != time.UTC {
			t.Errorf("ParseTargetTime(%q) = %v, want %v UTC", tt.input, got, tt.want)
		}
	}
}

func TestParseTargetTime_Invalid(t *testing.T) {
	for _, input := range []string{"", "yesterday", "2024-13-40T00:00:00Z", "10/03/2024", "1710046800"} {
		if _, err := ParseTargetTime(input); !errors.Is(err, ErrParse) {
			t.Errorf("ParseTargetTime(%q) error = %v, want ErrParse", input, err)
		}
	}
}

func TestGFSDataRequest_TargetRequest(t *testing.T) {
	req := GFSDataRequest{Lat: ptr(40.7), Lon: ptr(-74.0), Date: "2024-03-10T05:00:00Z"}
	got, err := req.TargetRequest()
	if err != nil {
		t.Fatalf("TargetRequest() error = %v", err)
	}
	if got.Level != 850 {
		t.Errorf("Level = %d, want default 850", got.Level)
	}
	if got.Latitude != 40.7 || got.Longitude != -74.0 {
		t.Errorf("coordinates = %v, %v", got.Latitude, got.Longitude)
	}

	req.Level = ptr(500)
	if got, _ := req.TargetRequest(); got.Level != 500 {
		t.Errorf("Level = %d, want 500", got.Level)
	}
}

func TestGFSDataRequest_TargetRequest_Invalid(t *testing.T) {
	tests := []struct {
		name string
		req  GFSDataRequest
		want error
	}{
		{"missing date", GFSDataRequest{}, ErrInvalidRequest},
		{"lat out of range", GFSDataRequest{Lat: ptr(91.0), Date: "2024-03-10"}, ErrInvalidRequest},
		{"negative level", GFSDataRequest{Level: ptr(-1), Date: "2024-03-10"}, ErrInvalidRequest},
		{"bad date", GFSDataRequest{Date: "not a date"}, ErrParse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.req.TargetRequest(); !errors.Is(err, tt.want) {
				t.Errorf("TargetRequest() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseWeatherQuery(t *testing.T) {
	q := url.Values{"lat": {"42.45"}, "lng": {"-76.48"}, "datetime": {"2024-05-01T07:15:00"}, "level": {"700"}}
	wq, err := ParseWeatherQuery(q)
	if err != nil {
		t.Fatalf("ParseWeatherQuery() error = %v", err)
	}
	req, err := wq.TargetRequest()
	if err != nil {
		t.Fatalf("TargetRequest() error = %v", err)
	}
	if req.Level != 700 || req.Latitude != 42.45 || req.Longitude != -76.48 {
		t.Errorf("TargetRequest() = %+v", req)
	}
	if !req.TargetTime.Equal(time.Date(2024, 5, 1, 7, 15, 0, 0, time.UTC)) {
		t.Errorf("TargetTime = %v", req.TargetTime)
	}
}

func TestParseWeatherQuery_Errors(t *testing.T) {
	tests := []struct {
		name string
		q    url.Values
		want error
	}{
		{"missing lat", url.Values{"lng": {"1"}, "datetime": {"2024-05-01"}}, ErrMissingParams},
		{"missing datetime", url.Values{"lat": {"1"}, "lng": {"1"}}, ErrMissingParams},
		{"non-numeric lat", url.Values{"lat": {"north"}, "lng": {"1"}, "datetime": {"2024-05-01"}}, ErrInvalidRequest},
		{"non-integer level", url.Values{"lat": {"1"}, "lng": {"1"}, "datetime": {"2024-05-01"}, "level": {"high"}}, ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseWeatherQuery(tt.q); !errors.Is(err, tt.want) {
				t.Errorf("ParseWeatherQuery() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestWeatherQuery_TargetRequest_OutOfRange(t *testing.T) {
	wq := WeatherQuery{Lat: ptr(-95.0), Lng: ptr(0.0), Datetime: "2024-05-01"}
	_, err := wq.TargetRequest()
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("TargetRequest() error = %v, want ErrInvalidRequest", err)
	}
	if got := err.Error(); got != "invalid request: lat must be at least -90" {
		t.Errorf("error message = %q", got)
	}
}
