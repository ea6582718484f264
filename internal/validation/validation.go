// Package validation parses and checks inbound wind-field requests.
package validation

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kjstillabower/wind-field-service/internal/models"
)

// ErrParse is returned when the target time is not an ISO-8601 instant.
var ErrParse = errors.New("invalid target time")

// ErrInvalidRequest is returned when a request field is missing or out of range.
var ErrInvalidRequest = errors.New("invalid request")

// ErrMissingParams is returned when a GET lookup omits lat, lng or datetime.
var ErrMissingParams = errors.New("missing required parameters: lat, lng, datetime")

var validate = validator.New()

// Layouts accepted for naive (zone-less) timestamps, interpreted as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02T15",
	"2006-01-02",
}

// ParseTargetTime parses an ISO-8601 timestamp. A trailing Z or an explicit offset is
// honoured; timestamps without a zone are treated as UTC. The result is in UTC.
func ParseTargetTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrParse)
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999Z07:00", "2006-01-02T15:04Z07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q is not ISO-8601", ErrParse, s)
}

// GFSDataRequest is the POST /api/get_gfs_data body.
type GFSDataRequest struct {
	Lat   *float64 `json:"lat" validate:"omitempty,gte=-90,lte=90"`
	Lon   *float64 `json:"lon" validate:"omitempty,gte=-180,lte=360"`
	Date  string   `json:"date" validate:"required"`
	Level *int     `json:"level" validate:"omitempty,gt=0,lte=1000"`
}

// WeatherQuery is the GET /api/weather query string.
type WeatherQuery struct {
	Lat      *float64 `validate:"required,gte=-90,lte=90"`
	Lng      *float64 `validate:"required,gte=-180,lte=360"`
	Datetime string   `validate:"required"`
	Level    *int     `validate:"omitempty,gt=0,lte=1000"`
}

// ParseWeatherQuery reads lat, lng, datetime and level from q. Missing required
// parameters yield ErrMissingParams; unparsable numbers yield ErrInvalidRequest.
func ParseWeatherQuery(q url.Values) (WeatherQuery, error) {
	var wq WeatherQuery
	if q.Get("lat") == "" || q.Get("lng") == "" || q.Get("datetime") == "" {
		return wq, ErrMissingParams
	}
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		return wq, fmt.Errorf("%w: lat must be a number", ErrInvalidRequest)
	}
	lng, err := strconv.ParseFloat(q.Get("lng"), 64)
	if err != nil {
		return wq, fmt.Errorf("%w: lng must be a number", ErrInvalidRequest)
	}
	wq.Lat, wq.Lng, wq.Datetime = &lat, &lng, q.Get("datetime")
	if s := q.Get("level"); s != "" {
		level, err := strconv.Atoi(s)
		if err != nil {
			return wq, fmt.Errorf("%w: level must be an integer", ErrInvalidRequest)
		}
		wq.Level = &level
	}
	return wq, nil
}

// TargetRequest validates r and converts it to a models.TargetRequest.
func (r GFSDataRequest) TargetRequest() (models.TargetRequest, error) {
	if err := check(r); err != nil {
		return models.TargetRequest{}, err
	}
	return buildTarget(r.Date, r.Level, r.Lat, r.Lon)
}

// TargetRequest validates q and converts it to a models.TargetRequest.
func (q WeatherQuery) TargetRequest() (models.TargetRequest, error) {
	if err := check(q); err != nil {
		return models.TargetRequest{}, err
	}
	return buildTarget(q.Datetime, q.Level, q.Lat, q.Lng)
}

// LevelOrDefault returns level, or 850 hPa when absent.
func LevelOrDefault(level *int) int {
	if level == nil {
		return models.DefaultLevel
	}
	return *level
}

func buildTarget(ts string, level *int, lat, lon *float64) (models.TargetRequest, error) {
	t, err := ParseTargetTime(ts)
	if err != nil {
		return models.TargetRequest{}, err
	}
	req := models.TargetRequest{TargetTime: t, Level: LevelOrDefault(level)}
	if lat != nil {
		req.Latitude = *lat
	}
	if lon != nil {
		req.Longitude = *lon
	}
	return req, nil
}

// check runs struct validation and flattens failures into one ErrInvalidRequest.
func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	name := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return name + " is required"
	case "gte", "gt":
		return fmt.Sprintf("%s must be at least %s", name, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", name, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", name, fe.Tag())
	}
}
