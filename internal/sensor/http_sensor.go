package sensor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// HTTPSensor reads distances from an ESP32-style sensor controller that
// exposes GET /distance?channel=N. A 503 from the controller or an
// out-of-range value maps to ErrUnavailable.
type HTTPSensor struct {
	baseURL string
	client  *http.Client

	// Valid echo range for the ultrasonic modules; outside it the reading
	// is noise.
	minRange float64
	maxRange float64
}

func NewHTTPSensor(baseURL string, timeout time.Duration) *HTTPSensor {
	return &HTTPSensor{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: timeout},
		minRange: 2,
		maxRange: 400,
	}
}

type distanceResponse struct {
	DistanceCM float64 `json:"distance_cm"`
}

func (s *HTTPSensor) Measure(ctx context.Context, channel int) (float64, error) {
	u := s.baseURL + "/distance?channel=" + url.QueryEscape(strconv.Itoa(channel))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return 0, ErrUnavailable
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("sensor controller returned %s for channel %d", resp.Status, channel)
	}

	var body distanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decoding sensor response: %w", err)
	}
	if body.DistanceCM < s.minRange || body.DistanceCM > s.maxRange {
		return 0, ErrUnavailable
	}
	return body.DistanceCM, nil
}
