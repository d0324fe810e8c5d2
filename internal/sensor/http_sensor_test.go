package sensor

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSensorMeasure(t *testing.T) {
	ctx := context.Background()

	t.Run("valid reading", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/distance", r.URL.Path)
			assert.Equal(t, "3", r.URL.Query().Get("channel"))
			fmt.Fprint(w, `{"distance_cm": 27.4}`)
		}))
		defer srv.Close()

		s := NewHTTPSensor(srv.URL, time.Second)
		distance, err := s.Measure(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, 27.4, distance)
	})

	t.Run("controller busy maps to unavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		s := NewHTTPSensor(srv.URL, time.Second)
		_, err := s.Measure(ctx, 1)
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("out of range echo is noise", func(t *testing.T) {
		for _, body := range []string{`{"distance_cm": 1.0}`, `{"distance_cm": 900.0}`} {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, body)
			}))
			s := NewHTTPSensor(srv.URL, time.Second)
			_, err := s.Measure(ctx, 1)
			assert.ErrorIs(t, err, ErrUnavailable, "body %s", body)
			srv.Close()
		}
	})

	t.Run("unexpected status is a real error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		s := NewHTTPSensor(srv.URL, time.Second)
		_, err := s.Measure(ctx, 1)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrUnavailable)
	})

	t.Run("unreachable controller maps to unavailable", func(t *testing.T) {
		s := NewHTTPSensor("http://127.0.0.1:1", 100*time.Millisecond)
		_, err := s.Measure(ctx, 1)
		assert.ErrorIs(t, err, ErrUnavailable)
	})
}
