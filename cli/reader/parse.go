package reader

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ParseMetricsPayload converts one persisted heartbeat row into a
// MetricsView. The payload is the JSON form of a collector snapshot;
// the row timestamp rides alongside it.
func ParseMetricsPayload(at time.Time, payload []byte) (*MetricsView, error) {
	if len(payload) == 0 {
		return nil, errors.New("empty metrics payload")
	}

	view := &MetricsView{}
	if err := json.Unmarshal(payload, view); err != nil {
		return nil, fmt.Errorf("malformed metrics payload: %w", err)
	}
	view.At = at

	// The write path always stamps dimensions; a payload without them
	// is from something other than a mosaic daemon.
	if view.Policy == "" {
		return nil, errors.New("metrics payload missing required field: policy")
	}
	if view.StoreBackend == "" {
		return nil, errors.New("metrics payload missing required field: store_backend")
	}

	return view, nil
}
