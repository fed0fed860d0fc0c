package domain

import (
	"errors"
	"fmt"
)

const (
	EncodingHigh = "high"
	EncodingLow  = "low"
)

var ErrInvalidEncoding = errors.New("invalid encoding")

// Encoding is one simulcast tier offered by a video publication.
type Encoding struct {
	ID                    string  `json:"id" mapstructure:"id"`
	ScaleResolutionDownBy float64 `json:"scale_resolution_down_by" mapstructure:"scale_resolution_down_by"`
	MaxBitrate            int     `json:"max_bitrate" mapstructure:"max_bitrate"`
	// MaxFramerate of zero leaves the frame rate uncapped.
	MaxFramerate float64 `json:"max_framerate,omitempty" mapstructure:"max_framerate"`
}

type Encodings []Encoding

func (es Encodings) Validate() error {
	seen := make(map[string]struct{}, len(es))
	for i, e := range es {
		if e.ID == "" {
			return fmt.Errorf("%w: encoding %d has no id", ErrInvalidEncoding, i)
		}
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidEncoding, e.ID)
		}
		seen[e.ID] = struct{}{}
		if e.ScaleResolutionDownBy < 1 {
			return fmt.Errorf("%w: %q scale %.2f below 1", ErrInvalidEncoding, e.ID, e.ScaleResolutionDownBy)
		}
		if e.MaxBitrate <= 0 {
			return fmt.Errorf("%w: %q max bitrate must be positive", ErrInvalidEncoding, e.ID)
		}
		if e.MaxFramerate < 0 {
			return fmt.Errorf("%w: %q max framerate negative", ErrInvalidEncoding, e.ID)
		}
	}
	return nil
}

func (es Encodings) Has(id string) bool {
	for _, e := range es {
		if e.ID == id {
			return true
		}
	}
	return false
}

// Highest returns the id of the tier with the largest bitrate cap, or "" when empty.
func (es Encodings) Highest() string {
	best := -1
	for i, e := range es {
		if best < 0 || e.MaxBitrate > es[best].MaxBitrate {
			best = i
		}
	}
	if best < 0 {
		return ""
	}
	return es[best].ID
}
