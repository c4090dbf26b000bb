package geocode

import (
	"context"
	"errors"
	"strings"

	"github.com/civicpulse/backend/internal/models"
)

var ErrNotFound = errors.New("geocode not found")

type Geocoder interface {
	Geocode(ctx context.Context, query string) (lat float64, lon float64, displayName string, confidence float64, err error)
}

// BuildQuery assembles a geocoding query from tenant context and the
// report's free-text location.
func BuildQuery(tenantName string, areaName string, location string) string {
	parts := []string{}
	for _, p := range []string{tenantName, areaName, location} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// ShouldGeocode reports whether an area still needs coordinates.
func ShouldGeocode(area models.Area, force bool) bool {
	if force {
		return true
	}
	return area.Lat == nil || area.Lon == nil
}
