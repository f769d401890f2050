package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// GCP file locations relative to the first photo path.
var (
	gcpImageCoordsFile = filepath.Join("gcps", "prepared", "gcp_imagecoords_table.csv")
	gcpWorldFile       = filepath.Join("gcps", "prepared", "gcp_table.csv")
)

// GCPProjection places a marker on one photo, in pixels.
type GCPProjection struct {
	Marker string  `json:"marker"`
	Camera string  `json:"camera"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// GCPLocation is a marker's real-world coordinate.
type GCPLocation struct {
	Marker string  `json:"marker"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Z      float64 `json:"z"`
}

// GCPFiles returns the marker projection and marker location tables read for
// a mission whose first photo path is photoRoot.
func GCPFiles(photoRoot string) []string {
	return []string{
		filepath.Join(photoRoot, gcpImageCoordsFile),
		filepath.Join(photoRoot, gcpWorldFile),
	}
}

// GCPSet is the prepared ground control for a mission.
type GCPSet struct {
	Projections []GCPProjection
	Locations   []GCPLocation
}

// Markers returns marker labels in first-seen order.
func (s GCPSet) Markers() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(label string) {
		if !seen[label] {
			seen[label] = true
			out = append(out, label)
		}
	}
	for _, p := range s.Projections {
		add(p.Marker)
	}
	for _, l := range s.Locations {
		add(l.Marker)
	}
	return out
}

// ReadGCPs loads the prepared GCP tables under photoRoot.
func ReadGCPs(photoRoot string) (GCPSet, error) {
	var set GCPSet
	rows, err := readCSV(filepath.Join(photoRoot, gcpImageCoordsFile), 4)
	if err != nil {
		return GCPSet{}, err
	}
	for _, row := range rows {
		x, y, err := parseFloats(row[2], row[3])
		if err != nil {
			return GCPSet{}, fmt.Errorf("%s: marker %s: %w", gcpImageCoordsFile, row[0], err)
		}
		set.Projections = append(set.Projections, GCPProjection{Marker: row[0], Camera: row[1], X: x, Y: y})
	}
	rows, err = readCSV(filepath.Join(photoRoot, gcpWorldFile), 4)
	if err != nil {
		return GCPSet{}, err
	}
	for _, row := range rows {
		coords := make([]float64, 3)
		for i := range coords {
			v, err := strconv.ParseFloat(strings.TrimSpace(row[i+1]), 64)
			if err != nil {
				return GCPSet{}, fmt.Errorf("%s: marker %s: %w", gcpWorldFile, row[0], err)
			}
			coords[i] = v
		}
		set.Locations = append(set.Locations, GCPLocation{Marker: row[0], X: coords[0], Y: coords[1], Z: coords[2]})
	}
	return set, nil
}

func readCSV(path string, fields int) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gcp table: %w", err)
	}
	defer f.Close()
	reader := csv.NewReader(f)
	reader.FieldsPerRecord = fields
	reader.TrimLeadingSpace = true
	var rows [][]string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		for i := range row {
			row[i] = strings.Trim(row[i], `"`)
		}
		rows = append(rows, row)
	}
}

func parseFloats(a, b string) (float64, float64, error) {
	x, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
	if err != nil {
		return 0, 0, err
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(b), 64)
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}
