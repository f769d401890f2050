package pipeline

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	"automate-metashape/internal/engine"
	"automate-metashape/internal/project"
)

const (
	excludedPhoto  = "dem_usgs.tif"
	secondaryGroup = "secondary"
)

var photoExtensions = []string{".jpg", ".JPG", ".tif", ".TIF"}

// PhotoGroup is the photos found under one configured root.
type PhotoGroup struct {
	Name      string
	Root      string
	Secondary bool
	Photos    []engine.Photo
}

// DiscoverPhotos walks root recursively and returns the images it holds.
// Labels are slash-separated paths relative to root, prefixed with prefix
// when non-empty.
func DiscoverPhotos(root, prefix string) ([]engine.Photo, error) {
	var photos []engine.Photo
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isPhoto(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		label := filepath.ToSlash(rel)
		if prefix != "" {
			label = prefix + "/" + label
		}
		photos = append(photos, engine.Photo{Label: label, Path: path})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan photos in %s: %w", root, err)
	}
	slices.SortFunc(photos, func(a, b engine.Photo) int { return strings.Compare(a.Label, b.Label) })
	return photos, nil
}

func isPhoto(name string) bool {
	if name == excludedPhoto {
		return false
	}
	return slices.Contains(photoExtensions, filepath.Ext(name))
}

// PhotoGroups discovers one group per primary root plus the secondary root.
// With several primary roots, labels carry the root's base name so they stay
// unique across groups.
func PhotoGroups(primary []string, secondary string) ([]PhotoGroup, error) {
	var groups []PhotoGroup
	for i, root := range primary {
		name := filepath.Base(root)
		prefix := ""
		if len(primary) > 1 {
			prefix = name
		}
		photos, err := DiscoverPhotos(root, prefix)
		if err != nil {
			return nil, err
		}
		if name == "" || name == "." || name == string(filepath.Separator) {
			name = fmt.Sprintf("group-%d", i+1)
		}
		groups = append(groups, PhotoGroup{Name: name, Root: root, Photos: photos})
	}
	if strings.TrimSpace(secondary) != "" {
		photos, err := DiscoverPhotos(secondary, secondaryGroup)
		if err != nil {
			return nil, err
		}
		groups = append(groups, PhotoGroup{Name: secondaryGroup, Root: secondary, Secondary: true, Photos: photos})
	}
	return groups, nil
}

// cameras converts added labels into project cameras for group.
func (g PhotoGroup) cameras(labels []string) []project.Camera {
	paths := make(map[string]string, len(g.Photos))
	for _, p := range g.Photos {
		paths[p.Label] = p.Path
	}
	out := make([]project.Camera, 0, len(labels))
	for _, label := range labels {
		out = append(out, project.Camera{ID: label, Group: g.Name, Path: paths[label], Secondary: g.Secondary})
	}
	return out
}
