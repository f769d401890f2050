package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = 0x42
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WritePhotos creates count placeholder images under dir, alternating between
// two flight subfolders and the .JPG and .tif extensions.
func WritePhotos(t testing.TB, dir string, count int) []string {
	t.Helper()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	paths := make([]string, 0, count)
	for i := range count {
		ext := ".JPG"
		if i%3 == 2 {
			ext = ".tif"
		}
		path := filepath.Join(dir, fmt.Sprintf("flight%d", i%2+1), fmt.Sprintf("IMG_%04d%s", i, ext))
		WriteFile(t, path, 16)
		paths = append(paths, path)
	}
	return paths
}
