package sandbox

import (
	"sort"
	"strings"
)

// FileTree renders workspace paths as an indented tree for the agent prompt:
// directories first, then files, each indented by depth.
func FileTree(paths []string) string {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	dirSet := make(map[string]struct{})
	for _, p := range sorted {
		parts := strings.Split(p, "/")
		for i := 1; i < len(parts); i++ {
			dirSet[strings.Join(parts[:i], "/")] = struct{}{}
		}
	}
	dirs := make([]string, 0, len(dirSet))
	for d := range dirSet {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)

	lines := []string{"."}
	for _, d := range dirs {
		parts := strings.Split(d, "/")
		lines = append(lines, strings.Repeat("│   ", len(parts)-1)+"├── "+parts[len(parts)-1])
	}
	for _, p := range sorted {
		parts := strings.Split(p, "/")
		lines = append(lines, strings.Repeat("│   ", len(parts)-1)+"└── "+parts[len(parts)-1])
	}
	return strings.Join(lines, "\n")
}
