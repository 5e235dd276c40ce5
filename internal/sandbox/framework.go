package sandbox

import "strings"

// Framework is one entry in the declaration-ordered marker-file table
// (§4.9 step 2). Markers are probed in order; the first match wins.
type Framework struct {
	Name        string
	Markers     []string // exact filename, or "*"-prefixed suffix glob
	TestCommand []string
}

// frameworks is the declaration-ordered detection table. Order matters:
// pom.xml is checked before build.gradle, matching the listing order in
// spec.md §4.9.
var frameworks = []Framework{
	{Name: "maven", Markers: []string{"pom.xml"}, TestCommand: []string{"mvn", "-B", "test"}},
	{Name: "gradle", Markers: []string{"build.gradle", "build.gradle.kts"}, TestCommand: []string{"./gradlew", "test"}},
	{Name: "npm", Markers: []string{"package.json", "yarn.lock"}, TestCommand: []string{"npm", "test"}},
	{Name: "pytest", Markers: []string{"pytest.ini", "setup.py"}, TestCommand: []string{"pytest", "-v"}},
	{Name: "go", Markers: []string{"go.mod"}, TestCommand: []string{"go", "test", "./..."}},
	{Name: "cargo", Markers: []string{"Cargo.toml"}, TestCommand: []string{"cargo", "test"}},
	{Name: "dotnet", Markers: []string{"*.csproj"}, TestCommand: []string{"dotnet", "test"}},
}

// DetectFramework returns the first framework whose marker appears among
// files (repository-root-relative paths), in declaration order. It returns
// ErrNoFrameworkDetected if nothing matches.
func DetectFramework(files []string) (Framework, error) {
	for _, fw := range frameworks {
		for _, marker := range fw.Markers {
			if matchesMarker(files, marker) {
				return fw, nil
			}
		}
	}
	return Framework{}, ErrNoFrameworkDetected
}

func matchesMarker(files []string, marker string) bool {
	glob := strings.HasPrefix(marker, "*")
	suffix := strings.TrimPrefix(marker, "*")
	for _, f := range files {
		base := f
		if idx := strings.LastIndexByte(f, '/'); idx >= 0 {
			base = f[idx+1:]
		}
		if glob {
			if strings.HasSuffix(base, suffix) {
				return true
			}
			continue
		}
		if base == marker {
			return true
		}
	}
	return false
}
