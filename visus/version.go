package visus

// Version is the semantic version of the visus engine and its IDX format support.
const Version = "0.9.0"

//go:generate go run ../cmd/gen-version -o gitversion.go

// gitVersion is set by a generated file from cmd/gen-version.
var gitVersion string

// GitVersion returns the commit the binary was built from or "unknown".
func GitVersion() string {
	if gitVersion == "" {
		return "unknown"
	}
	return gitVersion
}
