package offlinecache

const defaultVersion = "v1"

// Partitions holds the names of the cache partitions owned by one build.
type Partitions struct {
	// Application shell.
	Static string
	// API and opportunistically cached responses.
	Dynamic string
	// Navigations. Equals Dynamic when pages share the dynamic partition.
	Pages string
	// Production script and style bundle.
	Precache string
}

// PartitionNames derives the partition names from the build version.
// Bumping the version makes the next activation drop every older partition.
func PartitionNames(version string, pagesShareDynamic bool) Partitions {
	if version == "" {
		version = defaultVersion
	}
	p := Partitions{
		Static:   "static-" + version,
		Dynamic:  "dynamic-" + version,
		Pages:    "pages-" + version,
		Precache: "precache-" + version,
	}
	if pagesShareDynamic {
		p.Pages = p.Dynamic
	}
	return p
}

// AllowList returns the distinct partition names that survive activation.
func (p Partitions) AllowList() []string {
	names := make([]string, 0, 4)
	for _, name := range []string{p.Static, p.Dynamic, p.Pages, p.Precache} {
		if !contains(names, name) {
			names = append(names, name)
		}
	}
	return names
}

// Allowed reports whether the partition survives activation.
func (p Partitions) Allowed(name string) bool {
	return contains(p.AllowList(), name)
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
