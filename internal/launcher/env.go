package launcher

import "strings"

// envBlocklist holds variables that are never passed through to a
// compression tool. PATH is always set to the binary directory instead.
var envBlocklist = map[string]bool{
	"PATH":                  true,
	"LD_PRELOAD":            true,
	"LD_LIBRARY_PATH":       true,
	"DYLD_INSERT_LIBRARIES": true,
	"DYLD_LIBRARY_PATH":     true,
}

// buildEnv returns the child environment: PATH set to binDir, followed by
// the passthrough keys that are present according to lookup.
func buildEnv(binDir string, passthrough []string, lookup func(string) (string, bool)) []string {
	env := []string{"PATH=" + binDir}

	seen := make(map[string]bool, len(passthrough))
	for _, key := range passthrough {
		key = strings.TrimSpace(key)
		if key == "" || seen[key] || envBlocklist[strings.ToUpper(key)] {
			continue
		}
		seen[key] = true
		if val, ok := lookup(key); ok {
			env = append(env, key+"="+val)
		}
	}

	return env
}
