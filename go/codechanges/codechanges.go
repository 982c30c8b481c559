// Package codechanges computes which packages changed between two CI runs.
package codechanges

// Package identifies a specific snapshot of a dependency used by a run.
type Package struct {
	Name   string `json:"name"`
	GitSHA string `json:"git_sha"`
	GitURL string `json:"git_url"`
}

// Summary lists the packages of the current run that differ from the
// previous run, and how many changed.
type Summary struct {
	Packages []Package `json:"packages"`
	Counts   int       `json:"counts"`
}

// Compute returns the packages in current that are not present in previous.
//
// A package counts as changed if it is new, if it was removed and re-added
// under a different commit, or if its git commit differs, i.e. the
// set-difference on (name, git_sha, git_url) triples.
func Compute(previous, current []Package) Summary {
	prev := make(map[Package]bool, len(previous))
	for _, p := range previous {
		prev[p] = true
	}
	diff := []Package{}
	for _, p := range current {
		if !prev[p] {
			diff = append(diff, p)
		}
	}
	return Summary{
		Packages: diff,
		Counts:   len(diff),
	}
}
