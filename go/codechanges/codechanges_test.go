package codechanges

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompute_NoChanges(t *testing.T) {
	pkgs := []Package{
		{Name: "afw", GitSHA: "aaa", GitURL: "https://github.com/lsst/afw.git"},
	}
	summary := Compute(pkgs, pkgs)
	assert.Empty(t, summary.Packages)
	assert.Equal(t, 0, summary.Counts)
}

func TestCompute_ChangedSHA(t *testing.T) {
	previous := []Package{
		{Name: "afw", GitSHA: "aaa", GitURL: "https://github.com/lsst/afw.git"},
		{Name: "base", GitSHA: "bbb", GitURL: "https://github.com/lsst/base.git"},
	}
	current := []Package{
		{Name: "afw", GitSHA: "ccc", GitURL: "https://github.com/lsst/afw.git"},
		{Name: "base", GitSHA: "bbb", GitURL: "https://github.com/lsst/base.git"},
	}
	summary := Compute(previous, current)
	assert.Equal(t, 1, summary.Counts)
	assert.Equal(t, "afw", summary.Packages[0].Name)
	assert.Equal(t, "ccc", summary.Packages[0].GitSHA)
}

func TestCompute_NewPackage(t *testing.T) {
	previous := []Package{
		{Name: "afw", GitSHA: "aaa", GitURL: "https://github.com/lsst/afw.git"},
	}
	current := []Package{
		{Name: "afw", GitSHA: "aaa", GitURL: "https://github.com/lsst/afw.git"},
		{Name: "verify", GitSHA: "ddd", GitURL: "https://github.com/lsst/verify.git"},
	}
	summary := Compute(previous, current)
	assert.Equal(t, 1, summary.Counts)
	assert.Equal(t, "verify", summary.Packages[0].Name)
}

func TestCompute_NoPrevious(t *testing.T) {
	current := []Package{
		{Name: "afw", GitSHA: "aaa", GitURL: "https://github.com/lsst/afw.git"},
		{Name: "base", GitSHA: "bbb", GitURL: "https://github.com/lsst/base.git"},
	}
	summary := Compute(nil, current)
	assert.Equal(t, 2, summary.Counts)
}
