// Package dataset resolves versioned fine-tuning datasets laid out under the
// fixed directory convention <langPair>/<stage>/<method>/v<N>/. It is a
// read-only scan with no side effects.
package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/modelops/finetunectl/pkg/errors"
	"github.com/modelops/finetunectl/pkg/sdk"
)

// Split is one of the train/validation/evaluation partitions of a dataset.
type Split string

const (
	SplitTrain Split = "train"
	SplitValid Split = "valid"
	SplitEval  Split = "eval"
)

// Splits lists all splits in upload order.
var Splits = []Split{SplitTrain, SplitValid, SplitEval}

// splitKeywords are matched case-insensitively against the filename stem.
var splitKeywords = map[Split][]string{
	SplitTrain: {"train", "training"},
	SplitValid: {"valid", "validation"},
	SplitEval:  {"eval", "evaluation"},
}

var versionDirPattern = regexp.MustCompile(`^v(\d+)$`)

// Version is one immutable snapshot of a dataset: the resolved version
// directory and exactly one file per split. It is never mutated once
// discovered.
type Version struct {
	LangPair string           `json:"lang_pair"`
	Method   string           `json:"method"`
	Name     string           `json:"name"`
	Number   int              `json:"number"`
	Dir      string           `json:"dir"`
	Files    map[Split]string `json:"files"`
}

// Discover resolves root to its latest dataset version. The root path must
// follow the .../<langPair>/<stage>/<method> convention; the version chosen
// is the v<N> subdirectory with the numerically greatest N.
func Discover(root string) (Version, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return Version{}, err
	}

	langPair, method, err := parseRoot(abs)
	if err != nil {
		return Version{}, err
	}

	name, number, dir, err := latestVersionDir(abs)
	if err != nil {
		return Version{}, err
	}

	files, err := collectSplitFiles(dir)
	if err != nil {
		return Version{}, err
	}

	return Version{
		LangPair: langPair,
		Method:   method,
		Name:     name,
		Number:   number,
		Dir:      dir,
		Files:    files,
	}, nil
}

func parseRoot(abs string) (langPair, method string, err error) {
	method = filepath.Base(abs)
	grandparent := filepath.Dir(filepath.Dir(abs))
	langPair = filepath.Base(grandparent)

	if method == "" || method == "." || method == string(filepath.Separator) ||
		langPair == "" || langPair == "." || langPair == string(filepath.Separator) {
		return "", "", fmt.Errorf("cannot derive lang pair and method from %s: %w", abs, errors.ErrInvalidConfig)
	}

	return langPair, method, nil
}

func latestVersionDir(root string) (name string, number int, dir string, err error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", 0, "", err
	}

	best := -1
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m := versionDirPattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, convErr := strconv.Atoi(m[1])
		if convErr != nil {
			continue
		}
		if n > best {
			best = n
			name = e.Name()
		}
	}

	if best < 0 {
		return "", 0, "", fmt.Errorf("no v<N> version directories in %s: %w", root, errors.ErrNotFound)
	}

	return name, best, filepath.Join(root, name), nil
}

func collectSplitFiles(dir string) (map[Split]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	files := make(map[Split]string, len(Splits))
	for _, split := range Splits {
		var matches []string
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if matchesSplit(e.Name(), split) {
				matches = append(matches, e.Name())
			}
		}

		switch len(matches) {
		case 0:
			return nil, fmt.Errorf("no %s split file in %s: %w", split, dir, errors.ErrInvalidConfig)
		case 1:
			files[split] = filepath.Join(dir, matches[0])
		default:
			sort.Strings(matches)

			return nil, fmt.Errorf("multiple %s split files in %s (%s): %w", split, dir, strings.Join(matches, ", "), errors.ErrInvalidConfig)
		}
	}

	return files, nil
}

func matchesSplit(filename string, split Split) bool {
	ext := filepath.Ext(filename)
	if !strings.EqualFold(ext, sdk.RecordExt) {
		return false
	}

	stem := strings.ToLower(strings.TrimSuffix(filename, ext))
	for _, kw := range splitKeywords[split] {
		if strings.Contains(stem, kw) {
			return true
		}
	}

	return false
}
