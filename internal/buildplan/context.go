package buildplan

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"caliban/internal/calerr"
)

// IgnoreFileName is the .dockerignore-equivalent exclusion list honored when
// enumerating the build context.
const IgnoreFileName = ".dockerignore"

// loadIgnorePatterns reads the exclusion list from the project directory.
// A missing file means no exclusions.
func loadIgnorePatterns(projectDir string) ([]string, error) {
	f, err := os.Open(filepath.Join(projectDir, IgnoreFileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns, scanner.Err()
}

// excluded reports whether relPath matches any exclusion pattern. Patterns
// match the whole relative path or any of its leading directories; a trailing
// slash is dropped, so such a pattern matches files and directories alike.
func excluded(relPath string, patterns []string) bool {
	for _, p := range patterns {
		p = strings.TrimSuffix(p, "/")
		if ok, _ := filepath.Match(p, relPath); ok {
			return true
		}
		// Match against each ancestor so "build" excludes "build/out.bin".
		for dir := filepath.Dir(relPath); dir != "." && dir != "/"; dir = filepath.Dir(dir) {
			if ok, _ := filepath.Match(p, dir); ok {
				return true
			}
		}
	}
	return false
}

// EnumerateContext walks the project directory plus the declared extra
// directories and returns the build-context manifest: project files sorted,
// then each extra directory's files in the user's directory order. Excluded
// files are never opened or read. A declared extra directory that does not
// exist is a RecipeInvalid error.
func EnumerateContext(projectDir string, extraDirs []string) ([]string, error) {
	patterns, err := loadIgnorePatterns(projectDir)
	if err != nil {
		return nil, &calerr.RecipeInvalidError{Reason: "reading " + IgnoreFileName + ": " + err.Error()}
	}

	// Extra dirs that live inside the project are enumerated in their declared
	// order below, not in the project walk.
	projectPatterns := append([]string{}, patterns...)
	for _, dir := range extraDirs {
		if !filepath.IsAbs(dir) && !strings.HasPrefix(dir, "..") {
			projectPatterns = append(projectPatterns, filepath.Clean(dir))
		}
	}

	files, err := walkContextDir(projectDir, "", projectPatterns)
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	for _, dir := range extraDirs {
		resolved := dir
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(projectDir, dir)
		}
		info, err := os.Stat(resolved)
		if err != nil || !info.IsDir() {
			return nil, &calerr.RecipeInvalidError{Reason: "extra directory " + dir + " does not exist"}
		}
		extra, err := walkContextDir(resolved, filepath.Base(resolved), patterns)
		if err != nil {
			return nil, err
		}
		sort.Strings(extra)
		files = append(files, extra...)
	}

	return files, nil
}

func walkContextDir(root, prefix string, patterns []string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if prefix != "" {
			rel = filepath.Join(prefix, rel)
		}
		if excluded(rel, patterns) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, &calerr.RecipeInvalidError{Reason: "walking build context: " + err.Error()}
	}
	return files, nil
}
