package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FolderSentinelPrefix marks the synthetic listing entry that represents the
// category's own folder, so a UI can offer "download into this folder" as a
// pickable target.
const FolderSentinelPrefix = "__folder__path__"

// SupportedExtensions are the model file extensions the host recognizes.
var SupportedExtensions = []string{
	".ckpt", ".pt", ".pt2", ".bin", ".pth", ".safetensors", ".pkl", ".sft",
}

// legacyNames maps deprecated category names to their current ones.
var legacyNames = map[string]string{
	"unet": "diffusion_models",
}

// defaultCategories are the model folders seeded under the models root.
var defaultCategories = []string{
	"checkpoints",
	"clip",
	"clip_vision",
	"controlnet",
	"diffusion_models",
	"embeddings",
	"loras",
	"upscale_models",
	"vae",
}

// Registry maps model categories to their candidate directories. Only
// directories under the models root count as real model directories; extra
// registered paths (custom nodes, outputs) are listed but never chosen as a
// download target.
type Registry struct {
	mu         sync.RWMutex
	modelsRoot string
	categories map[string][]string
}

// NewRegistry seeds the default categories under modelsRoot.
func NewRegistry(modelsRoot string) *Registry {
	root, err := filepath.Abs(modelsRoot)
	if err != nil {
		root = modelsRoot
	}
	r := &Registry{
		modelsRoot: root,
		categories: make(map[string][]string),
	}
	for _, name := range defaultCategories {
		r.categories[name] = []string{filepath.Join(root, name)}
	}
	return r
}

// ModelsRoot returns the configured models root directory.
func (r *Registry) ModelsRoot() string {
	return r.modelsRoot
}

// AddCategory registers extra directories for a category, creating the
// category if needed. Directories are kept in registration order.
func (r *Registry) AddCategory(name string, dirs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.categories[name] = append(r.categories[name], dirs...)
}

// resolveName applies the legacy-name mapping.
func resolveName(name string) string {
	if mapped, ok := legacyNames[name]; ok {
		return mapped
	}
	return name
}

// Dirs returns every directory registered for a category, or false if the
// category is unknown.
func (r *Registry) Dirs(category string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dirs, ok := r.categories[resolveName(category)]
	if !ok {
		return nil, false
	}
	out := make([]string, len(dirs))
	copy(out, dirs)
	return out, true
}

// ModelDirs filters a category's directories down to real model directories:
// those under the models root. Order is preserved; the first entry is the
// download target.
func (r *Registry) ModelDirs(category string) ([]string, bool) {
	dirs, ok := r.Dirs(category)
	if !ok {
		return nil, false
	}

	rootPrefix := r.modelsRoot + string(os.PathSeparator)
	var out []string
	for _, dir := range dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		if strings.HasPrefix(abs, rootPrefix) {
			out = append(out, abs)
		}
	}
	return out, true
}

// Categories lists every category that has at least one real model
// directory, sorted.
func (r *Registry) Categories() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.categories))
	for name := range r.categories {
		names = append(names, name)
	}
	r.mu.RUnlock()

	var out []string
	for _, name := range names {
		if dirs, _ := r.ModelDirs(name); len(dirs) > 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// SanitizeFilename validates a destination-relative filename. Forward
// slashes are allowed for subfolders; backslashes, traversal patterns, and
// absolute or home-relative paths are rejected before any I/O happens.
func SanitizeFilename(filename string) (string, error) {
	if filename == "" {
		return "", fmt.Errorf("filename is required")
	}
	if strings.Contains(filename, "\\") {
		return "", fmt.Errorf("invalid filename: backslashes not allowed")
	}
	if strings.Contains(filename, "..") ||
		strings.HasPrefix(filename, "/") ||
		strings.HasPrefix(filename, "~") {
		return "", fmt.Errorf("invalid filename: path traversal patterns detected")
	}

	safe := filepath.ToSlash(filepath.Clean(filename))
	if strings.HasPrefix(safe, "/") || strings.HasPrefix(safe, "../") || strings.Contains(safe, "/../") {
		return "", fmt.Errorf("invalid filename: path traversal detected")
	}
	return safe, nil
}

// ResolveOutputPath picks the first real model directory for the category
// and joins the sanitized filename, re-checking that the resolved absolute
// path stays inside that directory.
func (r *Registry) ResolveOutputPath(category, filename string) (string, error) {
	safe, err := SanitizeFilename(filename)
	if err != nil {
		return "", err
	}

	dirs, ok := r.ModelDirs(category)
	if !ok {
		return "", fmt.Errorf("invalid save_path: %s is not a known category", category)
	}
	if len(dirs) == 0 {
		return "", fmt.Errorf("no valid model paths configured for %s", category)
	}

	outputDir := dirs[0]
	outputPath, err := filepath.Abs(filepath.Join(outputDir, filepath.FromSlash(safe)))
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(outputPath, outputDir+string(os.PathSeparator)) {
		return "", fmt.Errorf("security error: attempted directory escape")
	}
	return outputPath, nil
}

// FilenameList walks a category's real model directories and returns the
// relative paths of the model files found. When the category has at least
// one real model directory the folder sentinel entry is prepended, even if
// the listing is otherwise empty; that trigger condition is relied on by the
// download picker.
func (r *Registry) FilenameList(category string) []string {
	dirs, ok := r.ModelDirs(resolveName(category))
	if !ok || len(dirs) == 0 {
		return nil
	}

	var files []string
	for _, dir := range dirs {
		root := dir
		_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() {
				return nil //nolint:nilerr // unreadable entries are skipped
			}
			if !hasSupportedExtension(info.Name()) {
				return nil
			}
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				return nil
			}
			files = append(files, filepath.ToSlash(rel))
			return nil
		})
	}
	sort.Strings(files)

	return append([]string{FolderSentinelPrefix + category}, files...)
}

func hasSupportedExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range SupportedExtensions {
		if ext == want {
			return true
		}
	}
	return false
}
