package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/codewatch-dev/codewatch/internal/adapter/scm"
	"github.com/codewatch-dev/codewatch/internal/config"
	"github.com/codewatch-dev/codewatch/internal/domain"
)

// Bundle is the combined output C7's accumulator path consumes for an
// AGENTIC-mode request (§4.9 step 6): the parsed test summary plus the
// security findings gathered from the same checked-out workspace.
type Bundle struct {
	Tests    domain.TestExecutionResult
	Findings []domain.SecurityFinding
}

// Analyzer drives the full C9 pipeline: clone, detect, run, parse, scan.
type Analyzer struct {
	engine *Engine
	cfg    config.SandboxConfig
	image  map[string]string // framework name -> container image
}

// NewAnalyzer builds an Analyzer. image maps a detected framework's name to
// the container image that can run its test command; a framework with no
// entry falls back to DefaultImage.
func NewAnalyzer(engine *Engine, cfg config.SandboxConfig, image map[string]string) *Analyzer {
	return &Analyzer{engine: engine, cfg: cfg, image: image}
}

// DefaultImage is used when no framework-specific image is configured.
const DefaultImage = "codewatch/sandbox-base:latest"

// Run clones repo's ref into workDir via port, detects the test framework,
// runs it inside a resource-limited container, parses the output, and
// scans the checked-out tree for security findings.
func (a *Analyzer) Run(ctx context.Context, port scm.Port, repo domain.RepositoryIdentifier, ref, workDir string) (Bundle, error) {
	if err := port.CloneShallow(ctx, repo, ref, workDir); err != nil {
		return Bundle{}, fmt.Errorf("sandbox: clone: %w", err)
	}

	files, err := listFiles(workDir)
	if err != nil {
		return Bundle{}, fmt.Errorf("sandbox: list workspace files: %w", err)
	}

	findings := a.scanWorkspace(workDir, files)

	fw, err := DetectFramework(files)
	if err != nil {
		// No recognized framework: an empty test result, not a failure of
		// the whole analysis (§4.9 step 2/4).
		return Bundle{Tests: domain.TestExecutionResult{}, Findings: findings}, nil
	}

	image := a.image[fw.Name]
	if image == "" {
		image = DefaultImage
	}

	run := domain.ContainerRun{
		Image:           image,
		MemoryBytes:     defaultPositive(a.cfg.MemoryBytes, 2*1024*1024*1024),
		NanoCPUs:        defaultPositive(a.cfg.NanoCPUs, 2_000_000_000),
		Timeout:         config.ParseDuration(a.cfg.WallClockLimit, 0),
		WorkingDir:      "/workspace/repo",
		Mounts:          map[string]string{workDir: "/workspace/repo"},
		Command:         fw.TestCommand,
		ReadOnly:        true,
		NetworkDisabled: !a.cfg.NetworkEnabled,
		NoNewPrivileges: true,
		AutoRemove:      true,
	}

	outcome, err := a.engine.Run(ctx, run)
	if err != nil {
		return Bundle{Findings: findings}, fmt.Errorf("sandbox: run %s: %w", fw.Name, err)
	}

	combined := outcome.Stdout + "\n" + outcome.Stderr
	tests := ParseOutput(fw.Name, combined)
	return Bundle{Tests: tests, Findings: findings}, nil
}

func (a *Analyzer) scanWorkspace(root string, files []string) []domain.SecurityFinding {
	var findings []domain.SecurityFinding
	for _, rel := range files {
		if !isSourceFile(rel) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(root, rel))
		if err != nil {
			continue
		}
		findings = append(findings, AnalyzeSource(rel, string(data), 0)...)
	}
	return findings
}

var sourceExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true,
	".java": true, ".rb": true, ".php": true, ".cs": true,
}

func isSourceFile(path string) bool {
	return sourceExtensions[filepath.Ext(path)]
}

func listFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	return files, err
}

func defaultPositive(v, def int64) int64 {
	if v <= 0 {
		return def
	}
	return v
}
