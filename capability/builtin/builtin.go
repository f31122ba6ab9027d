// Package builtin provides the capability implementations bound when a
// catalog is loaded, plus the saved-workflow pseudo-capabilities.
package builtin

import (
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spinje/pflow-sub005/ai"
	"github.com/spinje/pflow-sub005/capability"
	"github.com/spinje/pflow-sub005/executor"
	"github.com/spinje/pflow-sub005/store"
)

// Options supplies the dependencies builtin capabilities need.
type Options struct {
	// WorkDir resolves relative file paths. Empty means the process directory.
	WorkDir string
	// Provider serves the llm capability. Without it llm invocations fail.
	Provider ai.Provider
	// HTTPClient serves http-request. Defaults to a client with a 30s timeout.
	HTTPClient *http.Client
	// Workflows backs workflow/<name> capabilities.
	Workflows store.WorkflowStore
	// Binder resolves capabilities for nested workflow runs.
	Binder executor.Binder
	// MaxDepth bounds nested workflow invocation. Defaults to 5.
	MaxDepth int
	// ExecOptions are applied to nested workflow executions.
	ExecOptions []executor.Option
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = 5
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func (o Options) path(p string) string {
	if o.WorkDir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(o.WorkDir, p)
}

// Factories returns the implementation factories keyed by impl name.
func Factories(opts Options) capability.FactoryMap {
	opts = opts.withDefaults()
	return capability.FactoryMap{
		"read-file":    func(capability.Descriptor) (capability.Capability, error) { return readFile{opts}, nil },
		"write-file":   func(capability.Descriptor) (capability.Capability, error) { return writeFile{opts}, nil },
		"count-lines":  func(capability.Descriptor) (capability.Capability, error) { return capability.Func(countLines), nil },
		"jq":           func(capability.Descriptor) (capability.Capability, error) { return capability.Func(runJQ), nil },
		"expr":         func(capability.Descriptor) (capability.Capability, error) { return capability.Func(runExpr), nil },
		"llm":          func(capability.Descriptor) (capability.Capability, error) { return llmPrompt{opts}, nil },
		"http-request": func(capability.Descriptor) (capability.Capability, error) { return httpRequest{opts}, nil },
	}
}

// Load binds the given catalog into reg using the builtin factories.
func Load(reg *capability.Registry, descs []capability.Descriptor, opts Options) error {
	if err := reg.LoadCatalog(descs, Factories(opts)); err != nil {
		return fmt.Errorf("load builtin catalog: %w", err)
	}
	return nil
}
