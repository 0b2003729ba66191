package core

import (
	"fmt"
	"sort"
	"strings"
)

// DuplicateModuleError reports a second registration under an existing name.
type DuplicateModuleError struct {
	Name string
}

func (e *DuplicateModuleError) Error() string {
	return fmt.Sprintf("module %q is already registered", e.Name)
}

// RegistryClosedError reports a registration attempted after resolution began.
type RegistryClosedError struct {
	Name string
}

func (e *RegistryClosedError) Error() string {
	return fmt.Sprintf("cannot register module %q: registry is closed", e.Name)
}

// UnknownDependencyError reports a declared dependency that was never
// registered.
type UnknownDependencyError struct {
	Module     string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("module %q depends on unknown module %q", e.Module, e.Dependency)
}

// CyclicDependencyError names the members of a dependency cycle.
type CyclicDependencyError struct {
	Members []string
}

func (e *CyclicDependencyError) Error() string {
	return "cyclic module dependency: " + strings.Join(e.Members, " -> ")
}

// InitError is the root cause for one failed module.
type InitError struct {
	Module string
	Err    error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("module %q failed to initialize: %v", e.Module, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// StartupError is the aggregated startup failure report: every failed module
// with its root cause, plus the modules whose hooks never ran because
// startup was aborted.
type StartupError struct {
	Failures []*InitError
	NotRun   []string
}

func (e *StartupError) Error() string {
	var b strings.Builder
	b.WriteString("startup failed:")
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "\n  %s", f.Error())
	}
	if len(e.NotRun) > 0 {
		notRun := append([]string(nil), e.NotRun...)
		sort.Strings(notRun)
		fmt.Fprintf(&b, "\n  not started: %s", strings.Join(notRun, ", "))
	}
	return b.String()
}

func (e *StartupError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// ShutdownError collects shutdown-hook failures. It never interrupts the
// shutdown sequence; it is only reported at the end.
type ShutdownError struct {
	Errors []error
}

func (e *ShutdownError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		parts[i] = err.Error()
	}
	return "shutdown finished with errors: " + strings.Join(parts, "; ")
}

func (e *ShutdownError) Unwrap() []error { return e.Errors }
