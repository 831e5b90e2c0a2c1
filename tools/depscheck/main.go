// Command depscheck fails when the replication core imports the layers built
// on top of it. The core packages must stay usable without a transport or a
// world.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
)

const modulePath = "github.com/Learath2/libtw2"

var corePackages = []string{
	"./internal/snap/...",
	"./internal/journal/...",
	"./internal/replication/...",
}

var forbidden = []string{
	modulePath + "/internal/net",
	modulePath + "/internal/hub",
	modulePath + "/internal/sim",
	modulePath + "/internal/app",
	"github.com/gorilla/websocket",
}

type packageInfo struct {
	ImportPath string
	Imports    []string
}

func main() {
	args := append([]string{"list", "-json"}, corePackages...)
	cmd := exec.Command("go", args...)
	cmd.Env = os.Environ()
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			os.Stderr.Write(exitErr.Stderr)
		}
		fmt.Fprintf(os.Stderr, "depscheck: failed to list packages: %v\n", err)
		os.Exit(1)
	}

	violations, err := check(bytes.NewReader(output))
	if err != nil {
		fmt.Fprintf(os.Stderr, "depscheck: %v\n", err)
		os.Exit(1)
	}
	if len(violations) > 0 {
		fmt.Fprintln(os.Stderr, "depscheck: found forbidden imports:")
		for _, violation := range violations {
			fmt.Fprintf(os.Stderr, "  %s\n", violation)
		}
		os.Exit(1)
	}
}

// check decodes a `go list -json` stream and returns sorted "pkg -> import"
// lines for every forbidden edge.
func check(r io.Reader) ([]string, error) {
	decoder := json.NewDecoder(r)
	var violations []string
	for {
		var pkg packageInfo
		if err := decoder.Decode(&pkg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to decode package info: %w", err)
		}
		for _, imp := range pkg.Imports {
			if isForbidden(imp) {
				violations = append(violations, fmt.Sprintf("%s -> %s", pkg.ImportPath, imp))
			}
		}
	}
	slices.Sort(violations)
	return violations, nil
}

func isForbidden(imp string) bool {
	for _, prefix := range forbidden {
		if imp == prefix || strings.HasPrefix(imp, prefix+"/") {
			return true
		}
	}
	return false
}
