// Package cmdargs turns configured tool argument strings into argv slices
// without a shell.
package cmdargs

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/shlex"
)

// Split securely splits a command string into a slice of arguments.
// It prevents shell injection by not using a shell.
func Split(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("invalid command syntax: %w", err)
	}
	return args, nil
}

// Validate rejects shell metacharacters. exec never interprets them, but
// their presence in configured arguments is almost always a mistake.
func Validate(args []string) error {
	for _, arg := range args {
		if strings.ContainsAny(arg, "|&;`$()<>") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}
	}
	return nil
}

// SplitAndValidate is Split followed by Validate.
func SplitAndValidate(command string) ([]string, error) {
	args, err := Split(command)
	if err != nil {
		return nil, err
	}
	if err := Validate(args); err != nil {
		return nil, err
	}
	return args, nil
}

// PathArg makes a file path safe to pass as a positional argument: a
// relative path starting with '-' gets a "./" prefix.
func PathArg(path string) string {
	if strings.HasPrefix(path, "-") && !filepath.IsAbs(path) {
		return "." + string(filepath.Separator) + path
	}
	return path
}
