package command

import (
	"fmt"
	"io"
	"strings"

	shlex "github.com/anmitsu/go-shlex"
	"github.com/spf13/pflag"

	"pkt.systems/muxrun/schema"
)

// Command represents a parsed command line.
type Command struct {
	Name string
	Args []string
	Raw  string
}

// Parse splits a command line into words. Quotes and backslashes are
// honoured; nothing is expanded.
func Parse(input string) (Command, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Command{}, fmt.Errorf("%w: empty command", schema.ErrInvalidRequest)
	}
	fields, err := shlex.Split(raw, true)
	if err != nil {
		return Command{}, fmt.Errorf("%w: %v", schema.ErrInvalidRequest, err)
	}
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("%w: empty command", schema.ErrInvalidRequest)
	}
	return Command{
		Name: strings.ToLower(fields[0]),
		Args: fields[1:],
		Raw:  raw,
	}, nil
}

// newFlagSet returns a flag set that stops at the first positional argument
// so command strings keep their own flags.
func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SetInterspersed(false)
	return fs
}

func parseFlags(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %v", schema.ErrInvalidRequest, fs.Name(), err)
	}
	return nil
}
