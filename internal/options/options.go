package options

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/loykin/bootloader/internal/generation"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"
)

// Command is a lifecycle command addressed at one or more services.
type Command string

const (
	CmdStart        Command = "start"
	CmdStop         Command = "stop"
	CmdRestart      Command = "restart"
	CmdRestartDebug Command = "restart-debug"
	CmdDebug        Command = "debug"
	CmdStatus       Command = "status"
	CmdManual       Command = "manual"
)

// Commands lists every accepted command in help order.
var Commands = []Command{CmdStart, CmdStop, CmdRestart, CmdRestartDebug, CmdDebug, CmdStatus, CmdManual}

// IsDebug reports whether the command runs the worker in the foreground.
func (c Command) IsDebug() bool { return c == CmdDebug || c == CmdRestartDebug }

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrInvalidSignal  = errors.New("invalid kill signal")
)

// Flag declares a string option: name, single-letter alias, default and usage.
type Flag struct {
	Name    string
	Alias   string
	Default string
	Usage   string
}

// Built-in option names.
const (
	OptCommand  = "command"
	OptKillCode = "killCode"
	OptConfig   = "config"
	OptTarget   = "target"
	OptService  = "service"
	OptGroup    = "group"
)

// Schema is the built-in option schema. Host flags with the same name
// replace the default and usage of the built-in entry.
var Schema = []Flag{
	{Name: OptCommand, Alias: "x", Default: string(CmdStart), Usage: "lifecycle command: start, stop, restart, restart-debug, debug, status, manual"},
	{Name: OptKillCode, Alias: "k", Default: "SIGINT", Usage: "signal sent to stop a service"},
	{Name: OptConfig, Alias: "c", Default: "", Usage: "worker configuration file (templated)"},
	{Name: OptTarget, Alias: "t", Default: "development", Usage: "deployment environment exported to workers"},
	{Name: OptService, Alias: "s", Default: "", Usage: "address a single service by name"},
	{Name: OptGroup, Alias: "g", Default: "", Usage: "address every service of a group"},
}

// Options is the validated, typed view of the command line.
type Options struct {
	Command    Command
	KillCode   string
	Config     string
	Target     string
	Service    string
	Group      string
	Generation generation.Generation
	// Extra holds host-declared options by name.
	Extra map[string]string
}

// Binding ties a pflag.FlagSet to the option schema.
type Binding struct {
	schema  []Flag
	values  map[string]*string
	markers struct{ detached, hooked, bootstrapped bool }
}

// Bind registers the built-in schema, host flags and the hidden generation
// markers on fs.
func Bind(fs *pflag.FlagSet, host []Flag) (*Binding, error) {
	schema, err := merge(Schema, host)
	if err != nil {
		return nil, err
	}
	b := &Binding{schema: schema, values: make(map[string]*string, len(schema))}
	for _, f := range schema {
		b.values[f.Name] = fs.StringP(f.Name, f.Alias, f.Default, f.Usage)
	}
	fs.BoolVar(&b.markers.detached, generation.MarkerDetached, false, "")
	fs.BoolVar(&b.markers.hooked, generation.MarkerHooked, false, "")
	fs.BoolVar(&b.markers.bootstrapped, generation.MarkerBootstrapped, false, "")
	for _, m := range []string{generation.MarkerDetached, generation.MarkerHooked, generation.MarkerBootstrapped} {
		_ = fs.MarkHidden(m)
	}
	return b, nil
}

func merge(base, host []Flag) ([]Flag, error) {
	out := append([]Flag(nil), base...)
	seen := make(map[string]int, len(out))
	aliases := make(map[string]string)
	for i, f := range out {
		seen[f.Name] = i
		aliases[f.Alias] = f.Name
	}
	for _, f := range host {
		if strings.TrimSpace(f.Name) == "" {
			return nil, fmt.Errorf("host flag requires a name")
		}
		if i, ok := seen[f.Name]; ok {
			out[i].Default = f.Default
			if f.Usage != "" {
				out[i].Usage = f.Usage
			}
			continue
		}
		if f.Alias != "" {
			if owner, ok := aliases[f.Alias]; ok {
				return nil, fmt.Errorf("host flag %q: alias -%s already used by %q", f.Name, f.Alias, owner)
			}
			aliases[f.Alias] = f.Name
		}
		seen[f.Name] = len(out)
		out = append(out, f)
	}
	return out, nil
}

// Options decodes the parsed flags. A positional argument, when present,
// overrides --command.
func (b *Binding) Options(args []string) (Options, error) {
	get := func(name string) string {
		if p := b.values[name]; p != nil {
			return *p
		}
		return ""
	}
	gen, err := generation.Decode(b.markers.detached, b.markers.hooked, b.markers.bootstrapped)
	if err != nil {
		return Options{}, err
	}
	o := Options{
		Command:    Command(get(OptCommand)),
		KillCode:   get(OptKillCode),
		Config:     get(OptConfig),
		Target:     get(OptTarget),
		Service:    get(OptService),
		Group:      get(OptGroup),
		Generation: gen,
		Extra:      map[string]string{},
	}
	if len(args) > 0 && args[0] != "" {
		o.Command = Command(args[0])
	}
	for _, f := range b.schema {
		if isBuiltin(f.Name) {
			continue
		}
		o.Extra[f.Name] = get(f.Name)
	}
	return o, o.Validate()
}

// Schema returns the merged option schema in declaration order.
func (b *Binding) Schema() []Flag { return append([]Flag(nil), b.schema...) }

func isBuiltin(name string) bool {
	switch name {
	case OptCommand, OptKillCode, OptConfig, OptTarget, OptService, OptGroup:
		return true
	}
	return false
}

// Validate checks the command and kill signal.
func (o Options) Validate() error {
	known := false
	for _, c := range Commands {
		if o.Command == c {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("%w %q", ErrUnknownCommand, o.Command)
	}
	if _, err := ParseSignal(o.KillCode); err != nil {
		return err
	}
	return nil
}

// Signal returns the configured kill signal, SIGINT when unset or invalid.
func (o Options) Signal() syscall.Signal {
	sig, err := ParseSignal(o.KillCode)
	if err != nil {
		return syscall.SIGINT
	}
	return sig
}

// Values returns every option by name for template expansion and forwarding.
func (o Options) Values() map[string]string {
	m := map[string]string{
		OptCommand:  string(o.Command),
		OptKillCode: o.KillCode,
		OptConfig:   o.Config,
		OptTarget:   o.Target,
		OptService:  o.Service,
		OptGroup:    o.Group,
	}
	for k, v := range o.Extra {
		m[k] = v
	}
	return m
}

// Args renders the options as a flag vector for a re-exec hop. Built-ins come
// first in schema order, host options sorted. Empty values are omitted, so an
// option explicitly set to "" reaches the child as its default.
func (o Options) Args() []string {
	vals := o.Values()
	var out []string
	for _, f := range Schema {
		if v := vals[f.Name]; v != "" {
			out = append(out, "--"+f.Name, v)
		}
	}
	extra := make([]string, 0, len(o.Extra))
	for k := range o.Extra {
		extra = append(extra, k)
	}
	sort.Strings(extra)
	for _, k := range extra {
		if v := o.Extra[k]; v != "" {
			out = append(out, "--"+k, v)
		}
	}
	return out
}

// ParseSignal accepts "SIGTERM", "TERM", "term" or a number.
func ParseSignal(s string) (syscall.Signal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return syscall.SIGINT, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidSignal, s)
		}
		return syscall.Signal(n), nil
	}
	name := strings.ToUpper(s)
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	sig := unix.SignalNum(name)
	if sig == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSignal, s)
	}
	return sig, nil
}
