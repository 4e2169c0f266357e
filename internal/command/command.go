// Package command parses and encodes the one-line command grammar spoken
// over the control mailbox:
//
//	start -a <action> [-d <data>] [-n <pkg>/<class>] [-t <mime>] [-c <category>]
//	      [--es <key> <value>]* [-ez <key> <bool>]* [-ei <key> <int>]*
//	      [-f <flags>] [-p <package>] [--user <n>]
//	startservice <same flags>
//	broadcast    <same flags>
//	--version
package command

import (
	"fmt"
	"strconv"
	"strings"
)

// Verb selects the privileged primitive a command maps to
type Verb string

const (
	VerbStart        Verb = "start"
	VerbStartService Verb = "startservice"
	VerbBroadcast    Verb = "broadcast"
	VerbVersion      Verb = "--version"
)

// ExtraKind is the type of a keyed extra
type ExtraKind int

const (
	ExtraString ExtraKind = iota
	ExtraBool
	ExtraInt
)

func (k ExtraKind) String() string {
	switch k {
	case ExtraBool:
		return "bool"
	case ExtraInt:
		return "int"
	default:
		return "string"
	}
}

// Extra is one typed key/value pair from --es, -ez or -ei
type Extra struct {
	Key    string
	Kind   ExtraKind
	String string
	Int    int
	Bool   bool
}

// Value renders the extra's value as text
func (e Extra) Value() string {
	switch e.Kind {
	case ExtraBool:
		return strconv.FormatBool(e.Bool)
	case ExtraInt:
		return strconv.Itoa(e.Int)
	default:
		return e.String
	}
}

// Component is an explicit package/class target
type Component struct {
	Package string
	Class   string
}

// IsZero reports whether no component was given
func (c Component) IsZero() bool { return c.Package == "" && c.Class == "" }

func (c Component) String() string {
	if c.IsZero() {
		return ""
	}
	return c.Package + "/" + c.Class
}

// Descriptor is one parsed command. It lives for a single dispatch.
type Descriptor struct {
	Verb       Verb
	Action     string
	Data       string
	Component  Component
	MimeType   string
	Categories []string
	Extras     []Extra
	Flags      string
	Package    string
}

// Extra returns the first extra with the given key
func (d *Descriptor) Extra(key string) (Extra, bool) {
	for _, e := range d.Extras {
		if e.Key == key {
			return e, true
		}
	}
	return Extra{}, false
}

// MalformedCommandError reports ungrammatical command text or a missing
// required field.
type MalformedCommandError struct {
	Line   string
	Reason string
}

func (e *MalformedCommandError) Error() string {
	return "malformed command: " + e.Reason
}

func malformed(line, format string, args ...any) error {
	return &MalformedCommandError{Line: line, Reason: fmt.Sprintf(format, args...)}
}

// Parse parses a single command line
func Parse(line string) (*Descriptor, error) {
	tokens, err := Tokenize(line)
	if err != nil {
		return nil, err
	}
	return ParseTokens(line, tokens)
}

// ParseTokens parses an already tokenised command. line is only used in error
// reports.
func ParseTokens(line string, tokens []string) (*Descriptor, error) {
	if len(tokens) == 0 {
		return nil, malformed(line, "empty command")
	}

	verb := Verb(tokens[0])
	switch verb {
	case VerbVersion:
		return &Descriptor{Verb: VerbVersion}, nil
	case VerbStart, VerbStartService, VerbBroadcast:
	default:
		return nil, malformed(line, "unknown verb %q (expected start, startservice, broadcast or --version)", tokens[0])
	}

	d := &Descriptor{Verb: verb}
	args := tokens[1:]
	value := func(i int, flag string) (string, error) {
		if i >= len(args) {
			return "", malformed(line, "flag %s requires a value", flag)
		}
		return args[i], nil
	}

	for i := 0; i < len(args); i++ {
		flag := args[i]
		switch flag {
		case "-a", "-d", "-t", "-c", "-f", "-p", "-n", "--user":
			v, err := value(i+1, flag)
			if err != nil {
				return nil, err
			}
			i++
			if err := d.setScalar(line, flag, v); err != nil {
				return nil, err
			}

		case "--es", "-e", "-ez", "--ez", "-ei", "--ei":
			key, err := value(i+1, flag)
			if err != nil {
				return nil, err
			}
			raw, err := value(i+2, flag+" "+key)
			if err != nil {
				return nil, err
			}
			i += 2
			extra, err := parseExtra(line, flag, key, raw)
			if err != nil {
				return nil, err
			}
			d.Extras = append(d.Extras, extra)

		default:
			// Unknown flags are tolerated; swallow their argument if one follows.
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				i++
			}
		}
	}

	if err := d.validate(line); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Descriptor) setScalar(line, flag, v string) error {
	switch flag {
	case "-a":
		d.Action = v
	case "-d":
		d.Data = v
	case "-t":
		d.MimeType = v
	case "-c":
		d.Categories = append(d.Categories, v)
	case "-f":
		d.Flags = v
	case "-p":
		d.Package = v
	case "-n":
		c, err := parseComponent(line, v)
		if err != nil {
			return err
		}
		d.Component = c
	case "--user":
		// accepted for compatibility, no multi-user host
	}
	return nil
}

func parseComponent(line, v string) (Component, error) {
	pkg, class, ok := strings.Cut(v, "/")
	if !ok || pkg == "" || class == "" {
		return Component{}, malformed(line, "component %q must be <package>/<class>", v)
	}
	if strings.HasPrefix(class, ".") {
		class = pkg + class
	}
	return Component{Package: pkg, Class: class}, nil
}

func parseExtra(line, flag, key, raw string) (Extra, error) {
	switch flag {
	case "-ez", "--ez":
		b, ok := parseBool(raw)
		if !ok {
			return Extra{}, malformed(line, "extra %s: %q is not a boolean", key, raw)
		}
		return Extra{Key: key, Kind: ExtraBool, Bool: b}, nil
	case "-ei", "--ei":
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Extra{}, malformed(line, "extra %s: %q is not an integer", key, raw)
		}
		return Extra{Key: key, Kind: ExtraInt, Int: n}, nil
	default:
		return Extra{Key: key, Kind: ExtraString, String: raw}, nil
	}
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true", "t", "1", "yes", "y":
		return true, true
	case "false", "f", "0", "no", "n":
		return false, true
	}
	return false, false
}

func (d *Descriptor) validate(line string) error {
	switch d.Verb {
	case VerbStart:
		if d.Action == "" && d.Data == "" && d.Component.IsZero() {
			return malformed(line, "start requires -a, -d or -n")
		}
	case VerbStartService:
		if d.Action == "" && d.Component.IsZero() {
			return malformed(line, "startservice requires -n or -a")
		}
	case VerbBroadcast:
		if d.Action == "" {
			return malformed(line, "broadcast requires -a")
		}
	}
	return nil
}

// String encodes the descriptor back into command grammar. Parsing the
// result yields an equal descriptor.
func (d *Descriptor) String() string {
	if d.Verb == VerbVersion {
		return string(VerbVersion)
	}

	parts := []string{string(d.Verb)}
	add := func(flag, v string) {
		if v != "" {
			parts = append(parts, flag, Quote(v))
		}
	}
	add("-a", d.Action)
	add("-d", d.Data)
	add("-t", d.MimeType)
	for _, c := range d.Categories {
		add("-c", c)
	}
	add("-n", d.Component.String())
	for _, e := range d.Extras {
		flag := "--es"
		switch e.Kind {
		case ExtraBool:
			flag = "-ez"
		case ExtraInt:
			flag = "-ei"
		}
		parts = append(parts, flag, Quote(e.Key), Quote(e.Value()))
	}
	add("-f", d.Flags)
	add("-p", d.Package)
	return strings.Join(parts, " ")
}

// Intent renders the descriptor the way the `am` tool prints an intent,
// e.g. "Intent { act=VIEW dat=https://example.com }".
func (d *Descriptor) Intent() string {
	var fields []string
	if d.Action != "" {
		fields = append(fields, "act="+d.Action)
	}
	if len(d.Categories) > 0 {
		fields = append(fields, "cat=["+strings.Join(d.Categories, ",")+"]")
	}
	if d.Data != "" {
		fields = append(fields, "dat="+d.Data)
	}
	if d.MimeType != "" {
		fields = append(fields, "typ="+d.MimeType)
	}
	if d.Flags != "" {
		fields = append(fields, "flg="+d.Flags)
	}
	if d.Package != "" {
		fields = append(fields, "pkg="+d.Package)
	}
	if !d.Component.IsZero() {
		fields = append(fields, "cmp="+d.Component.String())
	}
	if len(d.Extras) > 0 {
		fields = append(fields, "(has extras)")
	}
	return "Intent { " + strings.Join(fields, " ") + " }"
}
