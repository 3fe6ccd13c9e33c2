// Package wire decodes the line-delimited JSON call records sent by the
// instrumentation agent.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rcliao/callsig/internal/model"
)

// BreakLine ends a session the same way EOF does.
const BreakLine = "break connection"

// MaxReceiverLen is the longest receiver name kept verbatim.
const MaxReceiverLen = 90

// ErrSkipped marks records that are well formed but not worth learning, such
// as calls on anonymous receivers.
var ErrSkipped = errors.New("record skipped")

// MalformedError reports a line that could not be turned into a record.
type MalformedError struct {
	Line   string
	Reason string
	Err    error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed record: %s: %v", e.Reason, e.Err)
	}
	return "malformed record: " + e.Reason
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

// flexInt accepts both a JSON number and a numeric string; the empty string
// is zero.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return err
		}
		*f = flexInt(n)
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

// Bean is the JSON object of one line.
type Bean struct {
	MethodName string  `json:"method_name"`
	Argc       flexInt `json:"call_info_argc"`
	KwArgs     string  `json:"call_info_kw_args"`
	ArgsInfo   string  `json:"args_info"`
	Visibility string  `json:"visibility"`
	Path       string  `json:"path"`
	LineNo     int     `json:"lineno"`
	Receiver   string  `json:"receiver_name"`
	ReturnType string  `json:"return_type_name"`
}

type arg struct {
	param    model.ParameterInfo
	typ      string
	explicit bool
}

// Decode parses one line into a record.
func Decode(line []byte) (model.Record, error) {
	line = bytes.TrimSpace(line)
	var b Bean
	if err := json.Unmarshal(line, &b); err != nil {
		return model.Record{}, &MalformedError{Line: string(line), Reason: "json", Err: err}
	}
	rec, err := b.Record()
	if err != nil {
		var me *MalformedError
		if errors.As(err, &me) {
			me.Line = string(line)
		}
		return model.Record{}, err
	}
	return rec, nil
}

// Record converts the bean into a validated record.
func (b Bean) Record() (model.Record, error) {
	if strings.HasPrefix(b.Receiver, "#<") {
		return model.Record{}, fmt.Errorf("anonymous receiver %q: %w", b.Receiver, ErrSkipped)
	}
	if b.MethodName == "" || b.Receiver == "" || b.ReturnType == "" {
		return model.Record{}, &MalformedError{Reason: "missing method, receiver or return type"}
	}
	vis, err := model.ParseVisibility(strings.ToUpper(b.Visibility))
	if err != nil {
		return model.Record{}, &MalformedError{Reason: "visibility", Err: err}
	}
	args, err := parseArgs(b.ArgsInfo, int(b.Argc) == -1)
	if err != nil {
		return model.Record{}, &MalformedError{Reason: "args_info", Err: err}
	}
	if b.Argc != -1 {
		markExplicit(args, int(b.Argc), splitList(b.KwArgs, ","))
	}

	receiver := b.Receiver
	if len(receiver) > MaxReceiverLen {
		cut := MaxReceiverLen
		for cut > 0 && !utf8.RuneStart(receiver[cut]) {
			cut--
		}
		receiver = receiver[:cut] + "..."
	}
	rec := model.Record{
		Method: model.MethodInfo{
			Class:      model.ClassInfo{Gem: model.GemFromPath(b.Path), FQN: receiver},
			Name:       b.MethodName,
			Visibility: vis,
			Location:   &model.Location{Path: b.Path, LineNo: b.LineNo},
		},
		ReturnType: b.ReturnType,
	}
	for _, a := range args {
		rec.Params = append(rec.Params, a.param)
		if a.explicit {
			rec.ArgTypes = append(rec.ArgTypes, a.typ)
		} else {
			rec.ArgTypes = append(rec.ArgTypes, model.ImplicitArgType)
		}
	}
	if err := rec.Validate(); err != nil {
		return model.Record{}, &MalformedError{Reason: "record", Err: err}
	}
	return rec, nil
}

func splitList(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseArgs reads "MOD,type[,name];..." entries.
func parseArgs(info string, explicit bool) ([]arg, error) {
	var args []arg
	for i, item := range splitList(info, ";") {
		parts := strings.Split(item, ",")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("argument %d: %q", i, item)
		}
		mod, err := model.ParseModifier(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		typ := strings.TrimSpace(parts[1])
		if typ == "" {
			return nil, fmt.Errorf("argument %d: empty type", i)
		}
		var name string
		if len(parts) == 3 && strings.TrimSpace(parts[2]) != "nil" {
			name = strings.TrimSpace(parts[2])
		}
		args = append(args, arg{param: model.ParameterInfo{Name: name, Modifier: mod}, typ: typ, explicit: explicit})
	}
	return args, nil
}

// markExplicit decides which arguments the caller passed. Required, post and
// keyword-required parameters always are. Of the remaining positional count,
// optional parameters are filled first and the rest parameter takes what is
// left. A keyword parameter is explicit when its name is in kwArgs, or when
// kwArgs is not reported at all; a keyword-rest parameter is explicit when
// kwArgs holds names no keyword parameter claims.
func markExplicit(args []arg, argc int, kwArgs []string) {
	kw := make(map[string]bool, len(kwArgs))
	for _, k := range kwArgs {
		kw[k] = true
	}
	for i := range args {
		switch args[i].param.Modifier {
		case model.Required, model.Post:
			args[i].explicit = true
			argc--
		case model.KeywordRequired:
			args[i].explicit = true
			delete(kw, args[i].param.Name)
		case model.Keyword:
			if len(kwArgs) == 0 || kw[args[i].param.Name] {
				args[i].explicit = true
				delete(kw, args[i].param.Name)
			}
		}
	}
	for i := range args {
		if args[i].param.Modifier == model.KeywordRest {
			args[i].explicit = len(kw) > 0
		}
	}
	for _, mod := range []model.Modifier{model.Optional, model.Rest} {
		for i := range args {
			if argc <= 0 {
				return
			}
			if args[i].param.Modifier == mod {
				args[i].explicit = true
				argc--
			}
		}
	}
}
