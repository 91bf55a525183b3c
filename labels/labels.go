// Package labels maps emission-context codes to human-readable categories.
package labels

import (
	"fmt"
	"strings"
)

// Context is an emission context. The zero value is Unknown.
type Context int

const (
	Unknown Context = iota
	WaitingForFood
	Isolated
	Brushing
)

// Code is the one-letter label used in dataset filenames and classifiers
type Code string

const (
	CodeWaitingForFood Code = "F"
	CodeIsolated       Code = "I"
	CodeBrushing       Code = "B"
)

// UnknownName is the category reported for codes outside the map
const UnknownName = "Unknown"

var names = map[Context]string{
	Unknown:        UnknownName,
	WaitingForFood: "Waiting For Food",
	Isolated:       "Isolated in Unfamiliar Environment",
	Brushing:       "Brushing",
}

var byCode = map[Code]Context{
	CodeWaitingForFood: WaitingForFood,
	CodeIsolated:       Isolated,
	CodeBrushing:       Brushing,
}

// All lists the known contexts in code order
func All() []Context {
	return []Context{WaitingForFood, Isolated, Brushing}
}

// Codes lists the known label codes
func Codes() []Code {
	return []Code{CodeWaitingForFood, CodeIsolated, CodeBrushing}
}

// Parse maps a code to its context. Unrecognized codes yield Unknown.
func Parse(code string) Context {
	return byCode[Code(strings.TrimSpace(code))]
}

// ParseCode is Parse for callers that must reject unknown codes
func ParseCode(code string) (Context, error) {
	c := Parse(code)
	if c == Unknown {
		return Unknown, fmt.Errorf("unknown label code %q", code)
	}
	return c, nil
}

// Lookup returns the category name for code, or "Unknown"
func Lookup(code string) string {
	return Parse(code).String()
}

func (c Context) String() string {
	if name, ok := names[c]; ok {
		return name
	}
	return UnknownName
}

// Code returns the label code, "" for Unknown
func (c Context) Code() Code {
	for code, ctx := range byCode {
		if ctx == c {
			return code
		}
	}
	return ""
}

// Known reports whether c is one of the closed set of contexts
func (c Context) Known() bool {
	return c != Unknown && names[c] != ""
}
