package util

import (
	"strconv"
	"strings"
)

// KeywordArgs splits `key=value` arguments into a map. A bare argument is
// stored under the empty key.
func KeywordArgs(args []string) map[string]string {
	ret := map[string]string{}
	for _, arg := range args {
		p := strings.SplitN(arg, "=", 2)
		if len(p) == 2 {
			ret[strings.TrimSpace(p[0])] = strings.TrimSpace(p[1])
		} else {
			ret[""] = p[0]
		}
	}
	return ret
}

// ParseArg converts a textual value into the closest item value: a number, a
// boolean or else the string itself.
func ParseArg(value string) interface{} {
	if num, err := strconv.ParseFloat(value, 64); err == nil {
		return num
	}
	switch strings.ToLower(value) {
	case "true", "on", "yes":
		return true
	case "false", "off", "no":
		return false
	}
	return value
}

// ParseArgs splits a command line into a command and typed keyword fields.
func ParseArgs(args []string) (string, map[string]interface{}) {
	kwargs := KeywordArgs(args)
	command := ""
	fields := map[string]interface{}{}
	for field, value := range kwargs {
		if field == "" {
			command = value
		} else {
			fields[field] = ParseArg(value)
		}
	}
	return command, fields
}

// IsTrue reports whether an attribute value reads as yes.
func IsTrue(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on", "y":
		return true
	}
	return false
}
