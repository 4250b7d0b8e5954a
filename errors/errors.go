// Package errors classifies the failures adapters and the item core can report.
//
// Every error that crosses the adapter boundary is wrapped in an *Error carrying a
// Class. The poll engine decides what to do with a failure purely from its class:
// transient failures are retried on the next cycle, permanent failures take the
// adapter offline until an operator restarts it, and binding or type failures only
// discard the single binding or update concerned.
package errors

import (
	stderrors "errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Class of an error for handling purposes
type Class int

const (
	// ClassTransient is a temporary failure (timeout, reset, remote 5xx); retry next cycle.
	ClassTransient Class = iota
	// ClassConfig is missing or malformed configuration; the adapter refuses to start.
	ClassConfig
	// ClassPermanent is an unrecoverable failure; the adapter is degraded.
	ClassPermanent
	// ClassBinding is an item attribute that cannot be bound; the binding is dropped.
	ClassBinding
	// ClassType is a value incompatible with the item type; the update is dropped.
	ClassType
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassConfig:
		return "config"
	case ClassPermanent:
		return "permanent"
	case ClassBinding:
		return "binding"
	case ClassType:
		return "type"
	default:
		return "unknown"
	}
}

// Error is a classified error.
type Error struct {
	Class Class
	Op    string
	Err   error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %s", e.Class, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Op, e.Class, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Cause lets github.com/pkg/errors walk through classified errors.
func (e *Error) Cause() error {
	return e.Err
}

func classify(class Class, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: class, Op: op, Err: err}
}

// Config classifies err as a configuration error raised by op.
func Config(op string, err error) error { return classify(ClassConfig, op, err) }

// Transient classifies err as a transient error raised by op.
func Transient(op string, err error) error { return classify(ClassTransient, op, err) }

// Permanent classifies err as a permanent error raised by op.
func Permanent(op string, err error) error { return classify(ClassPermanent, op, err) }

// Binding classifies err as a binding error raised by op.
func Binding(op string, err error) error { return classify(ClassBinding, op, err) }

// Type classifies err as a type error raised by op.
func Type(op string, err error) error { return classify(ClassType, op, err) }

func Configf(op, format string, args ...interface{}) error {
	return Config(op, pkgerrors.Errorf(format, args...))
}

func Transientf(op, format string, args ...interface{}) error {
	return Transient(op, pkgerrors.Errorf(format, args...))
}

func Permanentf(op, format string, args ...interface{}) error {
	return Permanent(op, pkgerrors.Errorf(format, args...))
}

func Bindingf(op, format string, args ...interface{}) error {
	return Binding(op, pkgerrors.Errorf(format, args...))
}

func Typef(op, format string, args ...interface{}) error {
	return Type(op, pkgerrors.Errorf(format, args...))
}

// ClassOf returns the class of err. Errors that were never classified are
// treated as transient so that an unknown failure is retried rather than
// taking an adapter offline.
func ClassOf(err error) Class {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Class
	}
	return ClassTransient
}

func is(err error, class Class) bool {
	var e *Error
	return stderrors.As(err, &e) && e.Class == class
}

func IsConfig(err error) bool    { return is(err, ClassConfig) }
func IsTransient(err error) bool { return err != nil && ClassOf(err) == ClassTransient }
func IsPermanent(err error) bool { return is(err, ClassPermanent) }
func IsBinding(err error) bool   { return is(err, ClassBinding) }
func IsType(err error) bool      { return is(err, ClassType) }

// Wrap annotates err with a message, keeping its class.
func Wrap(err error, message string) error {
	return pkgerrors.Wrap(err, message)
}

// Wrapf annotates err with a formatted message, keeping its class.
func Wrapf(err error, format string, args ...interface{}) error {
	return pkgerrors.Wrapf(err, format, args...)
}

// New returns an unclassified error with a stack trace.
func New(message string) error {
	return pkgerrors.New(message)
}

// Errorf returns an unclassified formatted error with a stack trace.
func Errorf(format string, args ...interface{}) error {
	return pkgerrors.Errorf(format, args...)
}

// Is and As mirror the standard library so callers need only this package.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target interface{}) bool { return stderrors.As(err, target) }
