// Package errors provides examples of structured error handling in gridetl.
package errors_test

import (
	"fmt"
	"io"

	"github.com/ajitpratap0/gridetl/pkg/errors"
)

// Example demonstrates basic error creation and wrapping.
func Example() {
	err := errors.New(errors.ErrorTypeConfig, "missing required configuration from datasets.yaml: fetcher.remote").
		WithDetail("path", "fetcher.remote")

	fmt.Println(err.Error())

	// Output:
	// config: missing required configuration from datasets.yaml: fetcher.remote
}

// ExampleWrap shows how collaborator errors keep their cause.
func ExampleWrap() {
	err := errors.Wrap(io.ErrUnexpectedEOF, errors.ErrorTypeFile, "failed to read reference file").
		WithDetail("file", "precip.1982.json")

	if errors.IsType(err, errors.ErrorTypeFile) {
		fmt.Println("This is a file error")
	}

	if errors.Is(err, io.ErrUnexpectedEOF) {
		fmt.Println("Cause is preserved")
	}

	// Output:
	// This is a file error
	// Cause is preserved
}

// ExampleIsRetryable separates transient I/O from configuration mistakes.
func ExampleIsRetryable() {
	connErr := errors.New(errors.ErrorTypeConnection, "connection reset")
	cfgErr := errors.New(errors.ErrorTypeComponentNotFound, `fetcher "ftp" is not registered`)

	fmt.Println(errors.IsRetryable(connErr))
	fmt.Println(errors.IsRetryable(cfgErr))

	// Output:
	// true
	// false
}
