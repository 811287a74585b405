// Package capture defines the flow-pair contract the Fingerprinter and the
// recon tools consume: a deserialized sequence of HTTP request/response
// pairs lifted from a traffic-interception proxy's capture file.
//
// Capture files are produced by an external proxy process (out of scope for
// this core per spec §1/§6); this package only reads them. The on-disk
// format is a self-describing gob stream of Flow records, one per captured
// exchange, so that Open can iterate fully-hydrated flow objects with no
// subprocess call into a proxy CLI.
package capture

import (
	"encoding/gob"
	"fmt"
	"os"
)

// Flow is one captured HTTP exchange.
type Flow struct {
	Method          string
	URL             string
	RequestHeaders  map[string][]string
	RequestBody     []byte
	ResponseStatus  int
	ResponseHeaders map[string][]string
	ResponseBody    []byte
}

// InvalidCaptureError indicates the capture file could not be deserialized.
type InvalidCaptureError struct {
	Path string
	Err  error
}

func (e *InvalidCaptureError) Error() string {
	return fmt.Sprintf("invalid capture file %s: %v", e.Path, e.Err)
}

func (e *InvalidCaptureError) Unwrap() error { return e.Err }

// EmptyCaptureError indicates a capture file was parseable but contained
// zero flows. An empty capture MUST NOT produce a valid fingerprint.
type EmptyCaptureError struct {
	Path string
}

func (e *EmptyCaptureError) Error() string {
	return fmt.Sprintf("capture file %s contains zero flows", e.Path)
}

// Open deserializes a capture file into its flow sequence. It never shells
// out to a proxy CLI.
func Open(path string) ([]Flow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &InvalidCaptureError{Path: path, Err: err}
	}
	defer f.Close()

	var flows []Flow
	if err := gob.NewDecoder(f).Decode(&flows); err != nil {
		return nil, &InvalidCaptureError{Path: path, Err: err}
	}
	if len(flows) == 0 {
		return nil, &EmptyCaptureError{Path: path}
	}
	return flows, nil
}

// Write serializes flows to path in the same format Open reads. Exposed
// for the quick-fingerprint probe (Orchestrator §4.8 step 1) and for tests;
// writing captures from live proxy traffic is out of scope for this core.
func Write(path string, flows []Flow) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(flows)
}
