package scraper

import (
	"fmt"
	"strings"
)

// ExtractionError means the dashboard loaded but no usage figure was found.
// The page screenshot and source are saved for inspection.
type ExtractionError struct {
	ScreenshotPath string
	HTMLPath       string
}

func (e *ExtractionError) Error() string {
	var paths []string
	if e.ScreenshotPath != "" {
		paths = append(paths, "screenshot "+e.ScreenshotPath)
	}
	if e.HTMLPath != "" {
		paths = append(paths, "html "+e.HTMLPath)
	}
	if len(paths) == 0 {
		return "could not find usage data on the page"
	}
	return fmt.Sprintf("could not find usage data on the page (debug %s)", strings.Join(paths, ", "))
}

// StepError is an automation failure in one state of the portal flow
type StepError struct {
	State      State
	Err        error
	Screenshot string // empty when the screenshot could not be taken
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.State, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
