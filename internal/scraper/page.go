package scraper

import "context"

// Page is the slice of a browser tab the portal flow needs
type Page interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	// Find returns the elements matching an XPath expression, possibly none
	Find(ctx context.Context, xpath string) ([]Element, error)
	// Text returns the rendered text of the document body
	Text(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	// Screenshot returns a full-page PNG
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Element is a DOM node handle returned by Page.Find
type Element interface {
	// Key identifies the underlying node across Find calls
	Key() string
	Attr(name string) string
	Text(ctx context.Context) (string, error)
	Visible(ctx context.Context) (bool, error)
	Enabled(ctx context.Context) (bool, error)
	// Click dispatches a real mouse click at the element
	Click(ctx context.Context) error
	// ScriptClick calls element.click() from page script
	ScriptClick(ctx context.Context) error
	// Fill clears the field and types value into it
	Fill(ctx context.Context, value string) error
	PressEnter(ctx context.Context) error
	// Select sets a <select> element's value and fires its change event
	Select(ctx context.Context, value string) error
}

// Launcher starts a browser and returns its first tab
type Launcher interface {
	Launch(ctx context.Context) (Page, error)
}
