package services

import (
	"fmt"
	"html"
)

// EmptySnapshot is served for a slide with nothing drawn on it
const EmptySnapshot = `<svg xmlns="http://www.w3.org/2000/svg" width="800" height="600" viewBox="0 0 800 600"></svg>`

// PlaceholderSnapshot renders a centered caption, in red for errors
func PlaceholderSnapshot(caption string, isError bool) string {
	fill := ""
	if isError {
		fill = ` fill="red"`
	}
	return fmt.Sprintf(
		`<svg xmlns="http://www.w3.org/2000/svg" width="800" height="600" viewBox="0 0 800 600">`+
			`<text x="400" y="300" font-family="Arial" font-size="24"%s text-anchor="middle" dominant-baseline="middle">%s</text></svg>`,
		fill, html.EscapeString(caption),
	)
}

// BlankSlideSnapshot is the placeholder of a never-saved slide
func BlankSlideSnapshot(order int) string {
	return PlaceholderSnapshot(fmt.Sprintf("Slide %d", order), false)
}
