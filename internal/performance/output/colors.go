package output

import (
	"github.com/fatih/color"
)

// ColorScheme defines the colors used for the elements of the console report.
type ColorScheme struct {
	Title   *color.Color
	Rule    *color.Color
	Name    *color.Color
	Value   *color.Color
	Success *color.Color
	Warn    *color.Color
	Error   *color.Color
	Dim     *color.Color
}

// DefaultColorScheme returns the default color scheme.
func DefaultColorScheme() *ColorScheme {
	s := &ColorScheme{
		Title:   color.New(color.Bold),
		Rule:    color.New(color.FgCyan),
		Name:    color.New(color.FgWhite),
		Value:   color.New(color.FgCyan),
		Success: color.New(color.FgGreen),
		Warn:    color.New(color.FgYellow),
		Error:   color.New(color.FgRed, color.Bold),
		Dim:     color.New(color.Faint),
	}
	for _, c := range s.all() {
		c.EnableColor()
	}
	return s
}

// NoColorScheme returns a color scheme with all colors disabled.
func NoColorScheme() *ColorScheme {
	s := DefaultColorScheme()
	for _, c := range s.all() {
		c.DisableColor()
	}
	return s
}

func (s *ColorScheme) all() []*color.Color {
	return []*color.Color{s.Title, s.Rule, s.Name, s.Value, s.Success, s.Warn, s.Error, s.Dim}
}
