// Package viz renders run results for the terminal: styled summaries with
// lipgloss and trajectory plots with asciigraph.
package viz
