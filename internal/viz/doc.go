// Package viz renders runs and models for the terminal: styled summaries,
// substrate tables, sparklines and line plots of recorded series.
package viz
