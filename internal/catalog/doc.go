// Package catalog holds the immutable table of items and the text fragments streamed for each.
// The table is read once at startup, either from the embedded default or from a YAML file.
package catalog
