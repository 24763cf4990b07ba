// Package docs renders lineage documentation for a compiled project: a
// machine-readable lineage.json and a static index.html.
package docs
