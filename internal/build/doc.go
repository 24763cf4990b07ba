// Package build runs the compilation pipeline: load, graph, check, flatten,
// validate and emit. Stages up to flattening stop at their first error;
// validation reports every problem at once.
package build
