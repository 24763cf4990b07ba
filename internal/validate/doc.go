// Package validate checks flattened agents and unit metadata before a
// manifest is emitted. Every check runs to completion and all problems are
// reported together; there is no warning tier.
package validate
