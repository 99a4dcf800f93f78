package files

import "github.com/atlas2/coderagent/internal/fileops"

// Resolver is the files package's workspace path-resolution entry point.
// It is exactly fileops.Resolver: autoexec and the file.* tool executors
// must agree on what counts as "inside the workspace," so both reuse the
// one resolution rule rather than maintaining independent copies.
type Resolver = fileops.Resolver
