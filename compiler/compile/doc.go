// Package compile provides the compile strategies that turn a rendered
// assembly into a loaded gen.Module.
//
// # Strategies
//
//   - Interpreter: evaluates the sources in memory with yaegi. Nothing is
//     written to disk and every startup compiles again.
//   - Plugin: writes the sources to a work directory, builds them with
//     "go build -buildmode=plugin" and opens the result. Artifacts are keyed
//     by a hash of the sources, so an unchanged configuration reuses the
//     plugin built by an earlier run.
//
// # Artifact Stores
//
// The plugin strategy records built artifacts in an ArtifactStore:
//
//	store, err := compile.OpenManifest(filepath.Join(dir, "manifest.msgpack"))
//	store, err := compile.OpenSQLite(filepath.Join(dir, "artifacts.db"))
//
// Plugin.Watch drops index entries whose artifact file disappears.
//
// # Diagnostics
//
// A rejected compile returns a *gen.CompileError whose diagnostics point at
// the generated file and line.
package compile
