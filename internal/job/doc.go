// Package job defines the types shared by the render/extract engine: the
// per-call payloads, wait policies, result shapes, the error taxonomy, and
// the collaborator interfaces (renderer, extractor, clock) the engine
// consumes.
package job
