// Package artifact provides core.ArtifactStore implementations. The A2A
// proxy saves files returned by remote peers here.
package artifact
