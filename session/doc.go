// Package session provides core.SessionStore implementations.
package session
