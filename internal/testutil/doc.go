// Package testutil holds builders and fakes shared by package tests.
package testutil
