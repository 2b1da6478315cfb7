// Package evaluation grades answers with an LLM acting as judge.
package evaluation
