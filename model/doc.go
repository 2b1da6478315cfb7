// Package model defines the provider independent generation interface used by
// flows and the evaluator, plus a scriptable MockModel.
//
// Provider adapters live in sub packages (openai, anthropic). The openai
// adapter also serves any OpenAI compatible endpoint such as Cerebras by
// pointing it at a different base URL.
package model
