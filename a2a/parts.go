package a2a

import (
	"github.com/a2aproject/a2a-go/a2a"

	"github.com/hupe1980/auditmesh/core"
)

const (
	dataKeyFunctionCall     = "function_call"
	dataKeyFunctionResponse = "function_response"
)

// toA2AParts converts core parts. Function calls and responses travel as
// data parts keyed by their kind.
func toA2AParts(parts []core.Part) []a2a.Part {
	out := make([]a2a.Part, 0, len(parts))

	for _, p := range parts {
		switch v := p.(type) {
		case core.TextPart:
			out = append(out, a2a.TextPart{Text: v.Text, Metadata: v.Metadata})
		case core.DataPart:
			out = append(out, a2a.DataPart{Data: v.Data, Metadata: v.Metadata})
		case core.FilePart:
			out = append(out, a2a.FilePart{File: toA2AFile(v.File), Metadata: v.Metadata})
		case core.FunctionCallPart:
			out = append(out, a2a.DataPart{Data: map[string]any{
				dataKeyFunctionCall: map[string]any{
					"id":        v.FunctionCall.ID,
					"name":      v.FunctionCall.Name,
					"arguments": v.FunctionCall.Arguments,
				},
			}})
		case core.FunctionResponsePart:
			resp := map[string]any{
				"id":       v.FunctionResponse.ID,
				"name":     v.FunctionResponse.Name,
				"response": v.FunctionResponse.Response,
			}
			if v.FunctionResponse.Error != "" {
				resp["error"] = v.FunctionResponse.Error
			}
			out = append(out, a2a.DataPart{Data: map[string]any{dataKeyFunctionResponse: resp}})
		}
	}

	return out
}

func toA2AFile(f core.FilePartFile) a2a.FilePartContent {
	meta := a2a.FileMeta{MimeType: f.MimeType, Name: f.Name}
	if f.URI != "" {
		return a2a.FileURI{FileMeta: meta, URI: f.URI}
	}
	return a2a.FileBytes{FileMeta: meta, Bytes: f.Bytes}
}

// fromA2AParts converts A2A parts to core parts. Unknown part kinds are
// dropped.
func fromA2AParts(parts []a2a.Part) []core.Part {
	out := make([]core.Part, 0, len(parts))

	for _, p := range parts {
		switch v := p.(type) {
		case a2a.TextPart:
			out = append(out, core.TextPart{Text: v.Text, Metadata: v.Metadata})
		case *a2a.TextPart:
			out = append(out, core.TextPart{Text: v.Text, Metadata: v.Metadata})
		case a2a.DataPart:
			out = append(out, core.DataPart{Data: v.Data, Metadata: v.Metadata})
		case *a2a.DataPart:
			out = append(out, core.DataPart{Data: v.Data, Metadata: v.Metadata})
		case a2a.FilePart:
			out = append(out, core.FilePart{File: fromA2AFile(v.File), Metadata: v.Metadata})
		case *a2a.FilePart:
			out = append(out, core.FilePart{File: fromA2AFile(v.File), Metadata: v.Metadata})
		}
	}

	return out
}

func fromA2AFile(f a2a.FilePartContent) core.FilePartFile {
	switch v := f.(type) {
	case a2a.FileBytes:
		return core.FilePartFile{Bytes: v.Bytes, MimeType: v.MimeType, Name: v.Name}
	case *a2a.FileBytes:
		return core.FilePartFile{Bytes: v.Bytes, MimeType: v.MimeType, Name: v.Name}
	case a2a.FileURI:
		return core.FilePartFile{URI: v.URI, MimeType: v.MimeType, Name: v.Name}
	case *a2a.FileURI:
		return core.FilePartFile{URI: v.URI, MimeType: v.MimeType, Name: v.Name}
	}
	return core.FilePartFile{}
}

// toCoreContent converts an inbound message into user content.
func toCoreContent(msg *a2a.Message) core.Content {
	role := core.RoleUser
	if msg.Role == a2a.MessageRoleAgent {
		role = core.RoleAssistant
	}
	return core.Content{Role: role, Parts: fromA2AParts(msg.Parts)}
}

// appendParts merges parts into acc. Consecutive text parts are joined so
// streamed chunks read as one text.
func appendParts(acc []core.Part, parts ...core.Part) []core.Part {
	for _, p := range parts {
		tp, ok := p.(core.TextPart)
		if ok && len(acc) > 0 {
			if last, ok := acc[len(acc)-1].(core.TextPart); ok {
				last.Text += tp.Text
				acc[len(acc)-1] = last
				continue
			}
		}
		acc = append(acc, p)
	}
	return acc
}

// partsText concatenates text parts without separators.
func partsText(parts []core.Part) string {
	var text string
	for _, p := range parts {
		if tp, ok := p.(core.TextPart); ok {
			text += tp.Text
		}
	}
	return text
}
