package parley

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/parley-ls/parley/analysis"
	"github.com/parley-ls/parley/jsonrpc"
	"github.com/parley-ls/parley/protocol"
)

// Feature handlers are thin translators: unmarshal params, resolve the
// document's snapshot handle, query the engine, hand back wire types. A
// request against a document that is not open, has no resolvable handle, or
// hits an engine failure answers null rather than an error; cancellation
// propagates so the dispatch layer can answer with the cancellation code.

// resolveFeature fetches the snapshot handle for a feature request, or nil
// if the document can't be analyzed right now.
func (s *Server) resolveFeature(uri protocol.DocumentURI) analysis.Handle {
	if s.engine == nil || s.docs.Get(uri) == nil {
		return nil
	}
	return s.docs.ResolveHandleFor(uri)
}

// featureResult normalizes an engine response: cancellations propagate,
// other failures degrade to null.
func (s *Server) featureResult(ctx *Context, method string, result interface{}, err error) (interface{}, error) {
	if err == nil {
		return result, nil
	}
	if errors.Is(err, context.Canceled) {
		return nil, err
	}
	ctx.Logger().Warn("engine query failed", "method", method, "error", err)
	return nil, nil
}

func (s *Server) handleHover(ctx *Context, params jsonrpc.RawMessage) (interface{}, error) {
	var p protocol.HoverParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
	}
	h := s.resolveFeature(p.TextDocument.URI)
	if h == nil {
		return nil, nil
	}
	result, err := s.engine.Hover(ctx, h, p.Position)
	return s.featureResult(ctx, protocol.MethodHover, result, err)
}

func (s *Server) handleCompletion(ctx *Context, params jsonrpc.RawMessage) (interface{}, error) {
	var p protocol.CompletionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
	}
	h := s.resolveFeature(p.TextDocument.URI)
	if h == nil {
		return nil, nil
	}
	items, err := s.engine.Completion(ctx, h, p.Position)
	if err != nil {
		return s.featureResult(ctx, protocol.MethodCompletion, nil, err)
	}
	return &protocol.CompletionList{IsIncomplete: false, Items: items}, nil
}

func (s *Server) handleDefinition(ctx *Context, params jsonrpc.RawMessage) (interface{}, error) {
	var p protocol.DefinitionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
	}
	h := s.resolveFeature(p.TextDocument.URI)
	if h == nil {
		return nil, nil
	}
	locs, err := s.engine.Definition(ctx, h, p.Position)
	return s.featureResult(ctx, protocol.MethodDefinition, locs, err)
}

func (s *Server) handleReferences(ctx *Context, params jsonrpc.RawMessage) (interface{}, error) {
	var p protocol.ReferenceParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
	}
	h := s.resolveFeature(p.TextDocument.URI)
	if h == nil {
		return nil, nil
	}
	locs, err := s.engine.References(ctx, h, p.Position, p.Context.IncludeDeclaration)
	return s.featureResult(ctx, protocol.MethodReferences, locs, err)
}

func (s *Server) handleRename(ctx *Context, params jsonrpc.RawMessage) (interface{}, error) {
	var p protocol.RenameParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
	}
	h := s.resolveFeature(p.TextDocument.URI)
	if h == nil {
		return nil, nil
	}
	edit, err := s.engine.Rename(ctx, h, p.Position, p.NewName)
	return s.featureResult(ctx, protocol.MethodRename, edit, err)
}

func (s *Server) handleDocumentSymbol(ctx *Context, params jsonrpc.RawMessage) (interface{}, error) {
	var p protocol.DocumentSymbolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
	}
	h := s.resolveFeature(p.TextDocument.URI)
	if h == nil {
		return nil, nil
	}
	syms, err := s.engine.DocumentSymbols(ctx, h)
	return s.featureResult(ctx, protocol.MethodDocumentSymbol, syms, err)
}
