package server

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/vcokltfre/vvm/asm"
	"github.com/vcokltfre/vvm/lib/natives"
	"github.com/vcokltfre/vvm/pkg/bytecode"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "vvm-lsp"

// LspServer provides editor features for vvm assembly (.vasm) files.
type LspServer struct {
	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
	log     commonlog.Logger
}

// NewLSP creates a new assembly language server.
func NewLSP() *LspServer {
	s := &LspServer{
		docs:    make(map[string]string),
		version: "0.1.0",
		log:     commonlog.GetLogger("vvm.lsp"),
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
		TextDocumentReferences: s.textDocumentReferences,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	s.log.Info("vvm LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{" "},
	}

	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true
	capabilities.ReferencesProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	return complete(text, params.Position), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	return hover(text, params.Position), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}
	if loc := definition(uri, text, params.Position); loc != nil {
		return loc, nil
	}
	return nil, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}
	return references(uri, text, params.Position, params.Context.IncludeDeclaration), nil
}

// --- Assembly-backed logic ---

// complete offers mnemonics for the first word on a line, labels after a
// branch mnemonic and native names after CALLNATIVE.
func complete(text string, pos protocol.Position) []protocol.CompletionItem {
	before := lineBefore(text, pos)
	fields := strings.Fields(before)
	open := before == "" || !isSpace(before[len(before)-1])

	if len(fields) == 0 || (len(fields) == 1 && open) {
		prefix := ""
		if len(fields) == 1 {
			prefix = fields[0]
		}
		if strings.HasPrefix(prefix, "#") {
			return nil
		}
		return completeMnemonics(prefix)
	}

	op, ok := bytecode.LookupMnemonic(strings.ToUpper(fields[0]))
	if !ok || len(fields) > 2 || (len(fields) == 2 && !open) {
		return nil
	}
	prefix := ""
	if len(fields) == 2 {
		prefix = fields[1]
	}

	switch {
	case op.IsBranch():
		u := asm.ParseUnit(text)
		names := make([]string, 0, len(u.Labels))
		for name := range u.Labels {
			names = append(names, name)
		}
		sort.Strings(names)
		return completeNames(names, prefix, protocol.CompletionItemKindReference, "label")
	case op == bytecode.OpCallNative:
		return completeNames(natives.Names(), prefix, protocol.CompletionItemKindFunction, "native")
	default:
		return nil
	}
}

func completeMnemonics(prefix string) []protocol.CompletionItem {
	ops := bytecode.AllOpcodes()
	sort.Slice(ops, func(i, j int) bool { return ops[i].String() < ops[j].String() })

	var items []protocol.CompletionItem
	upper := strings.ToUpper(prefix)
	for _, op := range ops {
		name := op.String()
		if !strings.HasPrefix(name, upper) {
			continue
		}
		kind := protocol.CompletionItemKindKeyword
		detail := signature(op)
		items = append(items, protocol.CompletionItem{
			Label:      name,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &name,
		})
	}
	return items
}

func completeNames(names []string, prefix string, kind protocol.CompletionItemKind, detail string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	for _, name := range names {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		k, d, n := kind, detail, name
		items = append(items, protocol.CompletionItem{
			Label:      name,
			Kind:       &k,
			Detail:     &d,
			InsertText: &n,
		})
	}
	return items
}

// hover describes the mnemonic or label under the cursor.
func hover(text string, pos protocol.Position) *protocol.Hover {
	u := asm.ParseUnit(text)
	st, onOperand, ok := statementAt(u, pos)
	if !ok {
		return nil
	}

	var b strings.Builder
	switch {
	case !onOperand:
		fmt.Fprintf(&b, "**%s** `0x%02X`\n\n%s", st.Op, byte(st.Op), signature(st.Op))
	case st.Op.IsBranch() || st.Op == bytecode.OpLabel:
		addr, ok := u.Program.Lookup(st.Operand)
		if !ok {
			return nil
		}
		fmt.Fprintf(&b, "**label** `%s` → %04d", st.Operand, addr)
	default:
		return nil
	}

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

// signature renders an opcode's operand shape and net stack effect.
func signature(op bytecode.Opcode) string {
	effect := op.StackEffect()
	if effect == "" {
		effect = "0"
	}
	if shape := op.Operand(); shape != bytecode.OperandNone {
		return fmt.Sprintf("operand %s, stack %s", shape, effect)
	}
	return "stack " + effect
}

// definition locates the LABEL that binds the label operand under the cursor.
func definition(uri protocol.DocumentUri, text string, pos protocol.Position) []protocol.Location {
	u := asm.ParseUnit(text)
	name, ok := labelAt(u, pos)
	if !ok {
		return nil
	}
	def, ok := u.Labels[name]
	if !ok {
		return nil
	}
	return []protocol.Location{{URI: uri, Range: span(def, len(name))}}
}

// references lists every branch to the label under the cursor.
func references(uri protocol.DocumentUri, text string, pos protocol.Position, includeDecl bool) []protocol.Location {
	u := asm.ParseUnit(text)
	name, ok := labelAt(u, pos)
	if !ok {
		return nil
	}

	var locations []protocol.Location
	for _, st := range u.Statements {
		if st.Operand != name {
			continue
		}
		if st.Op.IsBranch() || (includeDecl && st.Op == bytecode.OpLabel) {
			locations = append(locations, protocol.Location{URI: uri, Range: span(st.OperandPos, len(name))})
		}
	}
	return locations
}

// labelAt returns the label named by the operand under the cursor.
func labelAt(u *asm.Unit, pos protocol.Position) (string, bool) {
	st, onOperand, ok := statementAt(u, pos)
	if !ok || !onOperand || !(st.Op.IsBranch() || st.Op == bytecode.OpLabel) {
		return "", false
	}
	return st.Operand, true
}

// statementAt finds the statement under the cursor and whether the cursor is
// on its operand rather than its mnemonic.
func statementAt(u *asm.Unit, pos protocol.Position) (asm.Statement, bool, bool) {
	line := int(pos.Line) + 1
	col := int(pos.Character) + 1
	for _, st := range u.Statements {
		if st.Pos.Line != line {
			continue
		}
		if st.Operand != "" && col >= st.OperandPos.Column && col <= st.OperandPos.Column+len(st.Operand) {
			return st, true, true
		}
		if col >= st.Pos.Column && col <= st.Pos.Column+len(st.Mnemonic) {
			return st, false, true
		}
	}
	return asm.Statement{}, false, false
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	diagnostics := diagnose(text)
	s.log.Debugf("%s: %d diagnostics", uri, len(diagnostics))

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

// diagnose reports every syntax error in text, each spanning the token it
// points at.
func diagnose(text string) []protocol.Diagnostic {
	u := asm.ParseUnit(text)
	diagnostics := []protocol.Diagnostic{}
	for _, e := range u.Errors {
		severity := protocol.DiagnosticSeverityError
		source := lspName
		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range:    span(e.Pos, tokenLen(text, e.Pos.Offset)),
			Severity: &severity,
			Source:   &source,
			Message:  e.Msg,
		})
	}
	return diagnostics
}

// --- Text helpers ---

// span converts a 1-based source position into an LSP range n bytes long.
func span(p asm.Position, n int) protocol.Range {
	start := protocol.Position{Line: protocol.UInteger(p.Line - 1), Character: protocol.UInteger(p.Column - 1)}
	end := start
	end.Character += protocol.UInteger(n)
	return protocol.Range{Start: start, End: end}
}

// tokenLen returns the length of the non-blank run starting at offset, at
// least 1.
func tokenLen(text string, offset int) int {
	n := 0
	for offset+n < len(text) && !isSpace(text[offset+n]) {
		n++
	}
	return max(n, 1)
}

// lineBefore returns the text of the cursor's line up to the cursor.
func lineBefore(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := strings.TrimSuffix(lines[pos.Line], "\r")
	col := min(int(pos.Character), len(line))
	return line[:col]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

func boolPtr(b bool) *bool {
	return &b
}
