package sandbox

import (
	"go/ast"
	"go/parser"
	"go/token"
	"path"
	"reflect"
	"strconv"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/convoserve/actionkernel/pkg/contracts"
)

// DefaultAllowedPackages is the fixed set of interpreter packages untrusted
// scripts may import. Anything touching the filesystem, network, process
// table or unsafe memory stays out.
func DefaultAllowedPackages() map[string]bool {
	return map[string]bool{
		"bytes":           true,
		"encoding/base64": true,
		"encoding/json":   true,
		"errors":          true,
		"fmt":             true,
		"math":            true,
		"math/rand":       true,
		"path":            true,
		"regexp":          true,
		"sort":            true,
		"strconv":         true,
		"strings":         true,
		"time":            true,
		"unicode":         true,
		"unicode/utf8":    true,
	}
}

// SDKExports exposes the bundle types to interpreted scripts under
// SDKImportPath.
func SDKExports() interp.Exports {
	return interp.Exports{
		SDKImportPath + "/sdk": {
			"Bundle": reflect.ValueOf((*Bundle)(nil)),
			"Event":  reflect.ValueOf((*contracts.Event)(nil)),
			"State":  reflect.ValueOf((*contracts.State)(nil)),
		},
	}
}

// RestrictedSymbols filters the stdlib symbol table down to the allow-list.
// Symbol table keys are "<import path>/<package name>".
func RestrictedSymbols(allowed map[string]bool) interp.Exports {
	out := interp.Exports{}
	for key, syms := range stdlib.Symbols {
		imp := key
		if idx := strings.LastIndex(key, "/"); idx >= 0 {
			imp = key[:idx]
		}
		if allowed[imp] {
			out[key] = syms
		}
	}
	return out
}

// ExtractImports statically extracts the import paths of a script without
// executing it. The source may omit its package clause.
func ExtractImports(source string) ([]string, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "action.go", WrapScript(source), parser.ImportsOnly)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(file.Imports))
	for _, imp := range file.Imports {
		p, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// LocalName canonicalizes a relative require path to its module name.
func LocalName(imp string) string {
	return path.Clean(strings.TrimPrefix(imp, "./"))
}

// stripLocalImports blanks the import specs naming local modules. Their
// declarations are evaluated into the interpreter directly, so the import
// must never reach yaegi's resolver.
func stripLocalImports(source string, locals map[string]bool) string {
	if len(locals) == 0 {
		return source
	}
	wrapped := WrapScript(source)
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "action.go", wrapped, parser.ImportsOnly)
	if err != nil {
		return wrapped
	}
	src := []byte(wrapped)
	tf := fset.File(file.Pos())
	for _, decl := range file.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.IMPORT {
			continue
		}
		for _, spec := range gen.Specs {
			imp, ok := spec.(*ast.ImportSpec)
			if !ok {
				continue
			}
			p, err := strconv.Unquote(imp.Path.Value)
			if err != nil || !locals[LocalName(p)] {
				continue
			}
			start, end := tf.Offset(imp.Pos()), tf.Offset(imp.End())
			if gen.Lparen == token.NoPos {
				// A single-spec declaration loses its import keyword too.
				start, end = tf.Offset(gen.Pos()), tf.Offset(gen.End())
			}
			blankRange(src[start:end])
		}
	}
	return string(src)
}

func blankRange(b []byte) {
	for i := range b {
		if b[i] != '\n' {
			b[i] = ' '
		}
	}
}

// WrapScript prepends a package clause when the script omits one.
func WrapScript(source string) string {
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "//") {
			continue
		}
		if strings.HasPrefix(trimmed, "package ") {
			return source
		}
		break
	}
	return "package main\n\n" + source
}
