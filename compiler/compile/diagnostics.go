package compile

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/syssam/forge/compiler/gen"
)

// positionRe matches "file.go:12:3: message", "12:3: message" and
// "file.go:12: message".
var positionRe = regexp.MustCompile(`(?m)^\s*(?:(\S+?\.go):)?(\d+)(?::(\d+))?: (.+)$`)

// parseDiagnostics extracts positioned messages from compiler output. File
// names are reduced to their base name. When a message carries no file,
// fallback is used.
func parseDiagnostics(out, fallback string) []gen.Diagnostic {
	var diags []gen.Diagnostic
	for _, m := range positionRe.FindAllStringSubmatch(out, -1) {
		d := gen.Diagnostic{File: fallback, Message: strings.TrimSpace(m[4])}
		if m[1] != "" {
			d.File = filepath.Base(m[1])
		}
		d.Line, _ = strconv.Atoi(m[2])
		if m[3] != "" {
			d.Column, _ = strconv.Atoi(m[3])
		}
		diags = append(diags, d)
	}
	return diags
}

// contentKey hashes everything that affects the compiled artifact.
func contentKey(req *gen.CompileRequest) string {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	write(runtime.Version())
	write(req.Assembly)
	write(req.PackageName)
	files := append([]gen.SourceFile(nil), req.Files...)
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	for _, f := range files {
		write(f.Name)
		h.Write(f.Content)
		h.Write([]byte{0})
	}
	for _, ref := range req.References {
		write(ref.PkgPath)
	}
	return hex.EncodeToString(h.Sum(nil))
}
