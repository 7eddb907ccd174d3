package diff

import (
	"path/filepath"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
)

// Language returns the chroma lexer name for a file path, or "" when the
// file type is unknown. Lenses use it to tell the model what it is reading.
func Language(path string) string {
	lexer := lexerForFile(path)
	if lexer == nil {
		return ""
	}
	return lexer.Config().Name
}

func lexerForFile(filename string) chroma.Lexer {
	lexer := lexers.Match(filepath.Base(filename))
	if lexer == nil {
		ext := filepath.Ext(filename)
		if ext != "" {
			lexer = lexers.Match("file" + ext)
		}
	}
	return lexer
}
