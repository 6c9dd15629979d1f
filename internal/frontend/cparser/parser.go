// Package cparser is the default front-end. It parses C translation units
// with tree-sitter, follows #include directives, evaluates conditional
// compilation against the unit's defines, and replays declarations and
// references with clang-compatible USRs.
package cparser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	sitter "github.com/tree-sitter/go-tree-sitter"
	c "github.com/tree-sitter/tree-sitter-c/bindings/go"

	"github.com/mvp-joe/tuindex/internal/frontend"
)

var (
	_ frontend.Frontend        = (*Frontend)(nil)
	_ frontend.SymbolLocator   = (*Frontend)(nil)
	_ frontend.ReferenceFinder = (*Frontend)(nil)
	_ frontend.IncludeLister   = (*Frontend)(nil)
	_ frontend.ContentProvider = (*Frontend)(nil)
)

// SourceReader supplies file contents. The workspace plugs in a shared
// cache so headers are read once for all units.
type SourceReader interface {
	Read(path string) ([]byte, error)
}

type osReader struct{}

func (osReader) Read(path string) ([]byte, error) { return os.ReadFile(path) }

// Frontend parses C units. It is safe for concurrent use.
type Frontend struct {
	reader  SourceReader
	logger  *slog.Logger
	parsers *parserPool
}

// Option configures a Frontend.
type Option func(*Frontend)

// WithSourceReader sets where file contents come from.
func WithSourceReader(r SourceReader) Option {
	return func(f *Frontend) {
		f.reader = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Frontend) {
		f.logger = logger
	}
}

// New creates a C front-end.
func New(opts ...Option) *Frontend {
	f := &Frontend{
		reader:  osReader{},
		logger:  slog.New(slog.DiscardHandler),
		parsers: newParserPool(sitter.NewLanguage(c.Language())),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Parse reads and parses the file at path and every header it includes.
func (f *Frontend) Parse(ctx context.Context, path string, opts *frontend.CompileOptions) (frontend.Parsed, error) {
	if opts == nil {
		opts = &frontend.CompileOptions{}
	}
	path = filepath.Clean(path)

	files, err := f.load(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	tu := &translationUnit{owner: f, path: path, opts: opts}
	tu.replace(files)
	return tu, nil
}

// Reparse re-reads and re-parses every file of p, re-resolving includes.
// It also resumes a suspended unit.
func (f *Frontend) Reparse(ctx context.Context, p frontend.Parsed) error {
	tu, err := f.unit(p)
	if err != nil {
		return err
	}
	files, err := f.load(ctx, tu.path, tu.opts)
	if err != nil {
		return err
	}
	tu.replace(files)
	return nil
}

// Suspend releases the syntax trees and sources of p. The list of files
// is kept.
func (f *Frontend) Suspend(p frontend.Parsed) error {
	tu, err := f.unit(p)
	if err != nil {
		return err
	}
	tu.suspend()
	return nil
}

// Index replays p in translation order.
func (f *Frontend) Index(ctx context.Context, p frontend.Parsed, consumer frontend.Consumer) error {
	tu, err := f.unit(p)
	if err != nil {
		return err
	}
	files, err := tu.checkout()
	if err != nil {
		return err
	}
	defer closeFiles(files)

	w := newWalker(ctx, tu.opts, lookupOnly(files), consumer, nil)
	return w.run(tu.path)
}

// Files returns the paths of every file that belongs to p, main file first.
// It works on suspended units too.
func (f *Frontend) Files(p frontend.Parsed) ([]string, error) {
	tu, err := f.unit(p)
	if err != nil {
		return nil, err
	}
	return tu.filePaths(), nil
}

func (f *Frontend) SymbolAt(ctx context.Context, p frontend.Parsed, loc frontend.Location) (frontend.EntityInfo, bool, error) {
	return frontend.FindSymbolAt(ctx, f, p, loc)
}

func (f *Frontend) ReferencesInFile(ctx context.Context, p frontend.Parsed, usr, file string) ([]frontend.Location, error) {
	return frontend.FindReferencesInFile(ctx, f, p, usr, file)
}

func (f *Frontend) IncludesInFile(ctx context.Context, p frontend.Parsed, file string) ([]frontend.Inclusion, error) {
	return frontend.FindIncludesInFile(ctx, f, p, file)
}

// FileContents returns the text p was parsed from. Suspended units have no
// contents.
func (f *Frontend) FileContents(p frontend.Parsed, file string) ([]byte, bool) {
	tu, err := f.unit(p)
	if err != nil {
		return nil, false
	}
	return tu.contents(filepath.Clean(file))
}

func (f *Frontend) unit(p frontend.Parsed) (*translationUnit, error) {
	tu, ok := p.(*translationUnit)
	if !ok || tu.owner != f {
		return nil, frontend.ErrForeignParsed
	}
	return tu, nil
}

// load parses main and, following the active include directives, every
// header it reaches. Headers that cannot be read are skipped.
func (f *Frontend) load(ctx context.Context, main string, opts *frontend.CompileOptions) (map[string]*sourceFile, error) {
	files := make(map[string]*sourceFile)
	missing := make(map[string]bool)
	var mainErr error

	open := func(path string) (*sourceFile, bool) {
		if sf, ok := files[path]; ok {
			return sf, true
		}
		if missing[path] {
			return nil, false
		}
		sf, err := f.parseFile(path)
		if err != nil {
			missing[path] = true
			if path == main {
				mainErr = err
			}
			return nil, false
		}
		files[path] = sf
		return sf, true
	}

	w := newWalker(ctx, opts, open, frontend.ConsumerFuncs{}, f.logger)
	if err := w.run(main); err != nil {
		closeFiles(files)
		if mainErr != nil {
			return nil, mainErr
		}
		return nil, err
	}
	f.logger.Debug("loaded translation unit", "unit", main, "files", len(files))
	return files, nil
}

func (f *Frontend) parseFile(path string) (*sourceFile, error) {
	src, err := f.reader.Read(path)
	if err != nil {
		return nil, err
	}
	parser := f.parsers.Get()
	defer f.parsers.Put(parser)

	tree := parser.Parse(src, nil)
	if tree == nil {
		return nil, fmt.Errorf("failed to parse C file: %s", path)
	}
	return &sourceFile{path: path, src: src, tree: tree}, nil
}

// parserPool recycles tree-sitter parsers configured for C.
type parserPool struct {
	lang *sitter.Language
	pool sync.Pool
}

func newParserPool(lang *sitter.Language) *parserPool {
	p := &parserPool{lang: lang}
	p.pool.New = func() any {
		sp := sitter.NewParser()
		sp.SetLanguage(lang)
		return sp
	}
	return p
}

func (p *parserPool) Get() *sitter.Parser {
	return p.pool.Get().(*sitter.Parser)
}

func (p *parserPool) Put(sp *sitter.Parser) {
	sp.Reset()
	p.pool.Put(sp)
}
