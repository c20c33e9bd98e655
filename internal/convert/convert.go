// Package convert turns downloaded report archives into CSV files. Each
// archive holds one or more XML report documents; their data records are
// flattened into rows with columns ordered by first appearance.
package convert

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"golang.org/x/sync/errgroup"
)

const (
	defaultDataDir = "data"
	defaultWorkers = 4
)

// recordNames lists the element names that carry one data row each. OASIS
// demand reports use REPORT_DATA; the others appear in older report layouts.
var recordNames = map[string]bool{
	"REPORT_DATA": true,
	"DataRow":     true,
	"row":         true,
	"record":      true,
}

// Converter extracts report records from ZIP archives and writes CSV.
type Converter struct {
	dataDir  string
	compress bool
	workers  int
}

// New creates a Converter with the given options applied.
func New(opts ...Option) *Converter {
	c := &Converter{
		dataDir: defaultDataDir,
		workers: defaultWorkers,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Option configures a Converter.
type Option func(*Converter)

// WithDataDir sets where CSV files are written.
func WithDataDir(dir string) Option {
	return func(c *Converter) { c.dataDir = dir }
}

// WithCompress enables gzip compression of the CSV output.
func WithCompress(compress bool) Option {
	return func(c *Converter) { c.compress = compress }
}

// WithWorkers sets the concurrency for converting multiple archives.
func WithWorkers(n int) Option {
	return func(c *Converter) { c.workers = n }
}

// Output describes one written CSV file.
type Output struct {
	CSVPath string
	Rows    int
	Cols    int
}

// table accumulates records across the XML members of an archive, keeping
// columns in first-seen order.
type table struct {
	columns []string
	seen    map[string]bool
	rows    []map[string]string
}

func newTable() *table {
	return &table{seen: make(map[string]bool)}
}

func (t *table) add(rec map[string]string, order []string) {
	for _, k := range order {
		if !t.seen[k] {
			t.seen[k] = true
			t.columns = append(t.columns, k)
		}
	}
	t.rows = append(t.rows, rec)
}

// ConvertArchive extracts all records from the archive's XML members and
// writes them as one CSV file in the data directory.
func (c *Converter) ConvertArchive(ctx context.Context, zipPath string) (*Output, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", filepath.Base(zipPath), err)
	}
	defer func() { _ = zr.Close() }()

	tbl := newTable()
	members := 0
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !strings.HasSuffix(strings.ToLower(f.Name), ".xml") {
			continue
		}
		members++

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open member %s: %w", f.Name, err)
		}
		n, err := parseRecords(tbl, rc)
		_ = rc.Close()
		if err != nil {
			slog.Warn("skipping unparseable report member", "member", f.Name, "error", err)
			continue
		}
		slog.Info("parsed report member", "member", f.Name, "records", n)
	}

	if members == 0 {
		return nil, fmt.Errorf("archive %s contains no XML members", filepath.Base(zipPath))
	}
	if len(tbl.rows) == 0 {
		return nil, fmt.Errorf("no records extracted from %s", filepath.Base(zipPath))
	}

	outPath := filepath.Join(c.dataDir, csvName(zipPath, c.compress))
	if err := c.writeCSV(outPath, tbl); err != nil {
		return nil, err
	}

	slog.Info("wrote csv", "path", outPath, "rows", len(tbl.rows), "columns", len(tbl.columns))
	return &Output{CSVPath: outPath, Rows: len(tbl.rows), Cols: len(tbl.columns)}, nil
}

// ConvertAll converts the given archives, at most workers at a time. A
// failed conversion is logged and skipped; the returned outputs cover the
// archives that succeeded. The error return is reserved for cancellation.
func (c *Converter) ConvertAll(ctx context.Context, zipPaths []string) ([]Output, error) {
	outputs := make([]*Output, len(zipPaths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for i, p := range zipPaths {
		i, p := i, p
		g.Go(func() error {
			out, err := c.ConvertArchive(ctx, p)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.Error("error converting archive", "archive", filepath.Base(p), "error", err)
				return nil
			}
			outputs[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var result []Output
	for _, o := range outputs {
		if o != nil {
			result = append(result, *o)
		}
	}
	return result, nil
}

// parseRecords streams one XML document into the table and reports how many
// records it contributed. Element names are matched by local name, which
// covers both namespaced and bare report documents.
func parseRecords(tbl *table, r io.Reader) (int, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charsetReader

	count := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("parse xml: %w", err)
		}

		se, ok := tok.(xml.StartElement)
		if !ok || !recordNames[se.Name.Local] {
			continue
		}

		rec, order, err := decodeRecord(dec, se)
		if err != nil {
			return count, fmt.Errorf("parse xml record: %w", err)
		}
		if len(rec) > 0 {
			tbl.add(rec, order)
			count++
		}
	}
}

// decodeRecord reads one record element: its attributes and the text of its
// direct children become the record's fields, in encounter order.
func decodeRecord(dec *xml.Decoder, start xml.StartElement) (map[string]string, []string, error) {
	fields := make(map[string]string)
	var order []string
	put := func(k, v string) {
		if v == "" {
			return
		}
		if _, ok := fields[k]; !ok {
			order = append(order, k)
		}
		fields[k] = v
	}

	for _, a := range start.Attr {
		put(a.Name.Local, a.Value)
	}

	var child string
	var text strings.Builder
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 1 {
				child = t.Name.Local
				text.Reset()
			}
		case xml.CharData:
			if depth == 1 && child != "" {
				text.Write(t)
			}
		case xml.EndElement:
			if depth == 0 {
				return fields, order, nil
			}
			if depth == 1 && child != "" {
				put(child, strings.TrimSpace(text.String()))
				child = ""
			}
			depth--
		}
	}
}

// csvName derives the output filename from the archive's: the chunk prefix
// and any UTC offset suffixes are dropped, so chunk_01_of_04_<base>.zip
// becomes <base>.csv.
func csvName(zipPath string, compress bool) string {
	base := filepath.Base(zipPath)
	if strings.HasPrefix(base, "chunk_") {
		if parts := strings.SplitN(base, "_", 5); len(parts) == 5 {
			base = parts[4]
		}
	}
	base = strings.TrimSuffix(base, ".zip")
	base = strings.ReplaceAll(base, "-0000", "")
	base += ".csv"
	if compress {
		base += ".gz"
	}
	return base
}

func (c *Converter) writeCSV(path string, tbl *table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}

	var w io.Writer = f
	var gz *gzip.Writer
	if c.compress {
		gz = gzip.NewWriter(f)
		w = gz
	}

	if err := writeTable(w, tbl); err != nil {
		_ = f.Close()
		return err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			_ = f.Close()
			return fmt.Errorf("close gzip: %w", err)
		}
	}
	return f.Close()
}

func writeTable(w io.Writer, tbl *table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tbl.columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	row := make([]string, len(tbl.columns))
	for _, rec := range tbl.rows {
		for i, col := range tbl.columns {
			row[i] = rec[col]
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// charsetReader decodes the single-byte encodings report documents
// occasionally declare. Latin-1 code points equal their byte values, so
// decoding is a direct byte-to-rune widening.
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(charset) {
	case "iso-8859-1", "latin-1", "latin1", "windows-1252", "cp1252":
		return &latin1Reader{r: bufio.NewReader(input)}, nil
	}
	return nil, fmt.Errorf("unsupported charset %q", charset)
}

type latin1Reader struct {
	r io.ByteReader
}

func (l *latin1Reader) Read(p []byte) (int, error) {
	if len(p) < utf8.UTFMax {
		return 0, io.ErrShortBuffer
	}
	n := 0
	for n <= len(p)-utf8.UTFMax {
		b, err := l.r.ReadByte()
		if err != nil {
			if n > 0 && err == io.EOF {
				return n, nil
			}
			return n, err
		}
		n += utf8.EncodeRune(p[n:], rune(b))
	}
	return n, nil
}
